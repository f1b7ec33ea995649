package idempotency

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"strings"

	"github.com/carson-networks/ledger-server/internal/ledger"
)

type canonicalEntry struct {
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"`
	Direction string `json:"direction"`
}

type canonicalRequest struct {
	Description string           `json:"description"`
	Entries     []canonicalEntry `json:"entries"`
	FileRefs    []string         `json:"file_refs"`
}

// Fingerprint hashes the parts of a request that define its meaning. Trailing
// zeros, entry order and file-reference order do not change the hash. Amounts
// are never rounded, so distinct values always hash apart.
// The idempotency key and caller identity are not part of it.
func Fingerprint(req ledger.TransactionRequest) string {
	c := canonicalRequest{
		Description: strings.TrimSpace(req.Description),
		Entries:     make([]canonicalEntry, len(req.Entries)),
		FileRefs:    slices.Clone(req.FileRefs),
	}
	for i, e := range req.Entries {
		c.Entries[i] = canonicalEntry{
			AccountID: e.AccountID.String(),
			Amount:    e.Amount.String(),
			Direction: strings.ToUpper(string(e.Direction)),
		}
	}
	return c.hash()
}

// RawEntry is an entry exactly as the caller sent it.
type RawEntry struct {
	AccountID string
	Amount    string
	Direction string
}

// RawRequest is a request body that could not be parsed into a
// ledger.TransactionRequest.
type RawRequest struct {
	Description string
	Entries     []RawEntry
	FileRefs    []string
}

// FingerprintRaw hashes a request that failed to parse. The strings are kept
// as sent apart from surrounding space and the case of the direction, so the
// same broken body always hashes alike and never matches a parsed request.
func FingerprintRaw(req RawRequest) string {
	c := canonicalRequest{
		Description: strings.TrimSpace(req.Description),
		Entries:     make([]canonicalEntry, len(req.Entries)),
		FileRefs:    slices.Clone(req.FileRefs),
	}
	for i, e := range req.Entries {
		c.Entries[i] = canonicalEntry{
			AccountID: strings.TrimSpace(e.AccountID),
			Amount:    strings.TrimSpace(e.Amount),
			Direction: strings.ToUpper(strings.TrimSpace(e.Direction)),
		}
	}
	return c.hash()
}

func (c canonicalRequest) hash() string {
	slices.SortFunc(c.Entries, func(a, b canonicalEntry) int {
		return cmp.Or(
			cmp.Compare(a.AccountID, b.AccountID),
			cmp.Compare(a.Direction, b.Direction),
			cmp.Compare(a.Amount, b.Amount),
		)
	})
	slices.Sort(c.FileRefs)
	if c.FileRefs == nil {
		c.FileRefs = []string{}
	}

	// Marshalling plain strings and slices cannot fail.
	body, _ := json.Marshal(c)
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
