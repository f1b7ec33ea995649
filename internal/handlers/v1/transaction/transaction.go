package transaction

import (
	"time"

	"github.com/carson-networks/ledger-server/internal/ledger"
)

// Transaction is the API response model for a committed transaction.
// It is used only for responses, not for request bodies.
type Transaction struct {
	ID          string   `json:"id" doc:"Transaction UUID"`
	Description string   `json:"description" doc:"Free-form description"`
	FileRefs    []string `json:"fileRefs" doc:"Opaque references to supporting files"`
	CallerID    string   `json:"callerID,omitempty" doc:"Caller that submitted the transaction"`
	CreatedAt   string   `json:"createdAt" doc:"RFC3339 commit time"`
	Entries     []Entry  `json:"entries" doc:"Entries in submission order"`
}

// Entry is one leg of a committed transaction.
type Entry struct {
	ID        string `json:"id" doc:"Entry UUID"`
	AccountID string `json:"accountID" doc:"Account UUID"`
	Amount    string `json:"amount" doc:"Positive decimal amount"`
	Direction string `json:"direction" doc:"DEBIT or CREDIT"`
}

func toTransaction(tx *ledger.Transaction) Transaction {
	fileRefs := tx.FileRefs
	if fileRefs == nil {
		fileRefs = []string{}
	}
	out := Transaction{
		ID:          tx.ID.String(),
		Description: tx.Description,
		FileRefs:    fileRefs,
		CallerID:    tx.CallerID,
		CreatedAt:   tx.CreatedAt.Format(time.RFC3339Nano),
		Entries:     make([]Entry, len(tx.Entries)),
	}
	for i, e := range tx.Entries {
		out.Entries[i] = Entry{
			ID:        e.ID.String(),
			AccountID: e.AccountID.String(),
			Amount:    ledger.FormatAmount(e.Amount),
			Direction: string(e.Direction),
		}
	}
	return out
}
