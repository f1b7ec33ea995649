package transaction

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"

	"github.com/carson-networks/ledger-server/internal/handlers/v1/apierr"
	"github.com/carson-networks/ledger-server/internal/idempotency"
	"github.com/carson-networks/ledger-server/internal/ledger"
	"github.com/carson-networks/ledger-server/internal/logging"
	"github.com/carson-networks/ledger-server/internal/service"
)

// EntryBody is one proposed leg of a transaction.
type EntryBody struct {
	AccountID string `json:"accountID" required:"true" doc:"Account UUID"`
	Amount    string `json:"amount" required:"true" doc:"Positive decimal amount, at most 4 decimal places"`
	Direction string `json:"direction" required:"true" doc:"DEBIT or CREDIT"`
}

// CreateTransactionBody is the request body for creating a transaction.
type CreateTransactionBody struct {
	Description string      `json:"description,omitempty" maxLength:"1024" doc:"Free-form description"`
	Entries     []EntryBody `json:"entries" required:"true" doc:"At least two entries whose debits equal their credits"`
	FileRefs    []string    `json:"fileRefs,omitempty" doc:"Opaque references to supporting files"`
}

// CreateTransactionInput is the Huma input for creating a transaction.
type CreateTransactionInput struct {
	IdempotencyKey string `header:"Idempotency-Key" maxLength:"255" doc:"Retries with the same key and body return the original outcome"`
	CallerID       string `header:"X-Caller-ID" maxLength:"255" doc:"Identifies the submitting system"`
	Body           CreateTransactionBody
}

// CreateTransactionResponse is the response body for creating a transaction.
type CreateTransactionResponse struct {
	ID       string `json:"id" doc:"Transaction UUID"`
	Replayed bool   `json:"replayed,omitempty" doc:"True when the outcome was stored by an earlier request with the same key"`
}

// CreateTransactionOutput is the Huma output for creating a transaction.
type CreateTransactionOutput struct {
	Status int
	Body   CreateTransactionResponse
}

// transactionCreator is the interface for creating transactions.
type transactionCreator interface {
	CreateTransaction(ctx context.Context, req ledger.TransactionRequest) (*service.CreateResult, error)
	RejectMalformed(ctx context.Context, key string, raw idempotency.RawRequest, cause error) (*service.CreateResult, error)
}

// CreateTransactionHandler handles POST /v1/transaction.
type CreateTransactionHandler struct {
	TransactionService transactionCreator
}

// NewCreateTransactionHandler creates a new CreateTransactionHandler.
func NewCreateTransactionHandler(svc transactionCreator) *CreateTransactionHandler {
	return &CreateTransactionHandler{TransactionService: svc}
}

// Register registers the create transaction endpoint with the Huma API.
func (h *CreateTransactionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-transaction",
		Method:        http.MethodPost,
		Path:          "/v1/transaction",
		Summary:       "Create transaction",
		Description:   "Posts a balanced set of entries as one atomic transaction.",
		Tags:          []string{"Transactions"},
		DefaultStatus: http.StatusCreated,
	}, h.handle)
}

// parseCreateTransactionInput turns the request into a ledger request. Fields
// that cannot be parsed are reported as malformed entries.
func parseCreateTransactionInput(input *CreateTransactionInput) (ledger.TransactionRequest, error) {
	req := ledger.TransactionRequest{
		Description:    input.Body.Description,
		FileRefs:       input.Body.FileRefs,
		IdempotencyKey: strings.TrimSpace(input.IdempotencyKey),
		CallerID:       strings.TrimSpace(input.CallerID),
		Entries:        make([]ledger.EntryRequest, len(input.Body.Entries)),
	}

	for i, e := range input.Body.Entries {
		accountID, err := uuid.FromString(e.AccountID)
		if err != nil {
			return req, ledger.NewError(ledger.KindMalformedEntry, "entry %d: invalid accountID %q", i, e.AccountID)
		}
		amount, err := decimal.NewFromString(e.Amount)
		if err != nil {
			return req, ledger.NewError(ledger.KindMalformedEntry, "entry %d: invalid amount %q", i, e.Amount)
		}
		direction, ok := ledger.ParseDirection(e.Direction)
		if !ok {
			return req, ledger.NewError(ledger.KindMalformedEntry, "entry %d: direction %q must be DEBIT or CREDIT", i, e.Direction)
		}
		req.Entries[i] = ledger.EntryRequest{
			AccountID: accountID,
			Amount:    amount,
			Direction: direction,
		}
	}
	return req, nil
}

func rawRequest(body CreateTransactionBody) idempotency.RawRequest {
	raw := idempotency.RawRequest{
		Description: body.Description,
		FileRefs:    body.FileRefs,
		Entries:     make([]idempotency.RawEntry, len(body.Entries)),
	}
	for i, e := range body.Entries {
		raw.Entries[i] = idempotency.RawEntry{AccountID: e.AccountID, Amount: e.Amount, Direction: e.Direction}
	}
	return raw
}

func (h *CreateTransactionHandler) handle(ctx context.Context, input *CreateTransactionInput) (*CreateTransactionOutput, error) {
	logData := logging.GetLogData(ctx)

	var stopTimer func()
	if logData != nil {
		logData.AddData("entryCount", len(input.Body.Entries))
		logData.AddData("idempotent", strings.TrimSpace(input.IdempotencyKey) != "")
		stopTimer = logData.AddTiming("createTransactionMs")
	}
	var result *service.CreateResult
	req, err := parseCreateTransactionInput(input)
	if err != nil {
		result, err = h.TransactionService.RejectMalformed(ctx, req.IdempotencyKey, rawRequest(input.Body), err)
	} else {
		result, err = h.TransactionService.CreateTransaction(ctx, req)
	}
	if stopTimer != nil {
		stopTimer()
	}
	if err != nil {
		if logData != nil {
			logData.AddData("rejection", string(ledger.KindOf(err)))
		}
		return nil, apierr.From(err, "failed to create transaction")
	}

	if logData != nil {
		logData.AddData("transactionID", result.TransactionID.String())
		logData.AddData("replayed", result.Replayed)
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	return &CreateTransactionOutput{
		Status: status,
		Body: CreateTransactionResponse{
			ID:       result.TransactionID.String(),
			Replayed: result.Replayed,
		},
	}, nil
}
