package transaction

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/carson-networks/ledger-server/internal/idempotency"
	"github.com/carson-networks/ledger-server/internal/ledger"
	"github.com/carson-networks/ledger-server/internal/service"
)

type mockTransactionService struct {
	mock.Mock
}

func (m *mockTransactionService) CreateTransaction(ctx context.Context, req ledger.TransactionRequest) (*service.CreateResult, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*service.CreateResult)
	return result, args.Error(1)
}

// RejectMalformed returns cause unless the expectation sets an error.
func (m *mockTransactionService) RejectMalformed(ctx context.Context, key string, raw idempotency.RawRequest, cause error) (*service.CreateResult, error) {
	args := m.Called(ctx, key, raw, cause)
	result, _ := args.Get(0).(*service.CreateResult)
	if err := args.Error(1); err != nil {
		return result, err
	}
	if result != nil {
		return result, nil
	}
	return nil, cause
}

// newTestAPI registers the handler against a humatest API and returns it.
func newTestAPI(t *testing.T, svc transactionCreator) humatest.TestAPI {
	t.Helper()
	_, api := humatest.New(t)
	NewCreateTransactionHandler(svc).Register(api)
	return api
}

func balancedBody(debit, credit uuid.UUID) CreateTransactionBody {
	return CreateTransactionBody{
		Description: "Invoice 42",
		Entries: []EntryBody{
			{AccountID: debit.String(), Amount: "100.00", Direction: "DEBIT"},
			{AccountID: credit.String(), Amount: "100.00", Direction: "credit"},
		},
		FileRefs: []string{"s3://invoices/42.pdf"},
	}
}

// -- parseCreateTransactionInput unit tests --

func TestParseCreateTransactionInput_ValidInput(t *testing.T) {
	debit, credit := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	input := &CreateTransactionInput{
		IdempotencyKey: "  key-1 ",
		CallerID:       "billing",
		Body:           balancedBody(debit, credit),
	}

	req, err := parseCreateTransactionInput(input)
	require.NoError(t, err)
	assert.Equal(t, "key-1", req.IdempotencyKey)
	assert.Equal(t, "billing", req.CallerID)
	assert.Equal(t, "Invoice 42", req.Description)
	assert.Equal(t, []string{"s3://invoices/42.pdf"}, req.FileRefs)
	require.Len(t, req.Entries, 2)
	assert.Equal(t, debit, req.Entries[0].AccountID)
	assert.True(t, req.Entries[0].Amount.Equal(decimal.RequireFromString("100")))
	assert.Equal(t, ledger.DirectionCredit, req.Entries[1].Direction)
}

func TestParseCreateTransactionInput_Malformed(t *testing.T) {
	good := uuid.Must(uuid.NewV4()).String()
	cases := map[string]EntryBody{
		"accountID": {AccountID: "not-a-uuid", Amount: "1", Direction: "DEBIT"},
		"amount":    {AccountID: good, Amount: "ten", Direction: "DEBIT"},
		"direction": {AccountID: good, Amount: "1", Direction: "SIDEWAYS"},
	}
	for field, entry := range cases {
		input := &CreateTransactionInput{Body: CreateTransactionBody{Entries: []EntryBody{entry}}}
		_, err := parseCreateTransactionInput(input)
		assert.ErrorIs(t, err, ledger.ErrMalformedEntry, field)
		assert.Contains(t, err.Error(), "entry 0", field)
	}
}

// -- HTTP tests (full Huma stack via humatest) --

func TestHTTP_CreateTransaction_Created(t *testing.T) {
	debit, credit := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	txID := uuid.Must(uuid.NewV7())

	mockSvc := new(mockTransactionService)
	mockSvc.On("CreateTransaction", mock.Anything, mock.MatchedBy(func(req ledger.TransactionRequest) bool {
		return req.IdempotencyKey == "inv-42" &&
			req.CallerID == "billing" &&
			len(req.Entries) == 2 &&
			req.Entries[0].AccountID == debit
	})).Return(&service.CreateResult{TransactionID: txID}, nil)

	resp := newTestAPI(t, mockSvc).Post("/v1/transaction",
		"Idempotency-Key: inv-42",
		"X-Caller-ID: billing",
		balancedBody(debit, credit))

	assert.Equal(t, http.StatusCreated, resp.Code)
	var body CreateTransactionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, txID.String(), body.ID)
	assert.False(t, body.Replayed)
	mockSvc.AssertExpectations(t)
}

func TestHTTP_CreateTransaction_Replayed(t *testing.T) {
	txID := uuid.Must(uuid.NewV7())
	mockSvc := new(mockTransactionService)
	mockSvc.On("CreateTransaction", mock.Anything, mock.Anything).
		Return(&service.CreateResult{TransactionID: txID, Replayed: true}, nil)

	resp := newTestAPI(t, mockSvc).Post("/v1/transaction",
		"Idempotency-Key: inv-42",
		balancedBody(uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())))

	assert.Equal(t, http.StatusOK, resp.Code)
	var body CreateTransactionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, txID.String(), body.ID)
	assert.True(t, body.Replayed)
}

func TestHTTP_CreateTransaction_MissingEntries(t *testing.T) {
	mockSvc := new(mockTransactionService)

	// Huma schema validation rejects the request before the handler runs.
	resp := newTestAPI(t, mockSvc).Post("/v1/transaction", map[string]any{"description": "empty"})

	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	mockSvc.AssertNotCalled(t, "CreateTransaction")
}

func TestHTTP_CreateTransaction_InvalidAmount(t *testing.T) {
	mockSvc := new(mockTransactionService)
	body := balancedBody(uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4()))
	body.Entries[1].Amount = "not-a-decimal"
	mockSvc.On("RejectMalformed", mock.Anything, "", mock.Anything, mock.Anything).Return(nil, nil)

	resp := newTestAPI(t, mockSvc).Post("/v1/transaction", body)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "entry 1")
	mockSvc.AssertNotCalled(t, "CreateTransaction")
	mockSvc.AssertExpectations(t)
}

func TestHTTP_CreateTransaction_MalformedKeepsKeyAndRawFields(t *testing.T) {
	mockSvc := new(mockTransactionService)
	debit := uuid.Must(uuid.NewV4())
	body := balancedBody(debit, uuid.Must(uuid.NewV4()))
	body.Entries[0].Direction = "SIDEWAYS"

	mockSvc.On("RejectMalformed", mock.Anything, "inv-42",
		mock.MatchedBy(func(raw idempotency.RawRequest) bool {
			return raw.Description == "Invoice 42" &&
				len(raw.Entries) == 2 &&
				raw.Entries[0].AccountID == debit.String() &&
				raw.Entries[0].Direction == "SIDEWAYS"
		}),
		mock.MatchedBy(func(cause error) bool { return errors.Is(cause, ledger.ErrMalformedEntry) }),
	).Return(nil, ledger.NewError(ledger.KindIdempotencyKeyConflict, "key reused"))

	resp := newTestAPI(t, mockSvc).Post("/v1/transaction", "Idempotency-Key:  inv-42 ", body)

	assert.Equal(t, http.StatusConflict, resp.Code)
	mockSvc.AssertNotCalled(t, "CreateTransaction")
	mockSvc.AssertExpectations(t)
}

func TestHTTP_CreateTransaction_RejectionStatuses(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{ledger.NewError(ledger.KindMalformedEntry, "entry 0: amount must be positive"), http.StatusBadRequest},
		{ledger.NewError(ledger.KindImbalancedEntries, "debits 100.00 ≠ credits 90.00"), http.StatusUnprocessableEntity},
		{ledger.NewError(ledger.KindAccountNotFound, "account x does not exist"), http.StatusNotFound},
		{ledger.NewError(ledger.KindIdempotencyKeyConflict, "key reused"), http.StatusConflict},
		{ledger.NewError(ledger.KindLockTimeout, "timed out"), http.StatusServiceUnavailable},
		{ledger.WrapError(ledger.KindCommitFailure, errors.New("connection reset"), "committing"), http.StatusServiceUnavailable},
		{ledger.NewError(ledger.KindInvalidAccountCategory, "unrecognized"), http.StatusInternalServerError},
		{errors.New("database unavailable"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		mockSvc := new(mockTransactionService)
		mockSvc.On("CreateTransaction", mock.Anything, mock.Anything).Return(nil, tc.err)

		resp := newTestAPI(t, mockSvc).Post("/v1/transaction",
			balancedBody(uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())))

		assert.Equal(t, tc.code, resp.Code, tc.err.Error())
		mockSvc.AssertExpectations(t)
	}
}

func TestHTTP_CreateTransaction_RejectionNamesRule(t *testing.T) {
	mockSvc := new(mockTransactionService)
	mockSvc.On("CreateTransaction", mock.Anything, mock.Anything).
		Return(nil, ledger.NewError(ledger.KindImbalancedEntries, "debits 100.00 ≠ credits 90.00"))

	resp := newTestAPI(t, mockSvc).Post("/v1/transaction",
		balancedBody(uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())))

	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Contains(t, resp.Body.String(), "ImbalancedEntries")
}
