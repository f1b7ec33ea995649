package ledger

import (
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
)

// Category is an account's accounting classification. It never changes after creation.
type Category string

const (
	CategoryAsset     Category = "ASSET"
	CategoryLiability Category = "LIABILITY"
	CategoryEquity    Category = "EQUITY"
	CategoryRevenue   Category = "REVENUE"
	CategoryExpense   Category = "EXPENSE"
)

// Categories lists every recognised category.
var Categories = []Category{
	CategoryAsset,
	CategoryLiability,
	CategoryEquity,
	CategoryRevenue,
	CategoryExpense,
}

func (c Category) Valid() bool {
	switch c {
	case CategoryAsset, CategoryLiability, CategoryEquity, CategoryRevenue, CategoryExpense:
		return true
	}
	return false
}

// ParseCategory accepts any letter case.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	return c, c.Valid()
}

// Direction is the side of an entry.
type Direction string

const (
	DirectionDebit  Direction = "DEBIT"
	DirectionCredit Direction = "CREDIT"
)

func (d Direction) Valid() bool {
	return d == DirectionDebit || d == DirectionCredit
}

// ParseDirection accepts any letter case.
func ParseDirection(s string) (Direction, bool) {
	d := Direction(strings.ToUpper(strings.TrimSpace(s)))
	return d, d.Valid()
}

// Account is a ledger bucket. Balance is a cached projection of its entries.
type Account struct {
	ID        uuid.UUID
	Name      string
	Category  Category
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EntryRequest is one proposed leg of a transaction.
type EntryRequest struct {
	AccountID uuid.UUID
	Amount    decimal.Decimal
	Direction Direction
}

// TransactionRequest is a proposed transaction as received from a caller.
type TransactionRequest struct {
	Description    string
	Entries        []EntryRequest
	IdempotencyKey string
	FileRefs       []string
	CallerID       string
}

// Transaction is an immutable, committed group of entries.
type Transaction struct {
	ID          uuid.UUID
	Description string
	FileRefs    []string
	CallerID    string
	CreatedAt   time.Time
	Entries     []Entry
}

// Entry is one committed leg of a transaction.
type Entry struct {
	ID            uuid.UUID
	TransactionID uuid.UUID
	AccountID     uuid.UUID
	Amount        decimal.Decimal
	Direction     Direction
	CreatedAt     time.Time
}
