package transaction

import (
	"context"

	"github.com/lib/pq"
	"github.com/stephenafamo/bob"
	"github.com/stephenafamo/bob/dialect/psql"
	"github.com/stephenafamo/bob/dialect/psql/dialect"
	"github.com/stephenafamo/bob/dialect/psql/im"

	"github.com/carson-networks/ledger-server/internal/ledger"
	"github.com/carson-networks/ledger-server/internal/storage"
)

var _ storage.TransactionWriter = (*Writer)(nil)

type Writer struct {
	tx bob.Executor
	Reader
}

func NewWriter(tx bob.Executor) *Writer {
	return &Writer{
		tx: tx,
		Reader: Reader{
			exec: tx,
		},
	}
}

// Insert writes the header row and then every entry in one statement.
func (w *Writer) Insert(ctx context.Context, tx *ledger.Transaction) error {
	fileRefs := tx.FileRefs
	if fileRefs == nil {
		fileRefs = []string{}
	}

	header := psql.Insert(
		im.Into(transactionsTable, "id", "description", "file_refs", "caller_id", "created_at"),
		im.Values(psql.Arg(tx.ID, tx.Description, pq.StringArray(fileRefs), tx.CallerID, tx.CreatedAt)),
	)
	if _, err := header.Exec(ctx, w.tx); err != nil {
		return err
	}
	if len(tx.Entries) == 0 {
		return nil
	}

	queryMods := []bob.Mod[*dialect.InsertQuery]{
		im.Into(entriesTable, "id", "transaction_id", "account_id", "amount", "direction", "position", "created_at"),
	}
	for i, e := range tx.Entries {
		queryMods = append(queryMods, im.Values(psql.Arg(e.ID, tx.ID, e.AccountID, e.Amount, string(e.Direction), i, tx.CreatedAt)))
	}
	_, err := psql.Insert(queryMods...).Exec(ctx, w.tx)
	return err
}
