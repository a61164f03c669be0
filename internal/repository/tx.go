package repository

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// WithTransaction runs fn inside a read-committed transaction. If fn returns
// a nil error the transaction is committed and the returned afterCommit
// closure is invoked; if fn returns an error the transaction is rolled back
// and afterCommit is nil. Every caller that must publish to the bus only
// after a Message row is durably committed (Ingress, Scheduler, Retry
// Controller) goes through this single helper so that contract has exactly
// one implementation.
func WithTransaction(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) (afterCommit func(), err error)) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	afterCommit, fnErr := fn(tx)
	if fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return errors.Wrap(fnErr, "rollback also failed: "+rbErr.Error())
		}
		return fnErr
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}

	if afterCommit != nil {
		afterCommit()
	}
	return nil
}
