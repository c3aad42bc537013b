// Package postgres implements every store on PostgreSQL. Stores pick the
// transaction carried in ctx when there is one, so a service can span
// aggregates inside one RunInTx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	dErrors "membership/pkg/domain-errors"
	"membership/pkg/platform/sentinel"
	txcontext "membership/pkg/platform/tx"
)

const defaultTxTimeout = 5 * time.Second

// TxRunner opens database transactions and carries them in ctx.
type TxRunner struct {
	db      *sql.DB
	timeout time.Duration
}

func NewTxRunner(db *sql.DB) *TxRunner {
	return &TxRunner{db: db, timeout: defaultTxTimeout}
}

// RunInTx commits when fn returns nil and rolls back otherwise. A context
// that already carries a transaction joins it.
func (t *TxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txcontext.From(ctx); ok {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type base struct {
	db *sql.DB
}

func (b base) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return b.db
}

// translate maps driver errors onto sentinels. Both pgx and lib/pq error
// types are recognized since either driver may be configured.
func translate(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	code := ""
	var pgErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgErr):
		code = pgErr.Code
	case errors.As(err, &pqErr):
		code = string(pqErr.Code)
	}
	switch code {
	case "23505":
		return fmt.Errorf("%s: %w", op, sentinel.ErrConflict)
	case "P0001":
		return fmt.Errorf("%s: %w", op, sentinel.ErrImmutable)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// exactlyOne turns a zero-row conditional update into ErrInvalidState.
func exactlyOne(res sql.Result, err error, op string) error {
	if err != nil {
		return translate(err, op)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, sentinel.ErrInvalidState)
	}
	return nil
}

func collect[T any](rows *sql.Rows, err error, op string, scan func(*sql.Rows) (T, error)) ([]T, error) {
	if err != nil {
		return nil, translate(err, op)
	}
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return out, nil
}

// Stores bundles every PostgreSQL store over one pool.
type Stores struct {
	Tx              *TxRunner
	Accounts        *AccountStore
	Profiles        *ProfileStore
	RoleAssignments *RoleAssignmentStore
	Teams           *TeamStore
	Tags            *TagStore
	Changes         *ChangeStore
	Applications    *ApplicationStore
	Documents       *DocumentStore
	Consents        *ConsentStore
	Deletions       *DeletionStore
	Exports         *ExportStore
	Access          *AccessStore
}

func New(db *sql.DB) *Stores {
	b := base{db: db}
	return &Stores{
		Tx:              NewTxRunner(db),
		Accounts:        &AccountStore{b},
		Profiles:        &ProfileStore{b},
		RoleAssignments: &RoleAssignmentStore{b},
		Teams:           &TeamStore{b},
		Tags:            &TagStore{b},
		Changes:         &ChangeStore{b},
		Applications:    &ApplicationStore{b},
		Documents:       &DocumentStore{b},
		Consents:        &ConsentStore{b},
		Deletions:       &DeletionStore{b},
		Exports:         &ExportStore{b},
		Access:          &AccessStore{b},
	}
}
