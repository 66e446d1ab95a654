package service

import (
	"context"
	"database/sql"
	"errors"
	"regexp"

	"trade_ledger/pkg/db"

	"github.com/jackc/pgx/v5"
)

// querier общий знаменатель pgx и database/sql. SQL пишется один раз
// с $n плейсхолдерами.
type querier interface {
	exec(ctx context.Context, query string, args ...any) (int64, error)
	query(ctx context.Context, query string, args ...any) (rows, error)
	queryRow(ctx context.Context, query string, args ...any) row
}

type rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

type row interface {
	Scan(dest ...any) error
}

// pgQuerier поверх pgxpool.Pool или pgx.Tx.
type pgQuerier struct {
	tx db.Transaction
}

func (q pgQuerier) exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := q.tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q pgQuerier) query(ctx context.Context, query string, args ...any) (rows, error) {
	return q.tx.Query(ctx, query, args...)
}

func (q pgQuerier) queryRow(ctx context.Context, query string, args ...any) row {
	return pgRow{q.tx.QueryRow(ctx, query, args...)}
}

type pgRow struct{ pgx.Row }

func (r pgRow) Scan(dest ...any) error {
	if err := r.Row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// sqlQuerier поверх *sql.DB или *sql.Tx (sqlite).
type sqlQuerier struct {
	tx db.SQLTransaction
}

var placeholder = regexp.MustCompile(`\$(\d+)`)

// rebind $1 -> ?1, sqlite понимает нумерованные параметры.
func rebind(query string) string {
	return placeholder.ReplaceAllString(query, "?$1")
}

func (q sqlQuerier) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := q.tx.ExecContext(ctx, rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q sqlQuerier) query(ctx context.Context, query string, args ...any) (rows, error) {
	r, err := q.tx.QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{r}, nil
}

func (q sqlQuerier) queryRow(ctx context.Context, query string, args ...any) row {
	return sqlRow{q.tx.QueryRowContext(ctx, rebind(query), args...)}
}

type sqlRows struct{ *sql.Rows }

func (r sqlRows) Close() { _ = r.Rows.Close() }

type sqlRow struct{ *sql.Row }

func (r sqlRow) Scan(dest ...any) error {
	if err := r.Row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return nil
}
