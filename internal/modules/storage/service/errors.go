package service

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound  = errors.New("storage: not found")
	ErrDuplicate = errors.New("storage: duplicate key")
)

// mapConstraint приводит нарушение уникальности обоих драйверов к ErrDuplicate.
func mapConstraint(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return errors.Join(ErrDuplicate, err)
	}
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) && (sqErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return errors.Join(ErrDuplicate, err)
	}
	return err
}
