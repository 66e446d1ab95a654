package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"trade_ledger/pkg/logger"
)

// SQLTxManager то же, что PgTxManager, но поверх database/sql (sqlite).
type SQLTxManager struct {
	db *sql.DB
}

func NewSQLTxManager(db *sql.DB) *SQLTxManager {
	return &SQLTxManager{db: db}
}

func (m *SQLTxManager) Close() error {
	return m.db.Close()
}

func (m *SQLTxManager) Conn() SQLTransaction {
	return m.db
}

func (m *SQLTxManager) RunMaster(ctx context.Context, fn func(ctxTx context.Context, tx *sql.Tx) error) (err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx, err: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			logger.Error("%v", p)
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				logger.Warn("rollback failed: %v", rbErr)
			}
		} else {
			err = tx.Commit()
		}
	}()

	err = fn(ctx, tx)
	if err != nil {
		return fmt.Errorf("failed to run fn, err: %w", err)
	}

	return nil
}
