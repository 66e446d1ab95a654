package service

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"trade_ledger/internal/models"
	"trade_ledger/pkg/db"

	"github.com/jackc/pgx/v5"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// PositionFilter равенство по непустым полям.
type PositionFilter struct {
	Exchange        string
	Status          models.PositionStatus
	OpeningEvalDone *bool
}

// Repo операции хранилища. Внутри InTx все вызовы идут в одной транзакции.
type Repo interface {
	FindPositions(ctx context.Context, f PositionFilter) ([]*models.IncomingPosition, error)
	GetPosition(ctx context.Context, exchange, positionID string) (*models.IncomingPosition, error)
	LockPosition(ctx context.Context, exchange, positionID string) (*models.IncomingPosition, error)
	CreatePosition(ctx context.Context, p *models.IncomingPosition) error
	UpdatePosition(ctx context.Context, p *models.IncomingPosition) error
	DeletePosition(ctx context.Context, exchange, positionID string) error

	// GetDayLedger forUpdate блокирует строку дня до конца транзакции (postgres).
	GetDayLedger(ctx context.Context, dateUnix int64, forUpdate bool) (*models.DayLedger, error)
	SaveDayLedger(ctx context.Context, l *models.DayLedger) error
	ListDayLedgers(ctx context.Context, fromUnix, toUnix int64) ([]*models.DayLedger, error)

	UpsertAnnotation(ctx context.Context, a models.Annotation) error
	GetAnnotation(ctx context.Context, tradeID string) (*models.Annotation, error)
}

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

// Store persistence layer over postgres (pgx) or sqlite (database/sql).
type Store struct {
	dialect dialect
	pg      *db.PgTxManager
	sq      *db.SQLTxManager
}

func NewPostgres(ctx context.Context, dsn string) (*Store, error) {
	pool, err := db.NewPool(ctx, db.PoolConfig{DSN: dsn})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return &Store{dialect: dialectPostgres, pg: db.NewPgTxManager(pool)}, nil
}

// NewSQLite открывает файл в WAL-режиме с одним соединением.
func NewSQLite(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create data directory %s", dir)
		}
	}
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %s", path)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "ping sqlite %s", path)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)
	return &Store{dialect: dialectSQLite, sq: db.NewSQLTxManager(conn)}, nil
}

func (s *Store) Close() error {
	if s.pg != nil {
		s.pg.Close()
		return nil
	}
	return s.sq.Close()
}

// Repo вне транзакции. На sqlite с одним соединением нельзя звать его
// изнутри InTx.
func (s *Store) Repo() Repo {
	if s.dialect == dialectPostgres {
		return &repo{q: pgQuerier{tx: s.pg.Conn()}, dialect: s.dialect}
	}
	return &repo{q: sqlQuerier{tx: s.sq.Conn()}, dialect: s.dialect}
}

// InTx all-or-nothing: любая ошибка fn откатывает всё.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, r Repo) error) error {
	if s.dialect == dialectPostgres {
		return s.pg.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
			return fn(ctxTx, &repo{q: pgQuerier{tx: tx}, dialect: s.dialect})
		})
	}
	return s.sq.RunMaster(ctx, func(ctxTx context.Context, tx *sql.Tx) error {
		return fn(ctxTx, &repo{q: sqlQuerier{tx: tx}, dialect: s.dialect})
	})
}

// EnsureSchema локальный бутстрап, миграции вне этого сервиса.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.InTx(ctx, func(ctx context.Context, r Repo) error {
		q := r.(*repo).q
		for _, stmt := range schema {
			if _, err := q.exec(ctx, stmt); err != nil {
				return errors.Wrap(err, "ensure schema")
			}
		}
		return nil
	})
}

type repo struct {
	q       querier
	dialect dialect
}
