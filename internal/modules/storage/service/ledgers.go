package service

import (
	"context"
	"fmt"

	"trade_ledger/internal/models"

	"github.com/bytedance/sonic"
)

const ledgerColumns = `date_unix, trades, blotter, pnl, created_at, updated_at`

func (r *repo) GetDayLedger(ctx context.Context, dateUnix int64, forUpdate bool) (l *models.DayLedger, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("storage.GetDayLedger: %w", err)
		}
	}()
	query := `SELECT ` + ledgerColumns + ` FROM day_ledgers WHERE date_unix = $1`
	// sqlite сериализует писателей сам, FOR UPDATE там нет
	if forUpdate && r.dialect == dialectPostgres {
		query += ` FOR UPDATE`
	}
	return scanLedger(r.q.queryRow(ctx, query, dateUnix))
}

// SaveDayLedger upsert по date_unix.
func (r *repo) SaveDayLedger(ctx context.Context, l *models.DayLedger) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("storage.SaveDayLedger: %w", err)
		}
	}()
	trades, err := sonic.Marshal(l.Trades)
	if err != nil {
		return err
	}
	blotter, err := sonic.Marshal(l.Blotter)
	if err != nil {
		return err
	}
	pnl, err := sonic.Marshal(l.PnL)
	if err != nil {
		return err
	}
	_, err = r.q.exec(ctx, `INSERT INTO day_ledgers (`+ledgerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (date_unix) DO UPDATE SET
			trades = excluded.trades,
			blotter = excluded.blotter,
			pnl = excluded.pnl,
			updated_at = excluded.updated_at`,
		l.DateUnix, string(trades), string(blotter), string(pnl), toMs(l.CreatedAt), toMs(l.UpdatedAt))
	return err
}

// ListDayLedgers дни в диапазоне [fromUnix, toUnix] по возрастанию.
func (r *repo) ListDayLedgers(ctx context.Context, fromUnix, toUnix int64) (out []*models.DayLedger, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("storage.ListDayLedgers: %w", err)
		}
	}()
	rs, err := r.q.query(ctx,
		`SELECT `+ledgerColumns+` FROM day_ledgers WHERE date_unix >= $1 AND date_unix <= $2 ORDER BY date_unix`,
		fromUnix, toUnix)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	for rs.Next() {
		l, err := scanLedger(rs)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rs.Err()
}

func scanLedger(s row) (*models.DayLedger, error) {
	var (
		l                    models.DayLedger
		trades, blotter, pnl string
		createdAt, updatedAt int64
	)
	if err := s.Scan(&l.DateUnix, &trades, &blotter, &pnl, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := sonic.UnmarshalString(trades, &l.Trades); err != nil {
		return nil, fmt.Errorf("trades: %w", err)
	}
	if err := sonic.UnmarshalString(blotter, &l.Blotter); err != nil {
		return nil, fmt.Errorf("blotter: %w", err)
	}
	if err := sonic.UnmarshalString(pnl, &l.PnL); err != nil {
		return nil, fmt.Errorf("pnl: %w", err)
	}
	l.CreatedAt = fromMs(createdAt)
	l.UpdatedAt = fromMs(updatedAt)
	return &l, nil
}
