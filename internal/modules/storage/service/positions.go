package service

import (
	"context"
	"fmt"
	"strings"

	"trade_ledger/internal/models"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
)

const positionColumns = `id, exchange, position_id, symbol, side, entry_price, quantity, leverage,
	unrealized_pnl, mark_price, stop_loss, take_profit, status, opening_eval_done, metadata,
	raw_payload, close_payload, close_misses, first_missed_at, opened_at, created_at, updated_at`

func (r *repo) FindPositions(ctx context.Context, f PositionFilter) (out []*models.IncomingPosition, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("storage.FindPositions: %w", err)
		}
	}()

	var (
		where []string
		args  []any
	)
	if f.Exchange != "" {
		args = append(args, f.Exchange)
		where = append(where, fmt.Sprintf("exchange = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.OpeningEvalDone != nil {
		args = append(args, boolInt(*f.OpeningEvalDone))
		where = append(where, fmt.Sprintf("opening_eval_done = $%d", len(args)))
	}

	query := `SELECT ` + positionColumns + ` FROM incoming_positions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, id`

	rs, err := r.q.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	for rs.Next() {
		p, err := scanPosition(rs)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rs.Err()
}

func (r *repo) GetPosition(ctx context.Context, exchange, positionID string) (p *models.IncomingPosition, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("storage.GetPosition: %w", err)
		}
	}()
	return scanPosition(r.q.queryRow(ctx,
		`SELECT `+positionColumns+` FROM incoming_positions WHERE exchange = $1 AND position_id = $2`,
		exchange, positionID))
}

// LockPosition GetPosition для read-modify-write внутри InTx: на postgres
// строка блокируется до конца транзакции.
func (r *repo) LockPosition(ctx context.Context, exchange, positionID string) (p *models.IncomingPosition, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("storage.LockPosition: %w", err)
		}
	}()
	query := `SELECT ` + positionColumns + ` FROM incoming_positions WHERE exchange = $1 AND position_id = $2`
	if r.dialect == dialectPostgres {
		query += ` FOR UPDATE`
	}
	return scanPosition(r.q.queryRow(ctx, query, exchange, positionID))
}

func (r *repo) CreatePosition(ctx context.Context, p *models.IncomingPosition) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("storage.CreatePosition: %w", err)
		}
	}()
	args, err := positionArgs(p)
	if err != nil {
		return err
	}
	_, err = r.q.exec(ctx, `INSERT INTO incoming_positions (`+positionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		args...)
	return mapConstraint(err)
}

// UpdatePosition перезаписывает изменяемые поля по (exchange, position_id).
func (r *repo) UpdatePosition(ctx context.Context, p *models.IncomingPosition) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("storage.UpdatePosition: %w", err)
		}
	}()
	args, err := positionArgs(p)
	if err != nil {
		return err
	}
	n, err := r.q.exec(ctx, `UPDATE incoming_positions SET
		symbol = $4, side = $5, entry_price = $6, quantity = $7, leverage = $8,
		unrealized_pnl = $9, mark_price = $10, stop_loss = $11, take_profit = $12,
		status = $13, opening_eval_done = $14, metadata = $15, raw_payload = $16,
		close_payload = $17, close_misses = $18, first_missed_at = $19, opened_at = $20,
		created_at = $21, updated_at = $22
		WHERE id = $1 AND exchange = $2 AND position_id = $3`,
		args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repo) DeletePosition(ctx context.Context, exchange, positionID string) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("storage.DeletePosition: %w", err)
		}
	}()
	n, err := r.q.exec(ctx,
		`DELETE FROM incoming_positions WHERE exchange = $1 AND position_id = $2`,
		exchange, positionID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func positionArgs(p *models.IncomingPosition) ([]any, error) {
	meta, err := sonic.Marshal(p.Metadata)
	if err != nil {
		return nil, err
	}
	return []any{
		p.ID,
		p.Exchange,
		p.PositionID,
		p.Symbol,
		string(p.Side),
		decString(p.EntryPrice),
		decString(p.Quantity),
		decString(p.Leverage),
		decString(p.UnrealizedPNL),
		decString(p.MarkPrice),
		decString(p.StopLoss),
		decString(p.TakeProfit),
		string(p.Status),
		boolInt(p.OpeningEvalDone),
		string(meta),
		string(p.RawPayload),
		string(p.ClosePayload),
		int64(p.CloseMisses),
		toMs(p.FirstMissedAt),
		toMs(p.OpenedAt),
		toMs(p.CreatedAt),
		toMs(p.UpdatedAt),
	}, nil
}

func scanPosition(s row) (*models.IncomingPosition, error) {
	var (
		p                                          models.IncomingPosition
		side, status, meta, raw, closePayload      string
		entry, qty, lev, upl, mark, sl, tp         string
		evalDone, misses                           int64
		firstMissed, openedAt, createdAt, updateAt int64
	)
	err := s.Scan(&p.ID, &p.Exchange, &p.PositionID, &p.Symbol, &side,
		&entry, &qty, &lev, &upl, &mark, &sl, &tp,
		&status, &evalDone, &meta, &raw, &closePayload,
		&misses, &firstMissed, &openedAt, &createdAt, &updateAt)
	if err != nil {
		return nil, err
	}

	p.Side = models.Side(side)
	p.Status = models.PositionStatus(status)
	p.OpeningEvalDone = evalDone != 0
	p.CloseMisses = int(misses)
	p.FirstMissedAt = fromMs(firstMissed)
	p.OpenedAt = fromMs(openedAt)
	p.CreatedAt = fromMs(createdAt)
	p.UpdatedAt = fromMs(updateAt)
	if raw != "" {
		p.RawPayload = []byte(raw)
	}
	if closePayload != "" {
		p.ClosePayload = []byte(closePayload)
	}
	if meta != "" {
		if err := sonic.UnmarshalString(meta, &p.Metadata); err != nil {
			return nil, fmt.Errorf("metadata: %w", err)
		}
	}

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&p.EntryPrice, entry},
		{&p.Quantity, qty},
		{&p.Leverage, lev},
		{&p.UnrealizedPNL, upl},
		{&p.MarkPrice, mark},
		{&p.StopLoss, sl},
		{&p.TakeProfit, tp},
	} {
		if *f.dst, err = parseDec(f.src); err != nil {
			return nil, fmt.Errorf("decimal %q: %w", f.src, err)
		}
	}
	return &p, nil
}
