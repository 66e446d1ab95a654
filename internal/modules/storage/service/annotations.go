package service

import (
	"context"
	"fmt"

	"trade_ledger/internal/models"

	"github.com/bytedance/sonic"
)

// UpsertAnnotation пользовательские метаданные сделки, ключ trade_id.
func (r *repo) UpsertAnnotation(ctx context.Context, a models.Annotation) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("storage.UpsertAnnotation: %w", err)
		}
	}()
	meta, err := sonic.Marshal(a.Metadata)
	if err != nil {
		return err
	}
	_, err = r.q.exec(ctx, `INSERT INTO trade_annotations (trade_id, date_unix, exchange, symbol, metadata, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (trade_id) DO UPDATE SET
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		a.TradeID, a.DateUnix, a.Exchange, a.Symbol, string(meta), toMs(a.UpdatedAt))
	return err
}

func (r *repo) GetAnnotation(ctx context.Context, tradeID string) (a *models.Annotation, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("storage.GetAnnotation: %w", err)
		}
	}()
	var (
		out       models.Annotation
		meta      string
		updatedAt int64
	)
	err = r.q.queryRow(ctx,
		`SELECT trade_id, date_unix, exchange, symbol, metadata, updated_at FROM trade_annotations WHERE trade_id = $1`,
		tradeID).Scan(&out.TradeID, &out.DateUnix, &out.Exchange, &out.Symbol, &meta, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err = sonic.UnmarshalString(meta, &out.Metadata); err != nil {
		return nil, err
	}
	out.UpdatedAt = fromMs(updatedAt)
	return &out, nil
}
