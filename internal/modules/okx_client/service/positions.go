package service

import (
	"context"
	"net/url"

	"trade_ledger/internal/models"

	"go.uber.org/zap"
)

// ListOpenPositions GET /api/v5/account/positions. OKX отдаёт все позиции
// одним ответом, пагинации нет.
func (c *Client) ListOpenPositions(ctx context.Context) ([]models.Position, error) {
	raw, err := c.get(ctx, "/api/v5/account/positions", url.Values{"instType": {"SWAP"}})
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows[openPosition](raw)
	if err != nil {
		return nil, err
	}

	res := make([]models.Position, 0, len(rows))
	for i, p := range rows {
		if p.PosID == "" {
			c.log.Warn("position without posId skipped", zap.String("inst_id", p.InstID))
			continue
		}
		// пустая позиция после закрытия в net-режиме
		if dec(p.Pos).IsZero() {
			continue
		}
		res = append(res, toPosition(p, raw[i]))
	}
	return res, nil
}
