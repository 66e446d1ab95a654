package service

import (
	"context"
	"net/url"

	"trade_ledger/internal/models"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ListOpenPositions GET /api/v1/private/position/open_positions. MEXC не
// отдаёт mark price и uPnL, досчитываем по тикеру и размеру контракта.
func (m *Client) ListOpenPositions(ctx context.Context) ([]models.Position, error) {
	data, err := m.get(ctx, "/api/v1/private/position/open_positions", nil)
	if err != nil {
		return nil, err
	}
	rows, raw, err := list[openPosition](data)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []models.Position{}, nil
	}

	marks, err := m.fairPrices(ctx)
	if err != nil {
		return nil, err
	}

	res := make([]models.Position, 0, len(rows))
	for i, p := range rows {
		if p.HoldVol.IsZero() {
			continue
		}
		size, err := m.contractSize(ctx, p.Symbol)
		if err != nil {
			return nil, err
		}
		side := positionSide(p.PositionType)
		entry := p.HoldAvgPrice
		if entry.IsZero() {
			entry = p.OpenAvgPrice
		}
		mark := marks[p.Symbol]
		res = append(res, models.Position{
			Exchange:      Name,
			PositionID:    positionID(p.PositionID),
			Symbol:        p.Symbol,
			Side:          side,
			EntryPrice:    entry,
			Quantity:      p.HoldVol,
			Leverage:      p.Leverage,
			UnrealizedPNL: unrealized(side, entry, mark, p.HoldVol, size),
			MarkPrice:     mark,
			OpenedAt:      msTime(p.CreateTime),
			UpdatedAt:     msTime(p.UpdateTime),
			Raw:           raw[i],
		})
	}
	return res, nil
}

// fairPrices справедливые цены по всем контрактам; lastPrice если fair нет.
func (m *Client) fairPrices(ctx context.Context) (map[string]decimal.Decimal, error) {
	data, err := m.get(ctx, "/api/v1/contract/ticker", nil)
	if err != nil {
		return nil, err
	}
	var arr []ticker
	if err := sonic.Unmarshal(data, &arr); err != nil {
		var one ticker
		if err := sonic.Unmarshal(data, &one); err != nil || one.Symbol == "" {
			return nil, errors.New("mexc: unexpected ticker data shape")
		}
		arr = []ticker{one}
	}
	res := make(map[string]decimal.Decimal, len(arr))
	for _, t := range arr {
		px := t.FairPrice
		if px.IsZero() {
			px = t.LastPrice
		}
		res[t.Symbol] = px
	}
	return res, nil
}

func (m *Client) contractSize(ctx context.Context, symbol string) (decimal.Decimal, error) {
	m.mu.RLock()
	size, ok := m.contractSizes[symbol]
	m.mu.RUnlock()
	if ok {
		return size, nil
	}

	data, err := m.get(ctx, "/api/v1/contract/detail", url.Values{"symbol": {symbol}})
	if err != nil {
		return decimal.Zero, err
	}
	var d contractDetail
	if err := sonic.Unmarshal(data, &d); err != nil {
		return decimal.Zero, errors.Wrapf(err, "mexc: contract detail %s", symbol)
	}

	m.mu.Lock()
	m.contractSizes[symbol] = d.ContractSize
	m.mu.Unlock()
	return d.ContractSize, nil
}
