package service

import (
	"context"
	"net/url"
	"strconv"

	"trade_ledger/internal/exchange"
	"trade_ledger/internal/models"
)

// FetchFills GET /api/v1/private/order/list/order_deals. Без символа MEXC
// запрос не принимает.
func (m *Client) FetchFills(ctx context.Context, q models.FillQuery) ([]models.Fill, error) {
	fetch := func(ctx context.Context, cursor string) ([]deal, string, error) {
		v := url.Values{"symbol": {q.Symbol}}
		if !q.From.IsZero() {
			v.Set("start_time", strconv.FormatInt(q.From.UnixMilli(), 10))
		}
		if !q.To.IsZero() {
			v.Set("end_time", strconv.FormatInt(q.To.UnixMilli(), 10))
		}
		v, page := pageQuery(v, cursor)
		data, err := m.get(ctx, "/api/v1/private/order/list/order_deals", v)
		if err != nil {
			return nil, "", err
		}
		rows, _, err := list[deal](data)
		if err != nil {
			return nil, "", err
		}
		return rows, strconv.Itoa(page + 1), nil
	}

	rows, err := exchange.Paginate(ctx, pageSize, maxPages, fetch)
	if err != nil {
		return nil, err
	}
	res := make([]models.Fill, 0, len(rows))
	for _, d := range rows {
		f := toFill(d, q.PositionID)
		if q.PositionID != "" && d.PositionID != 0 && f.PositionID != q.PositionID {
			continue
		}
		res = append(res, f)
	}
	return res, nil
}
