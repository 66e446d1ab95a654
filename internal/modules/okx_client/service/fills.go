package service

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"trade_ledger/internal/exchange"
	"trade_ledger/internal/models"
)

// fillSlack допуск между ts сделки и cTime/uTime позиции.
const fillSlack = time.Second

// FetchFills GET /api/v5/trade/fills-history за окно q.From..q.To,
// курсор billId. OKX не фильтрует сделки по posId: берём все по инструменту
// и оставляем те, что совпали по posSide и легли в жизнь позиции.
func (c *Client) FetchFills(ctx context.Context, q models.FillQuery) ([]models.Fill, error) {
	fetch := func(ctx context.Context, cursor string) ([]fill, string, error) {
		v := url.Values{
			"instType": {"SWAP"},
			"limit":    {strconv.Itoa(pageSize)},
		}
		if q.Symbol != "" {
			v.Set("instId", q.Symbol)
		}
		if !q.From.IsZero() {
			v.Set("begin", msString(q.From))
		}
		if !q.To.IsZero() {
			v.Set("end", msString(q.To))
		}
		if cursor != "" {
			v.Set("after", cursor)
		}
		raw, err := c.get(ctx, "/api/v5/trade/fills-history", v)
		if err != nil {
			return nil, "", err
		}
		rows, err := decodeRows[fill](raw)
		if err != nil {
			return nil, "", err
		}
		next := ""
		if len(rows) > 0 {
			next = rows[len(rows)-1].BillID
		}
		return rows, next, nil
	}

	rows, err := exchange.Paginate(ctx, pageSize, maxPages, fetch)
	if err != nil {
		return nil, err
	}
	res := make([]models.Fill, 0, len(rows))
	for _, f := range rows {
		if !belongsTo(f, q) {
			continue
		}
		res = append(res, toFill(f, q.PositionID))
	}
	return res, nil
}

// belongsTo в hedge-режиме long и short по инструменту живут параллельно,
// а повторно открытая позиция попадает в то же окно с lookback.
func belongsTo(f fill, q models.FillQuery) bool {
	if q.Side != "" && !matchesSide(f.PosSide, q.Side) {
		return false
	}
	ts := msTime(f.Ts)
	if !q.OpenedAt.IsZero() && ts.Before(q.OpenedAt.Add(-fillSlack)) {
		return false
	}
	if !q.ClosedAt.IsZero() && ts.After(q.ClosedAt.Add(fillSlack)) {
		return false
	}
	return true
}
