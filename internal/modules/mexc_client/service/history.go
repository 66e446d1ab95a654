package service

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"trade_ledger/internal/exchange"
	"trade_ledger/internal/models"
)

const stateClosed = 3

type historyRow struct {
	historyPosition
	raw json.RawMessage
}

// FetchClosedPosition листает list/history_positions по страницам (свежие
// сначала). nil, nil пока позиция не появилась в истории закрытой.
func (m *Client) FetchClosedPosition(ctx context.Context, ref models.PositionRef) (*models.ClosedPosition, error) {
	id, err := strconv.ParseInt(ref.PositionID, 10, 64)
	if err != nil {
		return nil, err
	}
	var openedMs int64
	if !ref.OpenedAt.IsZero() {
		openedMs = ref.OpenedAt.UnixMilli()
	}

	fetch := func(ctx context.Context, cursor string) ([]historyRow, string, error) {
		q := url.Values{}
		if ref.Symbol != "" {
			q.Set("symbol", ref.Symbol)
		}
		q, page := pageQuery(q, cursor)
		data, err := m.get(ctx, "/api/v1/private/position/list/history_positions", q)
		if err != nil {
			return nil, "", err
		}
		rows, raw, err := list[historyPosition](data)
		if err != nil {
			return nil, "", err
		}
		out := make([]historyRow, len(rows))
		for i := range rows {
			out[i] = historyRow{historyPosition: rows[i], raw: raw[i]}
		}
		return out, strconv.Itoa(page + 1), nil
	}

	var found *models.ClosedPosition
	err = exchange.Walk(ctx, pageSize, maxPages, fetch, func(page []historyRow) bool {
		for _, r := range page {
			if r.PositionID != id {
				continue
			}
			if r.State != stateClosed {
				return true
			}
			closed := toClosed(r.historyPosition, r.raw)
			found = &closed
			return true
		}
		if n := len(page); n > 0 && openedMs > 0 && page[n-1].UpdateTime < openedMs {
			return true
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}
