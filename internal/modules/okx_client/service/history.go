package service

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"trade_ledger/internal/exchange"
	"trade_ledger/internal/models"
)

type historyRow struct {
	historyPosition
	raw json.RawMessage
}

// FetchClosedPosition ищет запись о закрытии в positions-history, листая
// назад по uTime. nil, nil если OKX ещё не опубликовала историю.
func (c *Client) FetchClosedPosition(ctx context.Context, ref models.PositionRef) (*models.ClosedPosition, error) {
	posID, cTime := SplitPositionID(ref.PositionID)
	var openedMs int64
	if !ref.OpenedAt.IsZero() {
		openedMs = ref.OpenedAt.UnixMilli()
	}

	fetch := func(ctx context.Context, cursor string) ([]historyRow, string, error) {
		q := url.Values{
			"instType": {"SWAP"},
			"limit":    {strconv.Itoa(pageSize)},
		}
		if ref.Symbol != "" {
			q.Set("instId", ref.Symbol)
		}
		if cursor != "" {
			q.Set("after", cursor)
		}
		raw, err := c.get(ctx, "/api/v5/account/positions-history", q)
		if err != nil {
			return nil, "", err
		}
		rows, err := decodeRows[historyPosition](raw)
		if err != nil {
			return nil, "", err
		}
		page := make([]historyRow, len(rows))
		for i := range rows {
			page[i] = historyRow{historyPosition: rows[i], raw: raw[i]}
		}
		next := ""
		if len(rows) > 0 {
			next = rows[len(rows)-1].UTime
		}
		return page, next, nil
	}

	var found *models.ClosedPosition
	err := exchange.Walk(ctx, pageSize, maxPages, fetch, func(page []historyRow) bool {
		for _, r := range page {
			if r.PosID != posID || (cTime != "" && r.CTime != cTime) {
				continue
			}
			// частичное закрытие ещё не финал
			if r.Type == "1" || r.Type == "4" {
				continue
			}
			closed := toClosed(r.historyPosition, r.raw)
			found = &closed
			return true
		}
		// дальше только записи старше открытия позиции
		if len(page) > 0 && openedMs > 0 {
			if u, err := strconv.ParseInt(page[len(page)-1].UTime, 10, 64); err == nil && u < openedMs {
				return true
			}
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}
