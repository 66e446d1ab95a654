package service

import (
	"context"
	"net/url"
	"strconv"

	"trade_ledger/internal/exchange"
	"trade_ledger/internal/models"
)

// FetchPendingStopOrders несработавшие stop-ордера, привязанные к позиции.
func (m *Client) FetchPendingStopOrders(ctx context.Context, ref models.PositionRef) ([]models.Order, error) {
	fetch := func(ctx context.Context, cursor string) ([]stopOrder, string, error) {
		v := url.Values{"is_finished": {"0"}}
		if ref.Symbol != "" {
			v.Set("symbol", ref.Symbol)
		}
		v, page := pageQuery(v, cursor)
		data, err := m.get(ctx, "/api/v1/private/stoporder/list/orders", v)
		if err != nil {
			return nil, "", err
		}
		rows, _, err := list[stopOrder](data)
		if err != nil {
			return nil, "", err
		}
		return rows, strconv.Itoa(page + 1), nil
	}

	rows, err := exchange.Paginate(ctx, pageSize, maxPages, fetch)
	if err != nil {
		return nil, err
	}

	var res []models.Order
	for _, o := range rows {
		if positionID(o.PositionID) != ref.PositionID {
			continue
		}
		base := models.Order{
			Exchange:   Name,
			OrderID:    strconv.FormatInt(o.ID, 10),
			PositionID: ref.PositionID,
			Symbol:     o.Symbol,
			Quantity:   o.Vol,
			CreatedAt:  msTime(o.CreateTime),
		}
		if o.StopLossPrice.IsPositive() {
			ord := base
			ord.Kind, ord.TriggerPrice = models.OrderStopLoss, o.StopLossPrice
			res = append(res, ord)
		}
		if o.TakeProfitPrice.IsPositive() {
			ord := base
			ord.Kind, ord.TriggerPrice = models.OrderTakeProfit, o.TakeProfitPrice
			res = append(res, ord)
		}
	}
	return res, nil
}
