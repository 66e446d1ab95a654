package service

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"trade_ledger/internal/exchange"
	"trade_ledger/internal/models"
)

var algoOrdTypes = []string{"conditional", "oco"}

// FetchPendingStopOrders SL/TP алгоордера на позицию. У одного oco-ордера
// обе цены, он превращается в два Order.
func (c *Client) FetchPendingStopOrders(ctx context.Context, ref models.PositionRef) ([]models.Order, error) {
	var res []models.Order
	for _, ordType := range algoOrdTypes {
		fetch := func(ctx context.Context, cursor string) ([]algoOrder, string, error) {
			v := url.Values{
				"ordType":  {ordType},
				"instType": {"SWAP"},
				"limit":    {strconv.Itoa(pageSize)},
			}
			if ref.Symbol != "" {
				v.Set("instId", ref.Symbol)
			}
			if cursor != "" {
				v.Set("after", cursor)
			}
			raw, err := c.get(ctx, "/api/v5/trade/orders-algo-pending", v)
			if err != nil {
				return nil, "", err
			}
			rows, err := decodeRows[algoOrder](raw)
			if err != nil {
				return nil, "", err
			}
			next := ""
			if len(rows) > 0 {
				next = rows[len(rows)-1].AlgoID
			}
			return rows, next, nil
		}

		rows, err := exchange.Paginate(ctx, pageSize, maxPages, fetch)
		if err != nil {
			return nil, err
		}
		for _, o := range rows {
			if !matchesSide(o.PosSide, ref.Side) {
				continue
			}
			base := models.Order{
				Exchange:   Name,
				OrderID:    o.AlgoID,
				PositionID: ref.PositionID,
				Symbol:     o.InstID,
				Quantity:   dec(o.Sz),
				CreatedAt:  msTime(o.CTime),
			}
			if sl := dec(o.SlTriggerPx); sl.IsPositive() {
				ord := base
				ord.Kind, ord.TriggerPrice = models.OrderStopLoss, sl
				res = append(res, ord)
			}
			if tp := dec(o.TpTriggerPx); tp.IsPositive() {
				ord := base
				ord.Kind, ord.TriggerPrice = models.OrderTakeProfit, tp
				res = append(res, ord)
			}
		}
	}
	return res, nil
}

func matchesSide(posSide string, s models.Side) bool {
	switch strings.ToLower(posSide) {
	case "long":
		return s == models.SideLong
	case "short":
		return s == models.SideShort
	}
	return true
}
