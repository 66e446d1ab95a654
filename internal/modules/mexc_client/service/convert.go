package service

import (
	"strconv"
	"time"

	"trade_ledger/internal/models"

	"github.com/shopspring/decimal"
)

func msTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func positionSide(positionType int) models.Side {
	if positionType == 2 {
		return models.SideShort
	}
	return models.SideLong
}

// dealSide направление исполнения: открытие лонга и закрытие шорта это покупка.
func dealSide(side int) string {
	switch side {
	case 1, 2:
		return "BUY"
	case 3, 4:
		return "SELL"
	}
	return ""
}

func positionID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// unrealized (mark - entry) * vol * contractSize, для шорта с обратным знаком.
func unrealized(side models.Side, entry, mark, vol, contractSize decimal.Decimal) decimal.Decimal {
	if mark.IsZero() || contractSize.IsZero() {
		return decimal.Zero
	}
	diff := mark.Sub(entry)
	if side == models.SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(vol).Mul(contractSize)
}

func toClosed(h historyPosition, raw []byte) models.ClosedPosition {
	qty := h.CloseVol
	if qty.IsZero() {
		qty = h.HoldVol
	}
	return models.ClosedPosition{
		Exchange:   Name,
		PositionID: positionID(h.PositionID),
		Symbol:     h.Symbol,
		Side:       positionSide(h.PositionType),
		Quantity:   qty,
		Leverage:   h.Leverage,
		EntryPrice: h.OpenAvgPrice,
		ExitPrice:  h.CloseAvgPrice,
		OpenedAt:   msTime(h.CreateTime),
		ClosedAt:   msTime(h.UpdateTime),
		GrossPNL:   h.CloseProfitLoss,
		Fee:        h.TotalFee,
		FundingFee: h.HoldFee,
		Raw:        raw,
	}
}

func toFill(d deal, fallbackPositionID string) models.Fill {
	pid := fallbackPositionID
	if d.PositionID != 0 {
		pid = positionID(d.PositionID)
	}
	return models.Fill{
		Exchange:    Name,
		FillID:      strconv.FormatInt(d.ID, 10),
		OrderID:     d.OrderID,
		PositionID:  pid,
		Symbol:      d.Symbol,
		Side:        dealSide(d.Side),
		Price:       d.Price,
		Quantity:    d.Vol,
		Fee:         d.Fee,
		RealizedPNL: d.Profit,
		FilledAt:    msTime(d.Timestamp),
	}
}
