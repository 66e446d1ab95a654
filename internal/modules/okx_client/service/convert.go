package service

import (
	"strconv"
	"strings"
	"time"

	"trade_ledger/internal/models"

	"github.com/shopspring/decimal"
)

// PositionID каноничный id: OKX переиспользует posId для повторных открытий
// того же инструмента и стороны, поэтому к нему приклеен cTime.
func PositionID(posID, cTime string) string {
	return posID + ":" + cTime
}

// SplitPositionID обратная операция; cTime пустой для "голого" posId.
func SplitPositionID(id string) (posID, cTime string) {
	posID, cTime, _ = strings.Cut(id, ":")
	return posID, cTime
}

func dec(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func msTime(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func msString(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// side posSide long/short, в net-режиме по знаку pos.
func side(posSide string, pos decimal.Decimal) models.Side {
	switch strings.ToLower(posSide) {
	case "long":
		return models.SideLong
	case "short":
		return models.SideShort
	}
	if pos.IsNegative() {
		return models.SideShort
	}
	return models.SideLong
}

func toPosition(p openPosition, raw []byte) models.Position {
	pos := dec(p.Pos)
	mark := dec(p.MarkPx)
	if mark.IsZero() {
		mark = dec(p.Last)
	}
	return models.Position{
		Exchange:      Name,
		PositionID:    PositionID(p.PosID, p.CTime),
		Symbol:        p.InstID,
		Side:          side(p.PosSide, pos),
		EntryPrice:    dec(p.AvgPx),
		Quantity:      pos.Abs(),
		Leverage:      dec(p.Lever),
		UnrealizedPNL: dec(p.Upl),
		MarkPrice:     mark,
		OpenedAt:      msTime(p.CTime),
		UpdatedAt:     msTime(p.UTime),
		Raw:           raw,
	}
}

func toClosed(h historyPosition, raw []byte) models.ClosedPosition {
	dir := h.Direction
	if dir == "" {
		dir = h.PosSide
	}
	qty := dec(h.CloseTotalPos)
	if qty.IsZero() {
		qty = dec(h.OpenMaxPos)
	}
	return models.ClosedPosition{
		Exchange:   Name,
		PositionID: PositionID(h.PosID, h.CTime),
		Symbol:     h.InstID,
		Side:       side(dir, decimal.Zero),
		Quantity:   qty.Abs(),
		Leverage:   dec(h.Lever),
		EntryPrice: dec(h.OpenAvgPx),
		ExitPrice:  dec(h.CloseAvgPx),
		OpenedAt:   msTime(h.CTime),
		ClosedAt:   msTime(h.UTime),
		GrossPNL:   dec(h.Pnl),
		Fee:        dec(h.Fee),
		FundingFee: dec(h.FundingFee),
		Raw:        raw,
	}
}

func toFill(f fill, positionID string) models.Fill {
	return models.Fill{
		Exchange:    Name,
		FillID:      f.TradeID,
		OrderID:     f.OrdID,
		PositionID:  positionID,
		Symbol:      f.InstID,
		Side:        strings.ToUpper(f.Side),
		Price:       dec(f.FillPx),
		Quantity:    dec(f.FillSz),
		Fee:         dec(f.Fee),
		RealizedPNL: dec(f.FillPnl),
		FilledAt:    msTime(f.Ts),
	}
}
