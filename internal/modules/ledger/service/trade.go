package service

import (
	"fmt"

	"trade_ledger/internal/exchange"
	"trade_ledger/internal/models"

	"github.com/shopspring/decimal"
)

// BuildTrade каноничная сделка из закрытой позиции и её истории.
// Комиссии берутся по модулю: total = |fee| + |funding|, net = gross - total.
// Если биржа не дала комиссию в записи о закрытии, суммируем по fills.
func BuildTrade(pos *models.IncomingPosition, closed models.ClosedPosition, fills []models.Fill) (models.Trade, error) {
	exitTime := closed.ClosedAt
	if exitTime.IsZero() {
		for _, f := range fills {
			if f.FilledAt.After(exitTime) {
				exitTime = f.FilledAt
			}
		}
	}
	if exitTime.IsZero() {
		return models.Trade{}, fmt.Errorf("%w: close time unknown for %s:%s", exchange.ErrPartialData, pos.Exchange, pos.PositionID)
	}
	exitTime = exitTime.UTC()

	entryTime := closed.OpenedAt
	if entryTime.IsZero() {
		entryTime = pos.OpenedAt
	}

	exchangeFee := closed.Fee.Abs()
	if exchangeFee.IsZero() {
		for _, f := range fills {
			exchangeFee = exchangeFee.Add(f.Fee.Abs())
		}
	}
	fundingFee := closed.FundingFee.Abs()
	fees := exchangeFee.Add(fundingFee)
	gross := closed.GrossPNL
	net := gross.Sub(fees)

	executions := len(fills)
	if executions == 0 {
		// одно исполнение на вход и одно на выход
		executions = 2
	}

	day := models.DayBucket(exitTime)
	return models.Trade{
		ID:            models.TradeID(day, pos.Exchange, pos.PositionID),
		Exchange:      pos.Exchange,
		PositionID:    pos.PositionID,
		Symbol:        pos.Symbol,
		Side:          pos.Side,
		Quantity:      firstNonZero(closed.Quantity, pos.Quantity),
		Leverage:      firstNonZero(closed.Leverage, pos.Leverage),
		EntryPrice:    firstNonZero(closed.EntryPrice, pos.EntryPrice),
		ExitPrice:     closed.ExitPrice,
		EntryTime:     entryTime.UTC(),
		ExitTime:      exitTime,
		StopLoss:      pos.StopLoss,
		TakeProfit:    pos.TakeProfit,
		GrossProceeds: gross,
		ExchangeFee:   exchangeFee,
		FundingFee:    fundingFee,
		Fees:          fees,
		NetProceeds:   net,
		GrossWin:      gross.IsPositive(),
		GrossLoss:     gross.IsNegative(),
		NetWin:        net.IsPositive(),
		NetLoss:       net.IsNegative(),
		Executions:    executions,
		DateUnix:      day,
	}, nil
}

func firstNonZero(a, b decimal.Decimal) decimal.Decimal {
	if !a.IsZero() {
		return a
	}
	return b
}
