package service

import (
	"trade_ledger/internal/models"

	"github.com/shopspring/decimal"
)

// Recompute считает Blotter и P&L заново по всему списку сделок.
// Инкрементально не патчим никогда.
func Recompute(trades []models.Trade) (map[string]models.BlotterEntry, models.PnLSummary) {
	blotter := make(map[string]models.BlotterEntry)
	pnl := models.PnLSummary{
		Quantity:      decimal.Zero,
		GrossProceeds: decimal.Zero,
		GrossWins:     decimal.Zero,
		GrossLoss:     decimal.Zero,
		Fees:          decimal.Zero,
		NetProceeds:   decimal.Zero,
		NetWins:       decimal.Zero,
		NetLoss:       decimal.Zero,
	}

	for _, t := range trades {
		b, ok := blotter[t.Symbol]
		if !ok {
			b = models.BlotterEntry{
				Symbol:        t.Symbol,
				Quantity:      decimal.Zero,
				GrossProceeds: decimal.Zero,
				GrossWins:     decimal.Zero,
				GrossLoss:     decimal.Zero,
				Fees:          decimal.Zero,
				NetProceeds:   decimal.Zero,
				NetWins:       decimal.Zero,
				NetLoss:       decimal.Zero,
			}
		}

		b.Trades++
		b.Executions += t.Executions
		b.Quantity = b.Quantity.Add(t.Quantity)
		b.GrossProceeds = b.GrossProceeds.Add(t.GrossProceeds)
		b.Fees = b.Fees.Add(t.Fees)
		b.NetProceeds = b.NetProceeds.Add(t.NetProceeds)

		pnl.Trades++
		pnl.Executions += t.Executions
		pnl.Quantity = pnl.Quantity.Add(t.Quantity)
		pnl.GrossProceeds = pnl.GrossProceeds.Add(t.GrossProceeds)
		pnl.Fees = pnl.Fees.Add(t.Fees)
		pnl.NetProceeds = pnl.NetProceeds.Add(t.NetProceeds)

		switch {
		case t.GrossWin:
			b.GrossWins = b.GrossWins.Add(t.GrossProceeds)
			b.GrossWinsCount++
			pnl.GrossWins = pnl.GrossWins.Add(t.GrossProceeds)
			pnl.GrossWinsCount++
		case t.GrossLoss:
			b.GrossLoss = b.GrossLoss.Add(t.GrossProceeds)
			b.GrossLossCount++
			pnl.GrossLoss = pnl.GrossLoss.Add(t.GrossProceeds)
			pnl.GrossLossCount++
		}
		switch {
		case t.NetWin:
			b.NetWins = b.NetWins.Add(t.NetProceeds)
			b.NetWinsCount++
			pnl.NetWins = pnl.NetWins.Add(t.NetProceeds)
			pnl.NetWinsCount++
		case t.NetLoss:
			b.NetLoss = b.NetLoss.Add(t.NetProceeds)
			b.NetLossCount++
			pnl.NetLoss = pnl.NetLoss.Add(t.NetProceeds)
			pnl.NetLossCount++
		}

		blotter[t.Symbol] = b
	}
	return blotter, pnl
}
