package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Trade immutable record of one completed position.
type Trade struct {
	ID            string          `json:"id"`
	Exchange      string          `json:"exchange"`
	PositionID    string          `json:"position_id"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	Leverage      decimal.Decimal `json:"leverage"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	ExitPrice     decimal.Decimal `json:"exit_price"`
	EntryTime     time.Time       `json:"entry_time"`
	ExitTime      time.Time       `json:"exit_time"`
	StopLoss      decimal.Decimal `json:"stop_loss"`
	TakeProfit    decimal.Decimal `json:"take_profit"`
	GrossProceeds decimal.Decimal `json:"gross_proceeds"`
	ExchangeFee   decimal.Decimal `json:"exchange_fee"`
	FundingFee    decimal.Decimal `json:"funding_fee"`
	Fees          decimal.Decimal `json:"fees"`
	NetProceeds   decimal.Decimal `json:"net_proceeds"`
	GrossWin      bool            `json:"gross_win"`
	GrossLoss     bool            `json:"gross_loss"`
	NetWin        bool            `json:"net_win"`
	NetLoss       bool            `json:"net_loss"`
	Executions    int             `json:"executions"`
	DateUnix      int64           `json:"date_unix"`
}

// SameContent compares everything a re-materialization must reproduce.
func (t Trade) SameContent(o Trade) bool {
	return t.ID == o.ID &&
		t.Exchange == o.Exchange &&
		t.PositionID == o.PositionID &&
		t.Symbol == o.Symbol &&
		t.Side == o.Side &&
		t.Quantity.Equal(o.Quantity) &&
		t.EntryPrice.Equal(o.EntryPrice) &&
		t.ExitPrice.Equal(o.ExitPrice) &&
		t.EntryTime.Equal(o.EntryTime) &&
		t.ExitTime.Equal(o.ExitTime) &&
		t.GrossProceeds.Equal(o.GrossProceeds) &&
		t.Fees.Equal(o.Fees) &&
		t.NetProceeds.Equal(o.NetProceeds) &&
		t.DateUnix == o.DateUnix
}

// DayBucket UTC calendar-day bucket (unix seconds of UTC midnight).
func DayBucket(t time.Time) int64 {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Unix()
}

// TradeID synthetic id, deterministic in (day bucket, exchange position).
func TradeID(dateUnix int64, exchange, positionID string) string {
	return fmt.Sprintf("t%d_%s_%s", dateUnix, exchange, positionID)
}

// BlotterEntry per-symbol rollup of a day.
type BlotterEntry struct {
	Symbol         string          `json:"symbol"`
	Trades         int             `json:"trades"`
	Executions     int             `json:"executions"`
	Quantity       decimal.Decimal `json:"quantity"`
	GrossProceeds  decimal.Decimal `json:"gross_proceeds"`
	GrossWins      decimal.Decimal `json:"gross_wins"`
	GrossLoss      decimal.Decimal `json:"gross_loss"`
	GrossWinsCount int             `json:"gross_wins_count"`
	GrossLossCount int             `json:"gross_loss_count"`
	Fees           decimal.Decimal `json:"fees"`
	NetProceeds    decimal.Decimal `json:"net_proceeds"`
	NetWins        decimal.Decimal `json:"net_wins"`
	NetLoss        decimal.Decimal `json:"net_loss"`
	NetWinsCount   int             `json:"net_wins_count"`
	NetLossCount   int             `json:"net_loss_count"`
}

// PnLSummary day totals.
type PnLSummary struct {
	Trades         int             `json:"trades"`
	Executions     int             `json:"executions"`
	Quantity       decimal.Decimal `json:"quantity"`
	GrossProceeds  decimal.Decimal `json:"gross_proceeds"`
	GrossWins      decimal.Decimal `json:"gross_wins"`
	GrossLoss      decimal.Decimal `json:"gross_loss"`
	GrossWinsCount int             `json:"gross_wins_count"`
	GrossLossCount int             `json:"gross_loss_count"`
	Fees           decimal.Decimal `json:"fees"`
	NetProceeds    decimal.Decimal `json:"net_proceeds"`
	NetWins        decimal.Decimal `json:"net_wins"`
	NetLoss        decimal.Decimal `json:"net_loss"`
	NetWinsCount   int             `json:"net_wins_count"`
	NetLossCount   int             `json:"net_loss_count"`
}

// DayLedger all trades closed on one UTC day plus derived rollups.
// Blotter and PnL are derived data: always recomputed from Trades.
type DayLedger struct {
	DateUnix  int64                   `json:"date_unix"`
	Trades    []Trade                 `json:"trades"`
	Blotter   map[string]BlotterEntry `json:"blotter"`
	PnL       PnLSummary              `json:"pnl"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// FindTrade returns index of the trade with the given id or -1.
func (d *DayLedger) FindTrade(id string) int {
	for i := range d.Trades {
		if d.Trades[i].ID == id {
			return i
		}
	}
	return -1
}

// Annotation ledger side-table row: user metadata moved off the IncomingPosition.
type Annotation struct {
	TradeID   string
	DateUnix  int64
	Exchange  string
	Symbol    string
	Metadata  UserMetadata
	UpdatedAt time.Time
}

// ClosePayload то, что остаётся на позиции в pending_evaluation: итог
// закрытия и сырой ответ биржи. Из него потом берётся id сделки.
type ClosePayload struct {
	TradeID     string          `json:"trade_id"`
	DateUnix    int64           `json:"date_unix"`
	Symbol      string          `json:"symbol"`
	ClosedAt    time.Time       `json:"closed_at"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	GrossPNL    decimal.Decimal `json:"gross_pnl"`
	Fees        decimal.Decimal `json:"fees"`
	NetProceeds decimal.Decimal `json:"net_proceeds"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}
