package service

import "github.com/shopspring/decimal"

// openPosition строка open_positions.
type openPosition struct {
	PositionID   int64           `json:"positionId"`
	Symbol       string          `json:"symbol"`
	PositionType int             `json:"positionType"` // 1 long, 2 short
	OpenType     int             `json:"openType"`     // 1 isolated, 2 cross
	State        int             `json:"state"`        // 1 holding, 2 system, 3 closed
	HoldVol      decimal.Decimal `json:"holdVol"`
	HoldAvgPrice decimal.Decimal `json:"holdAvgPrice"`
	OpenAvgPrice decimal.Decimal `json:"openAvgPrice"`
	Leverage     decimal.Decimal `json:"leverage"`
	Realised     decimal.Decimal `json:"realised"`
	CreateTime   int64           `json:"createTime"`
	UpdateTime   int64           `json:"updateTime"`
}

// historyPosition строка list/history_positions.
type historyPosition struct {
	PositionID      int64           `json:"positionId"`
	Symbol          string          `json:"symbol"`
	PositionType    int             `json:"positionType"`
	State           int             `json:"state"`
	OpenAvgPrice    decimal.Decimal `json:"openAvgPrice"`
	CloseAvgPrice   decimal.Decimal `json:"closeAvgPrice"`
	CloseVol        decimal.Decimal `json:"closeVol"`
	HoldVol         decimal.Decimal `json:"holdVol"`
	Leverage        decimal.Decimal `json:"leverage"`
	CloseProfitLoss decimal.Decimal `json:"closeProfitLoss"`
	TotalFee        decimal.Decimal `json:"totalFee"`
	HoldFee         decimal.Decimal `json:"holdFee"`
	CreateTime      int64           `json:"createTime"`
	UpdateTime      int64           `json:"updateTime"`
}

// deal строка order/list/order_deals.
type deal struct {
	ID         int64           `json:"id"`
	Symbol     string          `json:"symbol"`
	Side       int             `json:"side"` // 1 open long, 2 close short, 3 open short, 4 close long
	Vol        decimal.Decimal `json:"vol"`
	Price      decimal.Decimal `json:"price"`
	Fee        decimal.Decimal `json:"fee"`
	Profit     decimal.Decimal `json:"profit"`
	OrderID    string          `json:"orderId"`
	PositionID int64           `json:"positionId"`
	Timestamp  int64           `json:"timestamp"`
}

// stopOrder строка stoporder/list/orders.
type stopOrder struct {
	ID              int64           `json:"id"`
	Symbol          string          `json:"symbol"`
	PositionID      int64           `json:"positionId"`
	StopLossPrice   decimal.Decimal `json:"stopLossPrice"`
	TakeProfitPrice decimal.Decimal `json:"takeProfitPrice"`
	State           int             `json:"state"` // 1 untriggered
	Vol             decimal.Decimal `json:"vol"`
	CreateTime      int64           `json:"createTime"`
}

// ticker публичный /api/v1/contract/ticker.
type ticker struct {
	Symbol    string          `json:"symbol"`
	LastPrice decimal.Decimal `json:"lastPrice"`
	FairPrice decimal.Decimal `json:"fairPrice"`
}

// contractDetail публичный /api/v1/contract/detail.
type contractDetail struct {
	Symbol       string          `json:"symbol"`
	ContractSize decimal.Decimal `json:"contractSize"`
}
