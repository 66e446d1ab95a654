package service

// openPosition строка /api/v5/account/positions (нужные поля).
type openPosition struct {
	InstID   string `json:"instId"`
	InstType string `json:"instType"`
	MgnMode  string `json:"mgnMode"`
	PosID    string `json:"posId"`
	PosSide  string `json:"posSide"` // long / short / net
	Pos      string `json:"pos"`
	AvgPx    string `json:"avgPx"`
	Lever    string `json:"lever"`
	Upl      string `json:"upl"`
	MarkPx   string `json:"markPx"`
	Last     string `json:"last"`
	CTime    string `json:"cTime"`
	UTime    string `json:"uTime"`
}

// historyPosition строка /api/v5/account/positions-history.
type historyPosition struct {
	InstID        string `json:"instId"`
	PosID         string `json:"posId"`
	PosSide       string `json:"posSide"`
	Direction     string `json:"direction"`
	Type          string `json:"type"` // 1 partial close, 2 close all, 3 liquidation, 4 partial liquidation, 5 ADL
	OpenAvgPx     string `json:"openAvgPx"`
	CloseAvgPx    string `json:"closeAvgPx"`
	OpenMaxPos    string `json:"openMaxPos"`
	CloseTotalPos string `json:"closeTotalPos"`
	Lever         string `json:"lever"`
	Pnl           string `json:"pnl"`
	RealizedPnl   string `json:"realizedPnl"`
	Fee           string `json:"fee"`
	FundingFee    string `json:"fundingFee"`
	CTime         string `json:"cTime"`
	UTime         string `json:"uTime"`
}

// fill строка /api/v5/trade/fills-history.
type fill struct {
	InstID  string `json:"instId"`
	TradeID string `json:"tradeId"`
	OrdID   string `json:"ordId"`
	BillID  string `json:"billId"`
	Side    string `json:"side"`
	PosSide string `json:"posSide"`
	FillPx  string `json:"fillPx"`
	FillSz  string `json:"fillSz"`
	Fee     string `json:"fee"`
	FillPnl string `json:"fillPnl"`
	Ts      string `json:"ts"`
}

// algoOrder строка /api/v5/trade/orders-algo-pending.
type algoOrder struct {
	AlgoID      string `json:"algoId"`
	InstID      string `json:"instId"`
	OrdType     string `json:"ordType"`
	PosSide     string `json:"posSide"`
	Sz          string `json:"sz"`
	SlTriggerPx string `json:"slTriggerPx"`
	TpTriggerPx string `json:"tpTriggerPx"`
	CTime       string `json:"cTime"`
}
