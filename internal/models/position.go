package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side направление позиции в каноническом виде.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// ParseSide приводит биржевые варианты (long/short, BUY/SELL, 1/2) к Side.
func ParseSide(raw string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "LONG", "BUY", "1":
		return SideLong, true
	case "SHORT", "SELL", "2":
		return SideShort, true
	}
	return "", false
}

// PositionStatus lifecycle state of a persisted IncomingPosition.
type PositionStatus string

const (
	StatusOpen              PositionStatus = "open"
	StatusPendingEvaluation PositionStatus = "pending_evaluation"
	// StatusUnresolved close was detected but the exchange never published
	// its history within the retry budget; needs manual resolution.
	StatusUnresolved PositionStatus = "unresolved"
)

// Position is one open position as reported by an exchange, already normalized.
type Position struct {
	Exchange      string
	PositionID    string
	Symbol        string
	Side          Side
	EntryPrice    decimal.Decimal
	Quantity      decimal.Decimal
	Leverage      decimal.Decimal
	UnrealizedPNL decimal.Decimal
	MarkPrice     decimal.Decimal
	OpenedAt      time.Time
	UpdatedAt     time.Time
	Raw           []byte
}

// Ref returns the lookup key the adapters need for history queries.
func (p Position) Ref() PositionRef {
	return PositionRef{
		Exchange:   p.Exchange,
		PositionID: p.PositionID,
		Symbol:     p.Symbol,
		Side:       p.Side,
		OpenedAt:   p.OpenedAt,
	}
}

// PositionRef identifies a position at an exchange. Symbol and OpenedAt are
// hints: most exchanges scope history queries by instrument.
type PositionRef struct {
	Exchange   string
	PositionID string
	Symbol     string
	Side       Side
	OpenedAt   time.Time
}

// ClosedPosition authoritative close record from exchange history.
type ClosedPosition struct {
	Exchange   string
	PositionID string
	Symbol     string
	Side       Side
	Quantity   decimal.Decimal
	Leverage   decimal.Decimal
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	OpenedAt   time.Time
	ClosedAt   time.Time
	// GrossPNL realized P&L before fees.
	GrossPNL decimal.Decimal
	// Fee and FundingFee are kept as reported (signed); consumers use magnitudes.
	Fee        decimal.Decimal
	FundingFee decimal.Decimal
	Raw        []byte
}

// Fill one execution contributing to a position.
type Fill struct {
	Exchange    string
	FillID      string
	OrderID     string
	PositionID  string
	Symbol      string
	Side        string // BUY/SELL
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	Fee         decimal.Decimal
	RealizedPNL decimal.Decimal
	FilledAt    time.Time
}

// FillQuery window for fill history. PositionID is optional for exchanges that
// cannot filter by it; those narrow the instrument's fills by Side and by the
// position's own lifetime OpenedAt..ClosedAt instead.
type FillQuery struct {
	PositionID string
	Symbol     string
	Side       Side
	From       time.Time
	To         time.Time
	OpenedAt   time.Time
	ClosedAt   time.Time
}

// OrderKind тип отложенного ордера.
type OrderKind string

const (
	OrderStopLoss   OrderKind = "stop_loss"
	OrderTakeProfit OrderKind = "take_profit"
)

// Order pending stop / take-profit order attached to a position.
type Order struct {
	Exchange     string
	OrderID      string
	PositionID   string
	Symbol       string
	Kind         OrderKind
	TriggerPrice decimal.Decimal
	Quantity     decimal.Decimal
	CreatedAt    time.Time
}

// UserMetadata то, что пользователь вводит при оценке сделки.
type UserMetadata struct {
	Note         string   `json:"note,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	StressLevel  int      `json:"stress_level,omitempty"`
	Satisfaction *bool    `json:"satisfaction,omitempty"`
	Screenshot   string   `json:"screenshot,omitempty"`
	Playbook     string   `json:"playbook,omitempty"`
}

// IsZero reports whether nothing was entered.
func (m UserMetadata) IsZero() bool {
	return m.Note == "" && len(m.Tags) == 0 && m.StressLevel == 0 &&
		m.Satisfaction == nil && m.Screenshot == "" && m.Playbook == ""
}

// Merge overlays non-empty fields of other on top of m.
func (m UserMetadata) Merge(other UserMetadata) UserMetadata {
	if other.Note != "" {
		m.Note = other.Note
	}
	if len(other.Tags) > 0 {
		seen := make(map[string]struct{}, len(m.Tags)+len(other.Tags))
		tags := make([]string, 0, len(m.Tags)+len(other.Tags))
		for _, t := range append(append([]string{}, m.Tags...), other.Tags...) {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			tags = append(tags, t)
		}
		m.Tags = tags
	}
	if other.StressLevel != 0 {
		m.StressLevel = other.StressLevel
	}
	if other.Satisfaction != nil {
		v := *other.Satisfaction
		m.Satisfaction = &v
	}
	if other.Screenshot != "" {
		m.Screenshot = other.Screenshot
	}
	if other.Playbook != "" {
		m.Playbook = other.Playbook
	}
	return m
}

// IncomingPosition persisted local view of an exchange position.
type IncomingPosition struct {
	ID              string
	Exchange        string
	PositionID      string
	Symbol          string
	Side            Side
	EntryPrice      decimal.Decimal
	Quantity        decimal.Decimal
	Leverage        decimal.Decimal
	UnrealizedPNL   decimal.Decimal
	MarkPrice       decimal.Decimal
	StopLoss        decimal.Decimal
	TakeProfit      decimal.Decimal
	Status          PositionStatus
	OpeningEvalDone bool
	Metadata        UserMetadata
	RawPayload      []byte
	ClosePayload    []byte
	CloseMisses     int
	FirstMissedAt   time.Time
	OpenedAt        time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Ref returns the exchange lookup key for this row.
func (p *IncomingPosition) Ref() PositionRef {
	return PositionRef{
		Exchange:   p.Exchange,
		PositionID: p.PositionID,
		Symbol:     p.Symbol,
		Side:       p.Side,
		OpenedAt:   p.OpenedAt,
	}
}

// NewIncomingPosition first sighting of an exchange position.
func NewIncomingPosition(id string, p Position, now time.Time) *IncomingPosition {
	opened := p.OpenedAt
	if opened.IsZero() {
		opened = now
	}
	return &IncomingPosition{
		ID:            id,
		Exchange:      p.Exchange,
		PositionID:    p.PositionID,
		Symbol:        p.Symbol,
		Side:          p.Side,
		EntryPrice:    p.EntryPrice,
		Quantity:      p.Quantity,
		Leverage:      p.Leverage,
		UnrealizedPNL: p.UnrealizedPNL,
		MarkPrice:     p.MarkPrice,
		Status:        StatusOpen,
		RawPayload:    p.Raw,
		OpenedAt:      opened.UTC(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Refresh copies the mutable fields of a fresh snapshot. It reports whether
// anything changed; UpdatedAt is touched only in that case.
func (p *IncomingPosition) Refresh(snap Position, now time.Time) bool {
	changed := !p.MarkPrice.Equal(snap.MarkPrice) ||
		!p.UnrealizedPNL.Equal(snap.UnrealizedPNL) ||
		!p.Quantity.Equal(snap.Quantity) ||
		!p.Leverage.Equal(snap.Leverage) ||
		!p.EntryPrice.Equal(snap.EntryPrice)
	if !changed {
		return false
	}
	p.MarkPrice = snap.MarkPrice
	p.UnrealizedPNL = snap.UnrealizedPNL
	p.Quantity = snap.Quantity
	p.Leverage = snap.Leverage
	p.EntryPrice = snap.EntryPrice
	if len(snap.Raw) > 0 {
		p.RawPayload = snap.Raw
	}
	p.UpdatedAt = now
	return true
}
