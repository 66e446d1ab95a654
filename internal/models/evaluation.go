package models

import "time"

// EvaluationKind которая из оценок требуется от пользователя.
type EvaluationKind string

const (
	EvaluationOpening EvaluationKind = "opening"
	EvaluationClosing EvaluationKind = "closing"
)

// EvaluationTask required user input at one lifecycle transition.
// Never persisted; derived from IncomingPosition rows.
type EvaluationTask struct {
	Kind         EvaluationKind
	Exchange     string
	PositionID   string
	Symbol       string
	Side         Side
	ClosePayload []byte
	EnqueuedAt   time.Time
}

// Key dedup key inside the queue.
func (t EvaluationTask) Key() string {
	return string(t.Kind) + ":" + t.Exchange + ":" + t.PositionID
}

// PositionError one isolated per-position failure of a pass.
type PositionError struct {
	Exchange   string `json:"exchange"`
	PositionID string `json:"position_id"`
	Stage      string `json:"stage"`
	Err        string `json:"error"`
}

// PassResult outcome of one reconciliation pass. Position ids are
// "<exchange>:<positionId>".
type PassResult struct {
	StartedAt  time.Time       `json:"started_at"`
	Duration   time.Duration   `json:"duration"`
	Created    []string        `json:"created"`
	Updated    []string        `json:"updated"`
	Unchanged  []string        `json:"unchanged"`
	Closed     []string        `json:"closed"`
	Deferred   []string        `json:"deferred"`
	Unresolved []string        `json:"unresolved"`
	Errors     []PositionError `json:"errors"`
}

// PositionKey "<exchange>:<positionId>".
func PositionKey(exchange, positionID string) string {
	return exchange + ":" + positionID
}
