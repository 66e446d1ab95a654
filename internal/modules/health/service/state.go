package service

import (
	"sync"
	"sync/atomic"
	"time"

	"trade_ledger/internal/models"
)

// PassStatus то, что видно в /healthz: итог последнего прохода сверки.
type PassStatus struct {
	LastPassAt          time.Time     `json:"last_pass_at"`
	LastSuccessAt       time.Time     `json:"last_success_at"`
	LastDuration        time.Duration `json:"last_duration"`
	Created             int           `json:"created"`
	Updated             int           `json:"updated"`
	Closed              int           `json:"closed"`
	Deferred            int           `json:"deferred"`
	Unresolved          int           `json:"unresolved"`
	PositionErrors      int           `json:"position_errors"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	AuthFailed          bool          `json:"auth_failed"`
}

type State struct {
	ready     atomic.Bool
	startedAt time.Time

	mu   sync.RWMutex
	pass PassStatus
}

func NewState() *State {
	s := &State{startedAt: time.Now()}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

// RecordPass err это ошибка уровня прохода (листинг, сверка уже идёт);
// ошибки по отдельным позициям проход не валят.
func (s *State) RecordPass(res models.PassResult, err error, authFailed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pass.LastPassAt = res.StartedAt
	s.pass.LastDuration = res.Duration
	s.pass.AuthFailed = authFailed
	if err != nil {
		s.pass.LastError = err.Error()
		s.pass.ConsecutiveFailures++
		return
	}

	s.pass.LastSuccessAt = res.StartedAt
	s.pass.ConsecutiveFailures = 0
	s.pass.LastError = ""
	s.pass.Created = len(res.Created)
	s.pass.Updated = len(res.Updated)
	s.pass.Closed = len(res.Closed)
	s.pass.Deferred = len(res.Deferred)
	s.pass.Unresolved = len(res.Unresolved)
	s.pass.PositionErrors = len(res.Errors)
	if len(res.Errors) > 0 {
		s.pass.LastError = res.Errors[len(res.Errors)-1].Err
	}
	s.ready.Store(true)
}

func (s *State) Pass() PassStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pass
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }
