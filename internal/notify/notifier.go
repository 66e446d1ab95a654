package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Notifier канал, которым пользователь узнаёт о новых оценках,
// зависших позициях и отказах авторизации.
type Notifier interface {
	Notify(ctx context.Context, msg string) error
}

// Badge количество неразобранных оценок для бейджей UI.
type Badge struct {
	Opening    int `json:"opening"`
	Closing    int `json:"closing"`
	Unresolved int `json:"unresolved"`
}

func (b Badge) Total() int { return b.Opening + b.Closing + b.Unresolved }

func (b Badge) String() string {
	return fmt.Sprintf("открытие: %d, закрытие: %d, без истории: %d", b.Opening, b.Closing, b.Unresolved)
}

// Stdout пишет уведомления в лог; используется без telegram.token.
type Stdout struct {
	log *zap.Logger
}

func NewStdout(log *zap.Logger) *Stdout { return &Stdout{log: log.Named("notify")} }

func (s *Stdout) Notify(_ context.Context, msg string) error {
	s.log.Info(strings.TrimSpace(msg))
	return nil
}

// Recorder копит сообщения; для тестов и reconcile из CLI.
type Recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *Recorder) Notify(_ context.Context, msg string) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}
