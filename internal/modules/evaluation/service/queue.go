package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"trade_ledger/internal/models"
	ledger "trade_ledger/internal/modules/ledger/service"
	storage "trade_ledger/internal/modules/storage/service"
	"trade_ledger/internal/notify"

	"go.uber.org/zap"
)

// ErrInvalidState позиция не в том статусе, которого ждёт операция.
var ErrInvalidState = errors.New("evaluation: position is not in the expected state")

// Queue производное представление: единственный источник правды это
// статус и openingEvalDone в incoming_positions. Сама очередь не хранится
// и пересобирается после каждой мутации.
type Queue struct {
	store         ledger.Store
	popupsEnabled bool
	notifier      notify.Notifier
	log           *zap.Logger
	now           func() time.Time

	mu         sync.RWMutex
	tasks      []models.EvaluationTask
	index      map[string]struct{}
	unresolved map[string]*models.IncomingPosition
	primed     bool
}

func NewQueue(store ledger.Store, popupsEnabled bool, notifier notify.Notifier, log *zap.Logger) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{
		store:         store,
		popupsEnabled: popupsEnabled,
		notifier:      notifier,
		log:           log.Named("evaluation"),
		now:           time.Now,
		index:         make(map[string]struct{}),
		unresolved:    make(map[string]*models.IncomingPosition),
	}
}

// Rebuild пересобирает очередь из хранилища и уведомляет о задачах,
// которых не было в прошлой сборке.
func (q *Queue) Rebuild(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("evaluation.Rebuild: %w", err)
		}
	}()

	repo := q.store.Repo()
	var tasks []models.EvaluationTask
	index := make(map[string]struct{})
	enqueue := func(t models.EvaluationTask) {
		if _, ok := index[t.Key()]; ok {
			return
		}
		index[t.Key()] = struct{}{}
		tasks = append(tasks, t)
	}

	if q.popupsEnabled {
		notShown := false
		opening, err := repo.FindPositions(ctx, storage.PositionFilter{
			Status:          models.StatusOpen,
			OpeningEvalDone: &notShown,
		})
		if err != nil {
			return err
		}
		for _, p := range opening {
			enqueue(newTask(models.EvaluationOpening, p, p.CreatedAt))
		}
	}

	closing, err := repo.FindPositions(ctx, storage.PositionFilter{Status: models.StatusPendingEvaluation})
	if err != nil {
		return err
	}
	for _, p := range closing {
		enqueue(newTask(models.EvaluationClosing, p, p.UpdatedAt))
	}

	stuck, err := repo.FindPositions(ctx, storage.PositionFilter{Status: models.StatusUnresolved})
	if err != nil {
		return err
	}
	unresolved := make(map[string]*models.IncomingPosition, len(stuck))
	for _, p := range stuck {
		unresolved[models.PositionKey(p.Exchange, p.PositionID)] = p
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].EnqueuedAt.Equal(tasks[j].EnqueuedAt) {
			return tasks[i].EnqueuedAt.Before(tasks[j].EnqueuedAt)
		}
		return tasks[i].Key() < tasks[j].Key()
	})

	q.mu.Lock()
	var fresh []models.EvaluationTask
	for _, t := range tasks {
		if _, ok := q.index[t.Key()]; !ok {
			fresh = append(fresh, t)
		}
	}
	var newlyStuck []*models.IncomingPosition
	for key, p := range unresolved {
		if _, ok := q.unresolved[key]; !ok {
			newlyStuck = append(newlyStuck, p)
		}
	}
	primed := q.primed
	q.tasks, q.index, q.unresolved, q.primed = tasks, index, unresolved, true
	badge := q.countsLocked()
	q.mu.Unlock()

	if !primed {
		// после старта не перечисляем всё заново, только итог
		if badge.Total() > 0 {
			q.notify(ctx, "📝 Ждут оценки: "+badge.String())
		}
		return nil
	}
	if len(fresh) > 0 {
		q.notify(ctx, describeTasks(fresh, badge))
	}
	sort.Slice(newlyStuck, func(i, j int) bool { return newlyStuck[i].PositionID < newlyStuck[j].PositionID })
	for _, p := range newlyStuck {
		q.notify(ctx, fmt.Sprintf("⚠️ %s %s %s: биржа так и не отдала историю закрытия, нужна ручная проверка",
			p.Exchange, p.Symbol, p.PositionID))
	}
	return nil
}

func newTask(kind models.EvaluationKind, p *models.IncomingPosition, at time.Time) models.EvaluationTask {
	t := models.EvaluationTask{
		Kind:       kind,
		Exchange:   p.Exchange,
		PositionID: p.PositionID,
		Symbol:     p.Symbol,
		Side:       p.Side,
		EnqueuedAt: at,
	}
	if kind == models.EvaluationClosing {
		t.ClosePayload = p.ClosePayload
	}
	return t
}

func describeTasks(tasks []models.EvaluationTask, badge notify.Badge) string {
	var b strings.Builder
	b.WriteString("📝 Новые оценки:\n")
	for _, t := range tasks {
		verb := "открытие"
		if t.Kind == models.EvaluationClosing {
			verb = "закрытие"
		}
		fmt.Fprintf(&b, "- %s %s %s [%s]\n", verb, t.Exchange, t.Symbol, t.Side)
	}
	b.WriteString("Всего: " + badge.String())
	return b.String()
}

func (q *Queue) notify(ctx context.Context, msg string) {
	if q.notifier == nil {
		return
	}
	if err := q.notifier.Notify(ctx, msg); err != nil {
		q.log.Warn("notify failed", zap.Error(err))
	}
}

// Pending копия текущих задач в порядке постановки.
func (q *Queue) Pending() []models.EvaluationTask {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]models.EvaluationTask(nil), q.tasks...)
}

// Unresolved позиции, для которых сдались ждать историю.
func (q *Queue) Unresolved() []*models.IncomingPosition {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]*models.IncomingPosition, 0, len(q.unresolved))
	for _, p := range q.unresolved {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return models.PositionKey(out[i].Exchange, out[i].PositionID) < models.PositionKey(out[j].Exchange, out[j].PositionID)
	})
	return out
}

// Counts счётчики для бейджей.
func (q *Queue) Counts() notify.Badge {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.countsLocked()
}

func (q *Queue) countsLocked() notify.Badge {
	var b notify.Badge
	for _, t := range q.tasks {
		switch t.Kind {
		case models.EvaluationOpening:
			b.Opening++
		case models.EvaluationClosing:
			b.Closing++
		}
	}
	b.Unresolved = len(q.unresolved)
	return b
}

// MarkOpeningShown сохраняет то, что пользователь ввёл при открытии,
// и отмечает оценку открытия показанной.
func (q *Queue) MarkOpeningShown(ctx context.Context, exchange, positionID string, meta models.UserMetadata) error {
	err := q.store.InTx(ctx, func(ctx context.Context, r storage.Repo) error {
		p, err := r.LockPosition(ctx, exchange, positionID)
		if err != nil {
			return err
		}
		if p.Status != models.StatusOpen {
			return fmt.Errorf("%w: %s is %s", ErrInvalidState, positionID, p.Status)
		}
		p.Metadata = p.Metadata.Merge(meta)
		p.OpeningEvalDone = true
		p.UpdatedAt = q.now().UTC()
		return r.UpdatePosition(ctx, p)
	})
	if err != nil {
		return fmt.Errorf("evaluation.MarkOpeningShown %s:%s: %w", exchange, positionID, err)
	}
	return q.Rebuild(ctx)
}

// SubmitClosing единственный путь из pending_evaluation в done: метаданные
// уходят в аннотации под id сделки из close payload, строка удаляется.
func (q *Queue) SubmitClosing(ctx context.Context, exchange, positionID string, meta models.UserMetadata) error {
	err := q.store.InTx(ctx, func(ctx context.Context, r storage.Repo) error {
		p, err := r.LockPosition(ctx, exchange, positionID)
		if err != nil {
			return err
		}
		if p.Status != models.StatusPendingEvaluation {
			return fmt.Errorf("%w: %s is %s", ErrInvalidState, positionID, p.Status)
		}
		payload, err := ledger.DecodeClosePayload(p.ClosePayload)
		if err != nil {
			return err
		}
		p.Metadata = p.Metadata.Merge(meta)
		trade := models.Trade{
			ID:       payload.TradeID,
			DateUnix: payload.DateUnix,
			Exchange: p.Exchange,
			Symbol:   p.Symbol,
		}
		if err := ledger.TransferMetadata(ctx, r, p, trade, q.now().UTC()); err != nil {
			return err
		}
		return r.DeletePosition(ctx, exchange, positionID)
	})
	if err != nil {
		return fmt.Errorf("evaluation.SubmitClosing %s:%s: %w", exchange, positionID, err)
	}
	q.log.Info("closing evaluation submitted",
		zap.String("exchange", exchange),
		zap.String("position_id", positionID),
	)
	return q.Rebuild(ctx)
}

// ResolveUnresolved ручной разбор зависшей позиции: retry возвращает её в
// open со сброшенными счётчиками, иначе строка удаляется.
func (q *Queue) ResolveUnresolved(ctx context.Context, exchange, positionID string, retry bool) error {
	err := q.store.InTx(ctx, func(ctx context.Context, r storage.Repo) error {
		p, err := r.LockPosition(ctx, exchange, positionID)
		if err != nil {
			return err
		}
		if p.Status != models.StatusUnresolved {
			return fmt.Errorf("%w: %s is %s", ErrInvalidState, positionID, p.Status)
		}
		if !retry {
			return r.DeletePosition(ctx, exchange, positionID)
		}
		p.Status = models.StatusOpen
		p.CloseMisses = 0
		p.FirstMissedAt = time.Time{}
		p.UpdatedAt = q.now().UTC()
		return r.UpdatePosition(ctx, p)
	})
	if err != nil {
		return fmt.Errorf("evaluation.ResolveUnresolved %s:%s: %w", exchange, positionID, err)
	}
	return q.Rebuild(ctx)
}
