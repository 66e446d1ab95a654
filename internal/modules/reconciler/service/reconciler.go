package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"trade_ledger/internal/exchange"
	"trade_ledger/internal/models"
	ledger "trade_ledger/internal/modules/ledger/service"
	storage "trade_ledger/internal/modules/storage/service"
	"trade_ledger/internal/notify"
	"trade_ledger/pkg/tracing"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrPassInFlight проход уже идёт; новый не ставится в очередь.
var ErrPassInFlight = errors.New("reconciler: pass already in flight")

const (
	stageLoad        = "load"
	stageRefresh     = "refresh"
	stageCreate      = "create"
	stageHistory     = "history"
	stageFills       = "fills"
	stageMaterialize = "materialize"
	stageDefer       = "defer"
)

type Config struct {
	// MaxCloseRetries и MaxCloseAge: что наступит раньше, после того
	// позиция без истории закрытия уходит в unresolved.
	MaxCloseRetries int
	MaxCloseAge     time.Duration
	FillsLookback   time.Duration
}

type Materializer interface {
	Materialize(ctx context.Context, pos *models.IncomingPosition, closed models.ClosedPosition, fills []models.Fill) (ledger.Outcome, error)
}

type Queue interface {
	Rebuild(ctx context.Context) error
}

type StatusSink interface {
	RecordPass(res models.PassResult, err error, authFailed bool)
}

type Reconciler struct {
	registry     *exchange.Registry
	store        ledger.Store
	materializer Materializer
	queue        Queue
	status       StatusSink
	notifier     notify.Notifier
	cfg          Config
	log          *zap.Logger

	now   func() time.Time
	newID func() string

	running      atomic.Bool
	authNotified atomic.Bool
}

func NewReconciler(
	registry *exchange.Registry,
	store ledger.Store,
	materializer Materializer,
	queue Queue,
	status StatusSink,
	notifier notify.Notifier,
	cfg Config,
	log *zap.Logger,
) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		registry:     registry,
		store:        store,
		materializer: materializer,
		queue:        queue,
		status:       status,
		notifier:     notifier,
		cfg:          cfg,
		log:          log.Named("reconciler"),
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// pass состояние одного прохода.
type pass struct {
	res        models.PassResult
	authFailed bool
}

func (p *pass) fail(ex, positionID, stage string, err error) {
	if exchange.IsAuthentication(err) {
		p.authFailed = true
	}
	p.res.Errors = append(p.res.Errors, models.PositionError{
		Exchange:   ex,
		PositionID: positionID,
		Stage:      stage,
		Err:        err.Error(),
	})
}

// RunPass один проход сверки. Ошибка листинга любой биржи обрывает проход
// до каких-либо изменений; ошибки по отдельным позициям попадают в
// PassResult.Errors и проход не валят.
func (r *Reconciler) RunPass(ctx context.Context) (res models.PassResult, err error) {
	if !r.running.CompareAndSwap(false, true) {
		return models.PassResult{}, ErrPassInFlight
	}
	defer r.running.Store(false)

	p := &pass{res: models.PassResult{StartedAt: r.now().UTC()}}

	span, ctx := tracing.Start(ctx, "reconcile.pass")
	defer func() {
		p.res.Duration = r.now().UTC().Sub(p.res.StartedAt)
		tracing.Finish(span, err)
		r.finish(ctx, p, err)
		res = p.res
	}()

	snapshots, err := r.snapshot(ctx)
	if err != nil {
		if exchange.IsAuthentication(err) {
			p.authFailed = true
		}
		return
	}

	for i, a := range r.registry.All() {
		r.reconcileExchange(ctx, a, snapshots[i], p)
	}

	if r.queue != nil {
		if qerr := r.queue.Rebuild(ctx); qerr != nil {
			r.log.Warn("evaluation queue rebuild failed", zap.Error(qerr))
		}
	}
	return
}

// snapshot листинги всех бирж параллельно; одна ошибка отменяет остальные.
func (r *Reconciler) snapshot(ctx context.Context) ([][]models.Position, error) {
	adapters := r.registry.All()
	out := make([][]models.Position, len(adapters))

	g, gctx := errgroup.WithContext(ctx)
	for i, a := range adapters {
		g.Go(func() error {
			positions, err := a.ListOpenPositions(gctx)
			if err != nil {
				return fmt.Errorf("list %s positions: %w", a.Name(), err)
			}
			out[i] = positions
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Reconciler) reconcileExchange(ctx context.Context, a exchange.Adapter, snap []models.Position, p *pass) {
	name := a.Name()
	persisted, err := r.store.Repo().FindPositions(ctx, storage.PositionFilter{
		Exchange: name,
		Status:   models.StatusOpen,
	})
	if err != nil {
		p.fail(name, "", stageLoad, err)
		return
	}

	current := make(map[string]models.Position, len(snap))
	order := make([]string, 0, len(snap))
	for _, s := range snap {
		if _, dup := current[s.PositionID]; dup {
			continue
		}
		current[s.PositionID] = s
		order = append(order, s.PositionID)
	}

	known := make(map[string]struct{}, len(persisted))
	for _, row := range persisted {
		known[row.PositionID] = struct{}{}
		key := models.PositionKey(name, row.PositionID)

		s, stillOpen := current[row.PositionID]
		if !stillOpen {
			r.handleClosed(ctx, a, row, p)
			continue
		}

		changed, err := r.refresh(ctx, row, s)
		if err != nil {
			p.fail(name, row.PositionID, stageRefresh, err)
			continue
		}
		if !changed {
			p.res.Unchanged = append(p.res.Unchanged, key)
			continue
		}
		p.res.Updated = append(p.res.Updated, key)
	}

	for _, id := range order {
		if _, ok := known[id]; ok {
			continue
		}
		r.handleCreated(ctx, a, current[id], p)
	}
}

// refresh переносит рыночные поля снапшота на перечитанную строку.
// Пользовательские поля, записанные во время прохода, не затираются.
func (r *Reconciler) refresh(ctx context.Context, stale *models.IncomingPosition, s models.Position) (changed bool, err error) {
	peek := *stale
	if !peek.Refresh(s, r.now().UTC()) && stale.CloseMisses == 0 {
		return false, nil
	}
	err = r.store.InTx(ctx, func(ctx context.Context, repo storage.Repo) error {
		row, err := repo.LockPosition(ctx, stale.Exchange, stale.PositionID)
		if err != nil {
			return err
		}
		if row.Status != models.StatusOpen {
			return nil
		}
		changed = row.Refresh(s, r.now().UTC())
		if row.CloseMisses > 0 {
			// позиция вернулась в листинг: прошлые промахи были ложными
			row.CloseMisses = 0
			row.FirstMissedAt = time.Time{}
			changed = true
		}
		if !changed {
			return nil
		}
		return repo.UpdatePosition(ctx, row)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return changed, err
}

func (r *Reconciler) handleCreated(ctx context.Context, a exchange.Adapter, s models.Position, p *pass) {
	name := a.Name()
	repo := r.store.Repo()

	existing, err := repo.GetPosition(ctx, name, s.PositionID)
	switch {
	case err == nil && existing.Status == models.StatusUnresolved:
		r.reopen(ctx, existing, s, p)
		return
	case err == nil:
		// уже закрыта локально и ждёт оценки, биржа ещё держит её в
		// листинге; второй строки не заводим
		r.log.Debug("snapshot position already tracked",
			zap.String("exchange", name),
			zap.String("position_id", s.PositionID),
			zap.String("status", string(existing.Status)),
		)
		return
	case !errors.Is(err, storage.ErrNotFound):
		p.fail(name, s.PositionID, stageCreate, err)
		return
	}

	row := models.NewIncomingPosition(r.newID(), s, r.now().UTC())
	r.attachStops(ctx, a, row)

	if err := repo.CreatePosition(ctx, row); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return
		}
		p.fail(name, s.PositionID, stageCreate, err)
		return
	}
	p.res.Created = append(p.res.Created, models.PositionKey(name, s.PositionID))
	r.log.Info("position opened",
		zap.String("exchange", name),
		zap.String("position_id", s.PositionID),
		zap.String("symbol", s.Symbol),
		zap.String("side", string(s.Side)),
		zap.String("qty", s.Quantity.String()),
	)
}

// reopen unresolved-позиция снова в листинге: значит она открыта, и
// промахи истории были ложными. Возвращаем в open со сброшенными счётчиками.
func (r *Reconciler) reopen(ctx context.Context, stale *models.IncomingPosition, s models.Position, p *pass) {
	reopened := false
	err := r.store.InTx(ctx, func(ctx context.Context, repo storage.Repo) error {
		row, err := repo.LockPosition(ctx, stale.Exchange, stale.PositionID)
		if err != nil {
			return err
		}
		if row.Status != models.StatusUnresolved {
			return nil
		}
		now := r.now().UTC()
		row.Refresh(s, now)
		row.Status = models.StatusOpen
		row.CloseMisses = 0
		row.FirstMissedAt = time.Time{}
		row.UpdatedAt = now
		reopened = true
		return repo.UpdatePosition(ctx, row)
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		p.fail(stale.Exchange, stale.PositionID, stageRefresh, err)
		return
	}
	if err != nil || !reopened {
		return
	}
	p.res.Updated = append(p.res.Updated, models.PositionKey(stale.Exchange, stale.PositionID))
	r.log.Info("unresolved position is listed again, reopened",
		zap.String("exchange", stale.Exchange),
		zap.String("position_id", stale.PositionID),
	)
}

// attachStops best-effort: без стопов позиция всё равно создаётся.
func (r *Reconciler) attachStops(ctx context.Context, a exchange.Adapter, row *models.IncomingPosition) {
	orders, err := a.FetchPendingStopOrders(ctx, row.Ref())
	if err != nil {
		r.log.Warn("stop orders unavailable",
			zap.String("exchange", row.Exchange),
			zap.String("position_id", row.PositionID),
			zap.Error(err),
		)
		return
	}
	for _, o := range orders {
		switch o.Kind {
		case models.OrderStopLoss:
			if row.StopLoss.IsZero() {
				row.StopLoss = o.TriggerPrice
			}
		case models.OrderTakeProfit:
			if row.TakeProfit.IsZero() {
				row.TakeProfit = o.TriggerPrice
			}
		}
	}
}

func (r *Reconciler) handleClosed(ctx context.Context, a exchange.Adapter, row *models.IncomingPosition, p *pass) {
	name := a.Name()
	var err error
	span, ctx := tracing.Start(ctx, "reconcile.close",
		opentracing.Tag{Key: "exchange", Value: name},
		opentracing.Tag{Key: "position_id", Value: row.PositionID},
	)
	defer func() { tracing.Finish(span, err) }()

	closed, err := a.FetchClosedPosition(ctx, row.Ref())
	if err != nil {
		p.fail(name, row.PositionID, stageHistory, err)
		return
	}
	if closed == nil {
		err = r.deferClose(ctx, row, p)
		return
	}

	lookback := r.cfg.FillsLookback
	from := row.OpenedAt
	if !closed.OpenedAt.IsZero() && closed.OpenedAt.Before(from) {
		from = closed.OpenedAt
	}
	fills, err := a.FetchFills(ctx, models.FillQuery{
		PositionID: row.PositionID,
		Symbol:     row.Symbol,
		Side:       row.Side,
		From:       from.Add(-lookback),
		To:         closed.ClosedAt.Add(lookback),
		OpenedAt:   from,
		ClosedAt:   closed.ClosedAt,
	})
	if err != nil {
		p.fail(name, row.PositionID, stageFills, err)
		return
	}

	out, err := r.materializer.Materialize(ctx, row, *closed, fills)
	if errors.Is(err, exchange.ErrPartialData) {
		err = r.deferClose(ctx, row, p)
		return
	}
	if err != nil {
		p.fail(name, row.PositionID, stageMaterialize, err)
		return
	}
	p.res.Closed = append(p.res.Closed, models.PositionKey(name, row.PositionID))
	r.log.Info("position closed",
		zap.String("exchange", name),
		zap.String("position_id", row.PositionID),
		zap.String("trade_id", out.Trade.ID),
		zap.Bool("pending_evaluation", out.PendingEvaluation),
	)
}

// deferClose история ещё не опубликована: строка остаётся open, растёт
// счётчик промахов. По исчерпании лимита позиция уходит в unresolved.
func (r *Reconciler) deferClose(ctx context.Context, stale *models.IncomingPosition, p *pass) error {
	now := r.now().UTC()
	var (
		row    *models.IncomingPosition
		giveUp bool
	)
	err := r.store.InTx(ctx, func(ctx context.Context, repo storage.Repo) error {
		var err error
		row, err = repo.LockPosition(ctx, stale.Exchange, stale.PositionID)
		if err != nil {
			return err
		}
		if row.Status != models.StatusOpen {
			row = nil
			return nil
		}
		row.CloseMisses++
		if row.FirstMissedAt.IsZero() {
			row.FirstMissedAt = now
		}
		giveUp = (r.cfg.MaxCloseRetries > 0 && row.CloseMisses >= r.cfg.MaxCloseRetries) ||
			(r.cfg.MaxCloseAge > 0 && now.Sub(row.FirstMissedAt) >= r.cfg.MaxCloseAge)
		if giveUp {
			row.Status = models.StatusUnresolved
			row.UpdatedAt = now
		}
		return repo.UpdatePosition(ctx, row)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		p.fail(stale.Exchange, stale.PositionID, stageDefer, err)
		return err
	}
	if row == nil {
		return nil
	}

	key := models.PositionKey(row.Exchange, row.PositionID)
	if giveUp {
		p.res.Unresolved = append(p.res.Unresolved, key)
		r.log.Warn("close history never published, giving up",
			zap.String("exchange", row.Exchange),
			zap.String("position_id", row.PositionID),
			zap.Int("misses", row.CloseMisses),
			zap.Time("first_missed_at", row.FirstMissedAt),
		)
		return nil
	}
	p.res.Deferred = append(p.res.Deferred, key)
	r.log.Debug("close history not ready",
		zap.String("exchange", row.Exchange),
		zap.String("position_id", row.PositionID),
		zap.Int("misses", row.CloseMisses),
	)
	return nil
}

func (r *Reconciler) finish(ctx context.Context, p *pass, err error) {
	if r.status != nil {
		r.status.RecordPass(p.res, err, p.authFailed)
	}

	if p.authFailed {
		// один раз на серию, пока ключи не заработают снова
		if r.authNotified.CompareAndSwap(false, true) && r.notifier != nil {
			if nerr := r.notifier.Notify(ctx, "❌ Биржа отклонила API-ключи, сверка позиций не работает. Проверьте ключи."); nerr != nil {
				r.log.Warn("notify failed", zap.Error(nerr))
			}
		}
	} else if err == nil {
		r.authNotified.Store(false)
	}

	if err != nil {
		r.log.Warn("reconciliation pass aborted", zap.Error(err), zap.Duration("took", p.res.Duration))
		return
	}
	r.log.Info("reconciliation pass done",
		zap.Int("created", len(p.res.Created)),
		zap.Int("updated", len(p.res.Updated)),
		zap.Int("unchanged", len(p.res.Unchanged)),
		zap.Int("closed", len(p.res.Closed)),
		zap.Int("deferred", len(p.res.Deferred)),
		zap.Int("unresolved", len(p.res.Unresolved)),
		zap.Int("errors", len(p.res.Errors)),
		zap.Duration("took", p.res.Duration),
	)
}
