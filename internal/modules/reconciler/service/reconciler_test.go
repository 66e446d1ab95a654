package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"trade_ledger/internal/exchange"
	"trade_ledger/internal/models"
	evaluation "trade_ledger/internal/modules/evaluation/service"
	health "trade_ledger/internal/modules/health/service"
	ledger "trade_ledger/internal/modules/ledger/service"
	storage "trade_ledger/internal/modules/storage/service"
	"trade_ledger/internal/notify"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

type fakeAdapter struct {
	name string

	mu         sync.Mutex
	open       []models.Position
	listErr    error
	closed     map[string]*models.ClosedPosition
	historyErr map[string]error
	fills      map[string][]models.Fill
	fillQuery  map[string]models.FillQuery
	stops      map[string][]models.Order
	listGate   chan struct{}
	listing    chan struct{}
	onHistory  func(ref models.PositionRef)
}

func newFake(name string) *fakeAdapter {
	return &fakeAdapter{
		name:       name,
		closed:     make(map[string]*models.ClosedPosition),
		historyErr: make(map[string]error),
		fills:      make(map[string][]models.Fill),
		fillQuery:  make(map[string]models.FillQuery),
		stops:      make(map[string][]models.Order),
	}
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) ListOpenPositions(ctx context.Context) ([]models.Position, error) {
	if f.listGate != nil {
		f.listing <- struct{}{}
		<-f.listGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]models.Position(nil), f.open...), nil
}

func (f *fakeAdapter) FetchClosedPosition(_ context.Context, ref models.PositionRef) (*models.ClosedPosition, error) {
	f.mu.Lock()
	hook := f.onHistory
	err := f.historyErr[ref.PositionID]
	closed := f.closed[ref.PositionID]
	f.mu.Unlock()

	// запрос истории идёт долго; в это время пользователь может писать в строку
	if hook != nil {
		hook(ref)
	}
	if err != nil {
		return nil, err
	}
	return closed, nil
}

func (f *fakeAdapter) FetchFills(_ context.Context, q models.FillQuery) ([]models.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fillQuery[q.PositionID] = q
	return f.fills[q.PositionID], nil
}

func (f *fakeAdapter) FetchPendingStopOrders(_ context.Context, ref models.PositionRef) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops[ref.PositionID], nil
}

func (f *fakeAdapter) setOpen(ps ...models.Position) {
	f.mu.Lock()
	f.open = ps
	f.mu.Unlock()
}

func (f *fakeAdapter) setClosed(c models.ClosedPosition) {
	f.mu.Lock()
	f.closed[c.PositionID] = &c
	f.mu.Unlock()
}

func snap(ex, id, symbol string, mark string) models.Position {
	return models.Position{
		Exchange:   ex,
		PositionID: id,
		Symbol:     symbol,
		Side:       models.SideLong,
		EntryPrice: decimal.NewFromInt(60000),
		Quantity:   decimal.NewFromInt(1),
		Leverage:   decimal.NewFromInt(10),
		MarkPrice:  decimal.RequireFromString(mark),
		OpenedAt:   t0,
	}
}

func closeOf(ex, id string, gross string, at time.Time) models.ClosedPosition {
	return models.ClosedPosition{
		Exchange:   ex,
		PositionID: id,
		Symbol:     "BTCUSDT",
		Side:       models.SideLong,
		Quantity:   decimal.NewFromInt(1),
		EntryPrice: decimal.NewFromInt(60000),
		ExitPrice:  decimal.NewFromInt(60100),
		OpenedAt:   t0,
		ClosedAt:   at,
		GrossPNL:   decimal.RequireFromString(gross),
		Fee:        decimal.RequireFromString("-0.5"),
		Raw:        []byte(`{"id":"` + id + `"}`),
	}
}

type harness struct {
	store    *storage.Store
	rec      *Reconciler
	queue    *evaluation.Queue
	state    *health.State
	notifier *notify.Recorder
	clock    time.Time
}

func setup(t *testing.T, popups bool, cfg Config, adapters ...exchange.Adapter) *harness {
	t.Helper()
	s, err := storage.NewSQLite(filepath.Join(t.TempDir(), "reconcile.db"))
	require.NoError(t, err)
	require.NoError(t, s.EnsureSchema(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	h := &harness{store: s, state: health.NewState(), notifier: &notify.Recorder{}, clock: t0}
	h.queue = evaluation.NewQueue(s, popups, h.notifier, nil)
	m := ledger.NewMaterializer(s, popups, nil)
	h.rec = NewReconciler(exchange.NewRegistry(adapters...), s, m, h.queue, h.state, h.notifier, cfg, nil)
	h.rec.now = func() time.Time { return h.clock }

	n := 0
	h.rec.newID = func() string {
		n++
		return fmt.Sprintf("row-%d", n)
	}
	return h
}

func defaultConfig() Config {
	return Config{MaxCloseRetries: 1440, MaxCloseAge: 7 * 24 * time.Hour, FillsLookback: time.Minute}
}

func (h *harness) pass(t *testing.T) models.PassResult {
	t.Helper()
	h.clock = h.clock.Add(time.Minute)
	res, err := h.rec.RunPass(context.Background())
	require.NoError(t, err)
	return res
}

func (h *harness) position(t *testing.T, ex, id string) *models.IncomingPosition {
	t.Helper()
	p, err := h.store.Repo().GetPosition(context.Background(), ex, id)
	require.NoError(t, err)
	return p
}

func TestRunPass_OpenThenClose(t *testing.T) {
	okx := newFake("okx")
	h := setup(t, true, defaultConfig(), okx)

	okx.setOpen(snap("okx", "P1", "BTCUSDT", "60050"))
	res := h.pass(t)
	assert.Equal(t, []string{"okx:P1"}, res.Created)

	p := h.position(t, "okx", "P1")
	assert.Equal(t, models.StatusOpen, p.Status)
	assert.False(t, p.OpeningEvalDone)
	assert.Equal(t, "row-1", p.ID)
	require.Len(t, h.queue.Pending(), 1)
	assert.Equal(t, models.EvaluationOpening, h.queue.Pending()[0].Kind)

	okx.setOpen()
	okx.setClosed(closeOf("okx", "P1", "100", t0.Add(3*time.Hour)))
	res = h.pass(t)
	assert.Equal(t, []string{"okx:P1"}, res.Closed)
	assert.Empty(t, res.Errors)

	p = h.position(t, "okx", "P1")
	assert.Equal(t, models.StatusPendingEvaluation, p.Status)
	payload, err := ledger.DecodeClosePayload(p.ClosePayload)
	require.NoError(t, err)
	assert.Equal(t, models.TradeID(models.DayBucket(t0), "okx", "P1"), payload.TradeID)

	kinds := map[models.EvaluationKind]int{}
	for _, task := range h.queue.Pending() {
		kinds[task.Kind]++
	}
	assert.Equal(t, 1, kinds[models.EvaluationClosing])

	q := okx.fillQuery["P1"]
	assert.True(t, q.From.Equal(t0.Add(-time.Minute)), q.From)
	assert.True(t, q.To.Equal(t0.Add(3*time.Hour+time.Minute)), q.To)
}

func TestRunPass_HistoryNotReadyIsDeferred(t *testing.T) {
	okx := newFake("okx")
	h := setup(t, false, defaultConfig(), okx)

	okx.setOpen(snap("okx", "P1", "BTCUSDT", "60050"))
	h.pass(t)

	okx.setOpen()
	res := h.pass(t)
	assert.Equal(t, []string{"okx:P1"}, res.Deferred)
	assert.Empty(t, res.Closed)

	p := h.position(t, "okx", "P1")
	assert.Equal(t, models.StatusOpen, p.Status)
	assert.Equal(t, 1, p.CloseMisses)
	assert.False(t, p.FirstMissedAt.IsZero())

	okx.setClosed(closeOf("okx", "P1", "-20", t0.Add(time.Hour)))
	res = h.pass(t)
	assert.Equal(t, []string{"okx:P1"}, res.Closed)

	// popups off: строка удалена, сделка в журнале
	_, err := h.store.Repo().GetPosition(context.Background(), "okx", "P1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	day, err := h.store.Repo().GetDayLedger(context.Background(), models.DayBucket(t0), false)
	require.NoError(t, err)
	assert.Len(t, day.Trades, 1)
}

func TestRunPass_GivesUpAfterRetries(t *testing.T) {
	okx := newFake("okx")
	cfg := defaultConfig()
	cfg.MaxCloseRetries = 3
	h := setup(t, true, cfg, okx)

	okx.setOpen(snap("okx", "P1", "BTCUSDT", "60050"))
	h.pass(t)
	okx.setOpen()

	assert.Len(t, h.pass(t).Deferred, 1)
	assert.Len(t, h.pass(t).Deferred, 1)
	res := h.pass(t)
	assert.Equal(t, []string{"okx:P1"}, res.Unresolved)
	assert.Equal(t, models.StatusUnresolved, h.position(t, "okx", "P1").Status)
	assert.Equal(t, 1, h.queue.Counts().Unresolved)

	// unresolved больше не сверяется
	res = h.pass(t)
	assert.Empty(t, res.Deferred)
	assert.Empty(t, res.Unresolved)
}

func TestRunPass_GivesUpAfterMaxAge(t *testing.T) {
	okx := newFake("okx")
	cfg := defaultConfig()
	cfg.MaxCloseAge = time.Minute
	h := setup(t, true, cfg, okx)

	okx.setOpen(snap("okx", "P1", "BTCUSDT", "60050"))
	h.pass(t)
	okx.setOpen()

	assert.Len(t, h.pass(t).Deferred, 1)
	assert.Len(t, h.pass(t).Unresolved, 1)
}

func TestRunPass_Idempotent(t *testing.T) {
	okx := newFake("okx")
	h := setup(t, true, defaultConfig(), okx)

	okx.setOpen(snap("okx", "P1", "BTCUSDT", "60050"), snap("okx", "P2", "ETHUSDT", "3000"))
	first := h.pass(t)
	assert.Len(t, first.Created, 2)
	before := h.position(t, "okx", "P1").UpdatedAt

	second := h.pass(t)
	assert.Empty(t, second.Created)
	assert.Empty(t, second.Updated)
	assert.ElementsMatch(t, []string{"okx:P1", "okx:P2"}, second.Unchanged)
	assert.True(t, before.Equal(h.position(t, "okx", "P1").UpdatedAt))

	rows, err := h.store.Repo().FindPositions(context.Background(), storage.PositionFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Len(t, h.queue.Pending(), 2)
}

func TestRunPass_DiffPartition(t *testing.T) {
	okx := newFake("okx")
	h := setup(t, false, defaultConfig(), okx)

	okx.setOpen(
		snap("okx", "1", "BTCUSDT", "60000"),
		snap("okx", "2", "BTCUSDT", "60000"),
		snap("okx", "3", "BTCUSDT", "60000"),
	)
	h.pass(t)

	okx.setOpen(
		snap("okx", "2", "BTCUSDT", "60000"),
		snap("okx", "3", "BTCUSDT", "61000"),
		snap("okx", "4", "BTCUSDT", "60000"),
	)
	okx.setClosed(closeOf("okx", "1", "10", t0.Add(time.Hour)))
	res := h.pass(t)

	assert.Equal(t, []string{"okx:1"}, res.Closed)
	assert.Equal(t, []string{"okx:3"}, res.Updated)
	assert.Equal(t, []string{"okx:2"}, res.Unchanged)
	assert.Equal(t, []string{"okx:4"}, res.Created)

	p3 := h.position(t, "okx", "3")
	assert.True(t, p3.MarkPrice.Equal(decimal.NewFromInt(61000)))
	assert.True(t, h.clock.Equal(p3.UpdatedAt))
}

func TestRunPass_ListingFailureAbortsWithoutMutation(t *testing.T) {
	okx, mexc := newFake("okx"), newFake("mexc")
	h := setup(t, true, defaultConfig(), okx, mexc)

	okx.setOpen(snap("okx", "P1", "BTCUSDT", "60000"))
	mexc.listErr = fmt.Errorf("%w: timeout", exchange.ErrTransient)

	h.clock = h.clock.Add(time.Minute)
	_, err := h.rec.RunPass(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, exchange.ErrTransient)

	rows, err := h.store.Repo().FindPositions(context.Background(), storage.PositionFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.False(t, h.state.Ready())
	assert.Equal(t, 1, h.state.Pass().ConsecutiveFailures)
	assert.Empty(t, h.notifier.Messages())
}

func TestRunPass_AuthFailureNotifiedOncePerStreak(t *testing.T) {
	okx := newFake("okx")
	h := setup(t, true, defaultConfig(), okx)
	okx.listErr = &exchange.APIError{Exchange: "okx", HTTPStatus: 401, Code: "50113", Message: "Invalid Sign", Kind: exchange.ErrAuthentication}

	for i := 0; i < 3; i++ {
		_, err := h.rec.RunPass(context.Background())
		assert.ErrorIs(t, err, exchange.ErrAuthentication)
	}
	assert.Len(t, h.notifier.Messages(), 1)
	assert.True(t, h.state.Pass().AuthFailed)

	okx.listErr = nil
	h.pass(t)
	assert.False(t, h.state.Pass().AuthFailed)

	okx.listErr = &exchange.APIError{Exchange: "okx", HTTPStatus: 401, Kind: exchange.ErrAuthentication}
	_, err := h.rec.RunPass(context.Background())
	require.Error(t, err)
	assert.Len(t, h.notifier.Messages(), 2)
}

func TestRunPass_PerPositionFailureIsIsolated(t *testing.T) {
	okx := newFake("okx")
	h := setup(t, false, defaultConfig(), okx)

	okx.setOpen(snap("okx", "A", "BTCUSDT", "60000"), snap("okx", "B", "BTCUSDT", "60000"))
	h.pass(t)

	okx.setOpen()
	okx.historyErr["A"] = fmt.Errorf("%w: 503", exchange.ErrTransient)
	okx.setClosed(closeOf("okx", "B", "5", t0.Add(time.Hour)))

	res := h.pass(t)
	assert.Equal(t, []string{"okx:B"}, res.Closed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "A", res.Errors[0].PositionID)
	assert.Equal(t, stageHistory, res.Errors[0].Stage)

	// A не тронута и будет повторена
	a := h.position(t, "okx", "A")
	assert.Equal(t, models.StatusOpen, a.Status)
	assert.Zero(t, a.CloseMisses)
}

func TestRunPass_MergeConflictIsIsolated(t *testing.T) {
	okx := newFake("okx")
	h := setup(t, true, defaultConfig(), okx)
	ctx := context.Background()

	okx.setOpen(snap("okx", "A", "BTCUSDT", "60000"))
	h.pass(t)

	// в журнале уже лежит сделка с тем же id, но другим результатом
	trade := models.Trade{
		ID:            models.TradeID(models.DayBucket(t0), "okx", "A"),
		Exchange:      "okx",
		PositionID:    "A",
		GrossProceeds: decimal.NewFromInt(999),
		DateUnix:      models.DayBucket(t0),
	}
	blotter, pnl := ledger.Recompute([]models.Trade{trade})
	require.NoError(t, h.store.Repo().SaveDayLedger(ctx, &models.DayLedger{
		DateUnix: trade.DateUnix, Trades: []models.Trade{trade}, Blotter: blotter, PnL: pnl,
	}))

	okx.setOpen()
	okx.setClosed(closeOf("okx", "A", "5", t0.Add(time.Hour)))
	res := h.pass(t)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, stageMaterialize, res.Errors[0].Stage)
	assert.Equal(t, models.StatusOpen, h.position(t, "okx", "A").Status)
}

func TestRunPass_SkipsLocallyClosedSnapshot(t *testing.T) {
	okx := newFake("okx")
	h := setup(t, true, defaultConfig(), okx)

	okx.setOpen(snap("okx", "P1", "BTCUSDT", "60000"))
	h.pass(t)

	okx.setOpen()
	okx.setClosed(closeOf("okx", "P1", "1", t0.Add(time.Hour)))
	h.pass(t)
	require.Equal(t, models.StatusPendingEvaluation, h.position(t, "okx", "P1").Status)

	// биржа снова показывает тот же id в листинге
	okx.setOpen(snap("okx", "P1", "BTCUSDT", "60000"))
	res := h.pass(t)
	assert.Empty(t, res.Created)

	rows, err := h.store.Repo().FindPositions(context.Background(), storage.PositionFilter{Exchange: "okx"})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestRunPass_AttachesStops(t *testing.T) {
	okx := newFake("okx")
	h := setup(t, true, defaultConfig(), okx)

	okx.stops["P1"] = []models.Order{
		{Kind: models.OrderStopLoss, TriggerPrice: decimal.NewFromInt(59000)},
		{Kind: models.OrderTakeProfit, TriggerPrice: decimal.NewFromInt(65000)},
		{Kind: models.OrderStopLoss, TriggerPrice: decimal.NewFromInt(58000)},
	}
	okx.setOpen(snap("okx", "P1", "BTCUSDT", "60000"))
	h.pass(t)

	p := h.position(t, "okx", "P1")
	assert.True(t, p.StopLoss.Equal(decimal.NewFromInt(59000)))
	assert.True(t, p.TakeProfit.Equal(decimal.NewFromInt(65000)))
}

func TestRunPass_SingleFlight(t *testing.T) {
	okx := newFake("okx")
	okx.listGate = make(chan struct{})
	okx.listing = make(chan struct{})
	h := setup(t, true, defaultConfig(), okx)

	done := make(chan error, 1)
	go func() {
		_, err := h.rec.RunPass(context.Background())
		done <- err
	}()

	<-okx.listing
	_, err := h.rec.RunPass(context.Background())
	assert.True(t, errors.Is(err, ErrPassInFlight))

	close(okx.listGate)
	require.NoError(t, <-done)
}

func TestRunPass_KeepsOpeningEvaluationSubmittedMidPass(t *testing.T) {
	ctx := context.Background()
	okx := newFake("okx")
	h := setup(t, true, defaultConfig(), okx)

	okx.setOpen(snap("okx", "P1", "BTCUSDT", "60000"), snap("okx", "P2", "ETHUSDT", "3000"))
	h.pass(t)

	// P1 пропала из листинга, история ещё не готова; P2 подвинулась в цене
	okx.setOpen(snap("okx", "P2", "ETHUSDT", "3100"))
	okx.onHistory = func(ref models.PositionRef) {
		if ref.PositionID != "P1" {
			return
		}
		require.NoError(t, h.queue.MarkOpeningShown(ctx, "okx", "P2", models.UserMetadata{Note: "my plan"}))
		require.NoError(t, h.queue.MarkOpeningShown(ctx, "okx", "P1", models.UserMetadata{Note: "scalp"}))
	}
	res := h.pass(t)
	assert.Equal(t, []string{"okx:P1"}, res.Deferred)
	assert.Equal(t, []string{"okx:P2"}, res.Updated)

	p2 := h.position(t, "okx", "P2")
	assert.True(t, p2.OpeningEvalDone)
	assert.Equal(t, "my plan", p2.Metadata.Note)
	assert.True(t, p2.MarkPrice.Equal(decimal.NewFromInt(3100)))

	p1 := h.position(t, "okx", "P1")
	assert.True(t, p1.OpeningEvalDone)
	assert.Equal(t, "scalp", p1.Metadata.Note)
	assert.Equal(t, 1, p1.CloseMisses)

	for _, task := range h.queue.Pending() {
		assert.NotEqual(t, models.EvaluationOpening, task.Kind, task.Key())
	}
}

func TestRunPass_NoteWrittenMidPassReachesAnnotation(t *testing.T) {
	ctx := context.Background()
	okx := newFake("okx")
	h := setup(t, false, defaultConfig(), okx)

	okx.setOpen(snap("okx", "P1", "BTCUSDT", "60000"))
	h.pass(t)

	closedAt := t0.Add(time.Hour)
	okx.setOpen()
	okx.setClosed(closeOf("okx", "P1", "100", closedAt))
	okx.onHistory = func(models.PositionRef) {
		err := h.store.InTx(ctx, func(ctx context.Context, r storage.Repo) error {
			p, err := r.LockPosition(ctx, "okx", "P1")
			if err != nil {
				return err
			}
			p.Metadata = p.Metadata.Merge(models.UserMetadata{Note: "took profit early"})
			return r.UpdatePosition(ctx, p)
		})
		require.NoError(t, err)
	}
	res := h.pass(t)
	require.Equal(t, []string{"okx:P1"}, res.Closed)

	day, err := h.store.Repo().GetDayLedger(ctx, models.DayBucket(closedAt), false)
	require.NoError(t, err)
	require.Len(t, day.Trades, 1)

	ann, err := h.store.Repo().GetAnnotation(ctx, day.Trades[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "took profit early", ann.Metadata.Note)
}

func TestRunPass_UnresolvedListedAgainIsReopened(t *testing.T) {
	okx := newFake("okx")
	cfg := defaultConfig()
	cfg.MaxCloseRetries = 2
	h := setup(t, true, cfg, okx)

	okx.setOpen(snap("okx", "P1", "BTCUSDT", "60000"))
	h.pass(t)
	okx.setOpen()
	h.pass(t)
	require.Len(t, h.pass(t).Unresolved, 1)
	require.Equal(t, 1, h.queue.Counts().Unresolved)

	okx.setOpen(snap("okx", "P1", "BTCUSDT", "60200"))
	res := h.pass(t)
	assert.Empty(t, res.Created)
	assert.Equal(t, []string{"okx:P1"}, res.Updated)

	p := h.position(t, "okx", "P1")
	assert.Equal(t, models.StatusOpen, p.Status)
	assert.Zero(t, p.CloseMisses)
	assert.True(t, p.FirstMissedAt.IsZero())
	assert.True(t, p.MarkPrice.Equal(decimal.NewFromInt(60200)))
	assert.Zero(t, h.queue.Counts().Unresolved)

	// следующий проход видит её как обычную открытую
	assert.Equal(t, []string{"okx:P1"}, h.pass(t).Unchanged)
}
