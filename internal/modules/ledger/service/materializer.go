package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trade_ledger/internal/models"
	storage "trade_ledger/internal/modules/storage/service"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// ErrMergeConflict сделка с тем же синтетическим id, но другим содержимым
// уже лежит в дне. Это баг, не перезаписываем.
var ErrMergeConflict = errors.New("ledger: merge conflict")

// Store часть storage, нужная материализатору.
type Store interface {
	Repo() storage.Repo
	InTx(ctx context.Context, fn func(ctx context.Context, r storage.Repo) error) error
}

// Outcome итог одной материализации.
type Outcome struct {
	Trade             models.Trade
	LedgerCreated     bool
	Duplicate         bool
	PendingEvaluation bool
}

type Materializer struct {
	store         Store
	popupsEnabled bool
	log           *zap.Logger
	now           func() time.Time
	locks         dayLocks
}

func NewMaterializer(store Store, popupsEnabled bool, log *zap.Logger) *Materializer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Materializer{
		store:         store,
		popupsEnabled: popupsEnabled,
		log:           log.Named("ledger"),
		now:           time.Now,
	}
}

// Materialize кладёт закрытую позицию в дневной журнал одной транзакцией:
// найти/создать день, добавить сделку если её там нет, пересчитать сводки,
// затем перенести метаданные и удалить позицию либо перевести её в
// pending_evaluation.
func (m *Materializer) Materialize(
	ctx context.Context,
	pos *models.IncomingPosition,
	closed models.ClosedPosition,
	fills []models.Fill,
) (out Outcome, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("ledger.Materialize %s:%s: %w", pos.Exchange, pos.PositionID, err)
		}
	}()

	trade, err := BuildTrade(pos, closed, fills)
	if err != nil {
		return Outcome{}, err
	}
	payload, err := encodeClosePayload(trade, closed)
	if err != nil {
		return Outcome{}, err
	}

	lock := m.locks.get(trade.DateUnix)
	lock.Lock()
	defer lock.Unlock()

	now := m.now().UTC()
	updated := *pos
	err = m.store.InTx(ctx, func(ctx context.Context, r storage.Repo) error {
		out = Outcome{Trade: trade}

		day, err := r.GetDayLedger(ctx, trade.DateUnix, true)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			day = &models.DayLedger{DateUnix: trade.DateUnix, CreatedAt: now}
			out.LedgerCreated = true
		case err != nil:
			return err
		}

		if idx := day.FindTrade(trade.ID); idx >= 0 {
			existing := day.Trades[idx]
			if !existing.SameContent(trade) {
				m.logConflict(existing, trade)
				return ErrMergeConflict
			}
			out.Duplicate = true
		} else {
			day.Trades = append(day.Trades, trade)
			day.Blotter, day.PnL = Recompute(day.Trades)
			day.UpdatedAt = now
			if err := r.SaveDayLedger(ctx, day); err != nil {
				return err
			}
		}

		// строку перечитываем: пока шёл проход, пользователь мог оценить
		// открытие или дописать метаданные
		fresh, err := r.LockPosition(ctx, pos.Exchange, pos.PositionID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		updated = *fresh

		if m.popupsEnabled {
			updated.Status = models.StatusPendingEvaluation
			updated.ClosePayload = payload
			updated.CloseMisses = 0
			updated.FirstMissedAt = time.Time{}
			updated.UpdatedAt = now
			out.PendingEvaluation = true
			return ignoreNotFound(r.UpdatePosition(ctx, &updated))
		}

		if err := TransferMetadata(ctx, r, fresh, trade, now); err != nil {
			return err
		}
		return ignoreNotFound(r.DeletePosition(ctx, pos.Exchange, pos.PositionID))
	})
	if err != nil {
		return Outcome{}, err
	}
	*pos = updated

	m.log.Info("trade materialized",
		zap.String("trade_id", trade.ID),
		zap.String("exchange", trade.Exchange),
		zap.String("symbol", trade.Symbol),
		zap.String("gross", trade.GrossProceeds.String()),
		zap.String("net", trade.NetProceeds.String()),
		zap.Bool("duplicate", out.Duplicate),
		zap.Bool("pending_evaluation", out.PendingEvaluation),
	)
	return out, nil
}

func (m *Materializer) logConflict(existing, incoming models.Trade) {
	a, _ := sonic.MarshalString(existing)
	b, _ := sonic.MarshalString(incoming)
	m.log.Error("MERGE CONFLICT: synthetic trade id collides with different content",
		zap.String("trade_id", incoming.ID),
		zap.String("existing", a),
		zap.String("incoming", b),
	)
}

// TransferMetadata переносит пользовательские метаданные позиции в
// side-таблицу аннотаций под id сделки. Пустые метаданные не пишутся.
func TransferMetadata(ctx context.Context, r storage.Repo, pos *models.IncomingPosition, trade models.Trade, now time.Time) error {
	if pos.Metadata.IsZero() {
		return nil
	}
	meta := pos.Metadata
	existing, err := r.GetAnnotation(ctx, trade.ID)
	switch {
	case err == nil:
		meta = existing.Metadata.Merge(pos.Metadata)
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}
	return r.UpsertAnnotation(ctx, models.Annotation{
		TradeID:   trade.ID,
		DateUnix:  trade.DateUnix,
		Exchange:  trade.Exchange,
		Symbol:    trade.Symbol,
		Metadata:  meta,
		UpdatedAt: now,
	})
}

// DayLedger журнал за день; ErrNotFound если сделок не было.
func (m *Materializer) DayLedger(ctx context.Context, dateUnix int64) (*models.DayLedger, error) {
	return m.store.Repo().GetDayLedger(ctx, dateUnix, false)
}

// Range журналы за дни, в которые попадают from..to.
func (m *Materializer) Range(ctx context.Context, from, to time.Time) ([]*models.DayLedger, error) {
	return m.store.Repo().ListDayLedgers(ctx, models.DayBucket(from), models.DayBucket(to))
}

// ignoreNotFound позиция уже завершена повторной попыткой.
func ignoreNotFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

func encodeClosePayload(trade models.Trade, closed models.ClosedPosition) ([]byte, error) {
	p := models.ClosePayload{
		TradeID:     trade.ID,
		DateUnix:    trade.DateUnix,
		Symbol:      trade.Symbol,
		ClosedAt:    trade.ExitTime,
		ExitPrice:   trade.ExitPrice,
		GrossPNL:    trade.GrossProceeds,
		Fees:        trade.Fees,
		NetProceeds: trade.NetProceeds,
	}
	if len(closed.Raw) > 0 && sonic.Valid(closed.Raw) {
		p.Raw = closed.Raw
	}
	return sonic.Marshal(p)
}

// DecodeClosePayload обратная к тому, что материализатор пишет в позицию.
func DecodeClosePayload(raw []byte) (models.ClosePayload, error) {
	var p models.ClosePayload
	if len(raw) == 0 {
		return p, errors.New("ledger: empty close payload")
	}
	if err := sonic.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("ledger: decode close payload: %w", err)
	}
	if p.TradeID == "" {
		return p, errors.New("ledger: close payload without trade id")
	}
	return p, nil
}
