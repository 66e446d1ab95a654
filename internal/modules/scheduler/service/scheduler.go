package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trade_ledger/internal/models"
	reconciler "trade_ledger/internal/modules/reconciler/service"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Runner один проход сверки.
type Runner interface {
	RunPass(ctx context.Context) (models.PassResult, error)
}

// Scheduler запускает проход по таймеру и по требованию. Срабатывание
// таймера во время идущего прохода пропускается, а не ставится в очередь.
type Scheduler struct {
	runner      Runner
	interval    time.Duration
	passTimeout time.Duration
	log         *zap.Logger

	cron  *cron.Cron
	job   cron.Job
	group singleflight.Group
}

func New(runner Runner, interval, passTimeout time.Duration, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Scheduler{
		runner:      runner,
		interval:    interval,
		passTimeout: passTimeout,
		log:         log.Named("scheduler"),
	}
	logger := cronLogger{s.log.Sugar()}
	s.cron = cron.New(cron.WithLogger(logger))
	// один и тот же job для таймера и прохода на старте: пересечься они не могут
	s.job = cron.NewChain(cron.SkipIfStillRunning(logger)).Then(cron.FuncJob(s.tick))
	return s
}

// Start регистрирует таймер и сразу запускает первый проход.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddJob(fmt.Sprintf("@every %s", s.interval), s.job); err != nil {
		return fmt.Errorf("schedule reconciliation every %s: %w", s.interval, err)
	}
	s.cron.Start()
	s.log.Info("scheduler started", zap.Duration("interval", s.interval))
	go s.job.Run()
	return nil
}

// Stop ждёт завершения текущего прохода или ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.passTimeout)
	defer cancel()

	_, err := s.runner.RunPass(ctx)
	switch {
	case errors.Is(err, reconciler.ErrPassInFlight):
		s.log.Debug("timer fired during a pass, skipped")
	case err != nil:
		// следующий проход по расписанию и есть ретрай
		s.log.Warn("scheduled pass failed", zap.Error(err))
	}
}

// TriggerNow проход по требованию. Одновременные вызовы получают результат
// одного и того же прохода; если идёт проход от таймера, ErrPassInFlight.
func (s *Scheduler) TriggerNow(ctx context.Context) (models.PassResult, error) {
	ch := s.group.DoChan("pass", func() (any, error) {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.passTimeout)
		defer cancel()
		return s.runner.RunPass(pctx)
	})
	select {
	case r := <-ch:
		res, _ := r.Val.(models.PassResult)
		return res, r.Err
	case <-ctx.Done():
		return models.PassResult{}, ctx.Err()
	}
}

// cronLogger cron.Logger поверх zap.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
