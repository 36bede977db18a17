// Package scheduler периодически сверяет документы оплаты с данными шлюза.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/easypay-reconciler/internal/gateway"
	"github.com/mmeshcher/easypay-reconciler/internal/model"
)

// DefaultInterval — пауза между двумя проходами сверки.
const DefaultInterval = 5 * time.Second

// DocumentSource возвращает документы, ожидающие сверки.
type DocumentSource interface {
	ListDocuments(ctx context.Context) ([]model.Document, error)
}

// DetailsFetcher запрашивает у шлюза детали по документу.
type DetailsFetcher interface {
	DetailsMB(ctx context.Context, doc model.Document) (map[string]string, error)
}

// Marker применяет полученные детали к хранимой референции.
type Marker interface {
	MarkMB(ctx context.Context, doc model.Document, details map[string]string) error
}

// Config задаёт параметры планировщика.
type Config struct {
	// Interval — пауза после каждого прохода. Значения <= 0 заменяются на DefaultInterval.
	Interval time.Duration
	// Workers — число документов, обрабатываемых параллельно в одном проходе.
	Workers int
	// RequestTimeout ограничивает время одного запроса деталей. 0 — без ограничения.
	RequestTimeout time.Duration
}

// Scheduler — фоновый цикл сверки. Нулевое состояние — остановлен.
type Scheduler struct {
	docs    DocumentSource
	fetcher DetailsFetcher
	marker  Marker
	logger  *zap.Logger

	interval time.Duration
	workers  int
	timeout  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New создаёт остановленный планировщик.
func New(docs DocumentSource, fetcher DetailsFetcher, marker Marker, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		docs:     docs,
		fetcher:  fetcher,
		marker:   marker,
		logger:   logger,
		interval: cfg.Interval,
		workers:  cfg.Workers,
		timeout:  cfg.RequestTimeout,
	}
}

// Running сообщает, запущен ли цикл.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Start запускает цикл в отдельной горутине. Повторный вызов на запущенном планировщике ничего не делает.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		s.loop(ctx)
	}()

	s.logger.Info("scheduler started", zap.Duration("interval", s.interval), zap.Int("workers", s.workers))
}

// Stop просит цикл завершиться и ждёт окончания текущего прохода.
// Безопасен до Start и при повторных вызовах.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
	s.logger.Info("scheduler stopped")
}

// Run запускает цикл и блокируется до отмены ctx, после чего останавливает планировщик.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start(ctx)
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	// Проход не прерывается отменой: Stop ждёт его завершения.
	tickCtx := context.WithoutCancel(ctx)

	for {
		if ctx.Err() != nil {
			return
		}

		if err := s.Tick(tickCtx); err != nil {
			s.logger.Error("reconciliation tick failed", zap.Error(err))
		}

		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Tick выполняет один проход: получает все документы и сверяет каждый с шлюзом.
// Ошибка по одному документу не прерывает проход; ошибкой завершается только чтение списка документов.
func (s *Scheduler) Tick(ctx context.Context) error {
	docs, err := s.docs.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}
	if len(docs) == 0 {
		return nil
	}

	s.logger.Debug("reconciling documents", zap.Int("count", len(docs)))

	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, doc := range docs {
		doc := doc
		g.Go(func() error {
			s.reconcile(ctx, doc)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) reconcile(ctx context.Context, doc model.Document) {
	details, err := s.fetch(ctx, doc)
	if err != nil {
		var gwErr *gateway.GatewayError
		if errors.As(err, &gwErr) {
			s.logger.Info("document not settled yet",
				zap.String("doc", doc.Identifier),
				zap.String("message", gwErr.Message),
			)
			return
		}
		s.logger.Warn("fetch details failed", zap.String("doc", doc.Identifier), zap.Error(err))
		return
	}

	if err := s.marker.MarkMB(ctx, doc, details); err != nil {
		s.logger.Error("mark reference failed", zap.String("doc", doc.Identifier), zap.Error(err))
	}
}

func (s *Scheduler) fetch(ctx context.Context, doc model.Document) (map[string]string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.fetcher.DetailsMB(ctx, doc)
}
