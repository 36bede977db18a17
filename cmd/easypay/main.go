// Package main запускает HTTP-сервер и планировщик сверки платежей easypay.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/easypay-reconciler/internal/config"
	"github.com/mmeshcher/easypay-reconciler/internal/events"
	"github.com/mmeshcher/easypay-reconciler/internal/gateway"
	"github.com/mmeshcher/easypay-reconciler/internal/handler"
	"github.com/mmeshcher/easypay-reconciler/internal/middleware"
	"github.com/mmeshcher/easypay-reconciler/internal/repository"
	"github.com/mmeshcher/easypay-reconciler/internal/scheduler"
	"github.com/mmeshcher/easypay-reconciler/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.Open(context.Background(), repository.Kind(cfg.Storage), cfg.StoragePath, cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("storage initialization error", "storage", cfg.Storage, "error", err.Error())
	}

	publisher, err := openPublisher(cfg)
	if err != nil {
		sugar.Fatalw("event publisher initialization error", "error", err.Error())
	}

	client := gateway.NewClient(gateway.Config{
		Production: cfg.Production,
		Username:   cfg.Username,
		Password:   cfg.Password,
		CIN:        cfg.CIN,
		Entity:     cfg.Entity,
	}, gateway.NewHTTPTransport(cfg.RequestTimeout))

	svc := service.NewService(repo, client, publisher, logger)
	defer func() {
		if err := svc.Close(); err != nil {
			sugar.Errorw("close service error", "error", err)
		}
	}()

	sched := scheduler.New(svc, client, svc, scheduler.Config{
		Interval:       cfg.PollInterval,
		Workers:        cfg.PollWorkers,
		RequestTimeout: cfg.RequestTimeout,
	}, logger)

	identity := middleware.NewIdentityMiddleware(client, logger)
	h := handler.NewHandler(svc, logger, identity)

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: h.SetupRouter(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Фоновая сверка документов со шлюзом
	g.Go(func() error {
		return sched.Run(ctx)
	})

	g.Go(func() error {
		sugar.Infow("starting easypay server",
			"addr", cfg.RunAddress,
			"gateway", client.BaseURL(),
			"storage", cfg.Storage,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Errorw("application terminated with error", "error", err)
	}
}

func openPublisher(cfg *config.Config) (events.Publisher, error) {
	switch {
	case cfg.KafkaBroker != "":
		return events.NewKafkaPublisher(cfg.KafkaBroker, cfg.KafkaTopic), nil
	case cfg.RabbitMQURL != "":
		return events.NewRabbitPublisher(cfg.RabbitMQURL, cfg.RabbitMQQueue)
	default:
		return events.NopPublisher{}, nil
	}
}
