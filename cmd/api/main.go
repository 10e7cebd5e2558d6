package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/cards/internal/config"
	"github.com/congo-pay/cards/internal/events"
	"github.com/congo-pay/cards/internal/infra"
	"github.com/congo-pay/cards/internal/logging"
	"github.com/congo-pay/cards/internal/routes"
	"github.com/congo-pay/cards/internal/server"
	"github.com/congo-pay/cards/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "cards: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.AppName)
	decimal.MarshalJSONWithoutQuotes = true

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := routes.Deps{Cfg: cfg, Logger: logger}

	switch cfg.StoreBackend {
	case config.StorePostgres:
		db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		deps.DB = db
	case config.StoreMongo:
		mdb, err := infra.NewMongoDatabase(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return err
		}
		defer func() {
			if err := mdb.Client().Disconnect(context.Background()); err != nil {
				logger.Warn("close mongo", "error", err)
			}
		}()
		deps.Mongo = mdb
	}

	if cfg.RedisURL != "" {
		cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
		deps.Cache = cache
	}

	services, err := routes.NewServices(ctx, deps)
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}

	workerErrCh := make(chan error, 1)
	if cfg.AMQPURL != "" {
		broker, err := startWorker(ctx, cfg, services, logger, workerErrCh)
		if err != nil {
			return err
		}
		defer func() {
			if err := broker.Close(); err != nil {
				logger.Warn("close amqp", "error", err)
			}
		}()
	} else {
		logger.Info("AMQP_URL not set, broker worker disabled")
	}

	srv := server.New(cfg, deps, services, logger)
	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-srvErrCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case err := <-workerErrCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("worker stopped", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("server exited cleanly")
	return nil
}

func startWorker(ctx context.Context, cfg config.Config, s *routes.Services, logger *slog.Logger, errCh chan<- error) (*infra.Broker, error) {
	queues := routes.Queues(cfg)
	broker, err := infra.NewBroker(cfg.AMQPURL, cfg.AMQPExchange, queues.Names())
	if err != nil {
		return nil, err
	}
	publisher, err := events.NewAMQPPublisher(broker.Publish, cfg.AMQPExchange, 0)
	if err != nil {
		_ = broker.Close()
		return nil, fmt.Errorf("amqp publisher: %w", err)
	}

	consumer := worker.NewConsumer(broker.Consume, routes.NewWorkerHandler(cfg, s, publisher, logger), cfg.AppName, logger)
	go func() {
		errCh <- consumer.Run(ctx)
	}()
	logger.Info("broker worker started", "queues", queues.Names())
	return broker, nil
}
