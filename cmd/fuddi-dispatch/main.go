package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fuddi-app/dispatch/internal/config"
	"github.com/fuddi-app/dispatch/internal/db"
	"github.com/fuddi-app/dispatch/internal/engine"
	"github.com/fuddi-app/dispatch/internal/kafka"
	"github.com/fuddi-app/dispatch/internal/logger"
	"github.com/fuddi-app/dispatch/internal/repository/postgresql"
	"github.com/fuddi-app/dispatch/internal/server"
	"github.com/fuddi-app/dispatch/internal/telegram"
	"github.com/fuddi-app/dispatch/internal/token"
)

func main() {
	log := logger.New()
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	database, err := db.NewDb(ctx, cfg.DB)
	if err != nil {
		log.Fatal("database init failed", zap.Error(err))
	}
	defer database.Pool().Close()

	if err := db.EnsureSchema(ctx, database); err != nil {
		log.Fatal("schema init failed", zap.Error(err))
	}

	outboxRepo := postgresql.NewOutboxTaskRepo(cfg.OutboxMaxAttempts)
	orderRepo := postgresql.NewOrderRepo(database, outboxRepo, cfg.KafkaTopic)
	deliveryRepo := postgresql.NewDeliveryRepo(database)
	businessRepo := postgresql.NewBusinessRepo(database)

	codec := token.NewCodec(cfg.TokenSecret, cfg.TokenTTL)
	eng := engine.New(codec, orderRepo, log)

	bot, err := telegram.NewBot(cfg.TelegramBotToken)
	if err != nil {
		log.Fatal("telegram bot init failed", zap.Error(err))
	}
	dispatcher := telegram.NewDispatcher(bot, eng, orderRepo, deliveryRepo, businessRepo, codec, log)

	var producer kafka.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = kafka.NewKafkaProducer(cfg.KafkaBrokers)
	} else {
		producer = kafka.NewConsoleProducer(log)
	}
	publisher := kafka.NewPublisher(database, outboxRepo, producer, kafka.PublisherConfig{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		MaxAttempts:  cfg.OutboxMaxAttempts,
	}, log)

	srv := server.New(eng, dispatcher, orderRepo, cfg.DashboardBaseURL, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, cfg.HTTPPort)
	})
	g.Go(func() error {
		publisher.Run(gctx)
		return nil
	})

	err = g.Wait()
	publisher.Shutdown()
	if err != nil {
		log.Fatal("service stopped with error", zap.Error(err))
	}
	log.Info("service stopped")
}
