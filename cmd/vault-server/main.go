package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/olegin77/TUSD-sub001/internal/handler"
	"github.com/olegin77/TUSD-sub001/internal/model"
	"github.com/olegin77/TUSD-sub001/internal/server"
	"github.com/olegin77/TUSD-sub001/internal/service"
	"github.com/olegin77/TUSD-sub001/internal/service/indexer"
	"github.com/olegin77/TUSD-sub001/internal/service/mq"
	"github.com/olegin77/TUSD-sub001/internal/service/oracle"
	"github.com/olegin77/TUSD-sub001/pkg/cache"
	"github.com/olegin77/TUSD-sub001/pkg/config"
	"github.com/olegin77/TUSD-sub001/pkg/database"
	"github.com/olegin77/TUSD-sub001/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger.Init(cfg.App.Env)
	defer logger.Sync()

	db, err := database.ConnectPostgres(cfg.DB.DSN())
	if err != nil {
		logger.Fatal("postgres connection failed", zap.Error(err))
	}

	rdb, err := database.ConnectRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}

	if cfg.App.Env == "development" {
		logger.Info("development env: running AutoMigrate")
		if err := db.AutoMigrate(model.AllModels()...); err != nil {
			logger.Fatal("auto migrate failed", zap.Error(err))
		}
	} else {
		logger.Info("production env: skipping AutoMigrate, manage schema with the migrate tool")
	}

	// Message queue: Redis Streams by default, Kafka when configured.
	var producer mq.Producer
	var consumer mq.Consumer
	if cfg.Redis.MQType == "kafka" {
		logger.Info("using kafka as message queue")
		producer = mq.NewKafkaProducer(cfg.Kafka.Brokers, service.TopicBridgeIntents)
		consumer = mq.NewKafkaConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID)
	} else {
		logger.Info("using redis streams as message queue")
		producer = mq.NewRedisProducer(rdb)
		consumer = mq.NewRedisConsumer(rdb, cfg.Kafka.GroupID, "vault-server")
	}

	// Core services.
	prices := oracle.New(db, cache.NewRedisCache(rdb), &cfg.Oracle)
	boost := service.NewBoostService(db, prices)
	deposits := service.NewDepositService(db, &cfg.Deposit)
	processor := service.NewEventProcessor(db, boost)
	bridge := service.NewBridgeService(db, deposits, processor, &cfg.Bridge)

	ctx, cancel := context.WithCancel(context.Background())

	// Outbox relay and validator confirmation intake.
	relay := service.NewRelayService(db, producer)
	go relay.Start(ctx)

	confirmations := service.NewConfirmationConsumer(bridge, consumer)
	go func() {
		if err := confirmations.Start(ctx); err != nil {
			logger.Error("confirmation consumer stopped", zap.Error(err))
		}
	}()

	// Chain indexers.
	solIndexer := indexer.NewSolanaIndexer(&cfg.Solana, db, processor)
	if cfg.Solana.AutoStart {
		if err := solIndexer.Start(ctx); err != nil {
			logger.Error("solana indexer not started", zap.Error(err))
		}
	}
	evmIndexer := indexer.NewEvmIndexer(&cfg.Evm, db, bridge)
	if cfg.Evm.AutoStart {
		if err := evmIndexer.Start(ctx); err != nil {
			logger.Error("evm indexer not started", zap.Error(err))
		}
	}

	// Scheduled sweeps.
	crons := service.NewCronService(rdb, deposits, prices, &cfg.Oracle)
	crons.Start()

	router := server.NewHTTPRouter(server.Handlers{
		Deposit: handler.NewDepositHandler(deposits),
		Boost:   handler.NewBoostHandler(boost),
		Bridge:  handler.NewBridgeHandler(bridge),
		Oracle:  handler.NewOracleHandler(prices),
	})

	app := server.New(cfg.App.HttpPort, router)
	app.OnShutdown(cancel)
	app.OnShutdown(crons.Stop)
	app.OnShutdown(solIndexer.Stop)
	app.OnShutdown(evmIndexer.Stop)
	app.Run()

	logger.Info("closing database connections...")
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	rdb.Close()
	logger.Info("exited")
}
