package main

import (
	"fmt"
	"log/slog"
	"os"

	natsbroker "PerpExchange/internal/brokers/nats"
	"PerpExchange/internal/config"
	"PerpExchange/internal/liquidation"
	"PerpExchange/internal/oracle"
	"PerpExchange/internal/services/botgate"
	"PerpExchange/internal/services/risk"
	"PerpExchange/internal/services/trading"
	"PerpExchange/internal/storage/postgres"
	"PerpExchange/internal/storage/redis"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
)

// The keeper consumes the price stream and files tp/sl/liquidation/limit-fill
// bot orders through the execution gate.
func main() {
	cfg := config.MustLoad()

	log := slog.New(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
	)

	log.Info("starting keeper", slog.String("env", cfg.Env))

	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.PostgresCfg.Username,
		cfg.PostgresCfg.Password,
		cfg.PostgresCfg.Host,
		cfg.PostgresCfg.Port,
		cfg.PostgresCfg.Database)

	storage, err := postgres.New(connString)
	if err != nil {
		log.Error("failed to connect to postgres", "error", err)
		panic(err)
	}

	redisClient := redis.New(cfg.RedisCfg)

	nc, err := nats.Connect(cfg.NatsCfg.URL)
	if err != nil {
		log.Error("failed to connect to nats", "error", err)
		panic(err)
	}

	publisher, err := natsbroker.New(nc)
	if err != nil {
		log.Error("failed to create publisher", "error", err)
		panic(err)
	}

	pairs := &pairsProvider{Storage: storage, Redis: redisClient}
	impact := risk.NewDepthImpactMeter(
		decimal.NewFromFloat(cfg.EngineCfg.PairDepth),
		decimal.NewFromFloat(cfg.EngineCfg.MaxNegativePnlOnOpenP),
	)
	fees := risk.NewBorrowingFeeMeter(
		decimal.NewFromFloat(cfg.EngineCfg.BorrowFeePerBlockP),
		decimal.NewFromFloat(cfg.EngineCfg.LiqThresholdP),
		redisClient,
	)
	riskValidator := risk.NewValidator(pairs, impact)

	params := trading.NewParams(
		decimal.NewFromFloat(cfg.EngineCfg.MaxPositionSize),
		cfg.EngineCfg.MarketOrdersTimeout,
	)

	oracleGateway := oracle.New(log, storage, publisher)

	gate := botgate.New(log, storage, oracleGateway, redisClient, redisClient,
		fees, riskValidator, publisher, params, cfg.EngineCfg.CanExecuteTimeout)

	keeper := liquidation.NewKeeper(nc, storage, gate, fees)
	keeper.Process()

	log.Info("keeper subscribed to price stream")
	select {}
}

type pairsProvider struct {
	*postgres.Storage
	*redis.Redis
}
