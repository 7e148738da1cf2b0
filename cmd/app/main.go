package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"PerpExchange/internal/brokers/nats"
	"PerpExchange/internal/config"
	"PerpExchange/internal/domain/models"
	"PerpExchange/internal/oracle"
	"PerpExchange/internal/services/account"
	"PerpExchange/internal/services/botgate"
	"PerpExchange/internal/services/risk"
	"PerpExchange/internal/services/trading"
	"PerpExchange/internal/storage/postgres"
	"PerpExchange/internal/storage/redis"
	handler "PerpExchange/transport"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	natsio "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const (
	envLocal = "local"
	envProd  = "prod"
)

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("starting trading engine",
		slog.String("env", cfg.Env),
	)

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

	nc, err := natsio.Connect(cfg.NatsCfg.URL)
	if err != nil {
		log.Error("failed to connect to nats", "error", err)
		panic(err)
	}
	log.Info("connected to nats broker", "url", cfg.NatsCfg.URL)

	publisher, err := nats.New(nc)
	if err != nil {
		log.Error("failed to create publisher", "error", err)
		panic(err)
	}
	if err := publisher.EnsureStream("ENGINE-EVENTS", models.SubjectEventsAll); err != nil {
		panic(err)
	}
	if err := publisher.EnsureStream("ORACLE-REQUESTS", oracle.SubjectPrefix+".*"); err != nil {
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
	limits := trading.StaticLimits{
		MaxTradesPerPair:       cfg.EngineCfg.MaxTradesPerPair,
		MaxPendingMarketOrders: cfg.EngineCfg.MaxPendingMarketOrders,
		LimitOrderTimelock:     cfg.EngineCfg.LimitOrderTimelock,
	}

	oracleGateway := oracle.New(log, storage, publisher)

	tradingService := trading.New(log, storage, oracleGateway, pairs, riskValidator,
		redisClient, redisClient, publisher, limits, params)
	gate := botgate.New(log, storage, oracleGateway, redisClient, redisClient,
		fees, riskValidator, publisher, params, cfg.EngineCfg.CanExecuteTimeout)
	accountService := account.New(log, storage, storage)

	validate := validator.New()

	userHandler := handler.NewUserHandler(log, accountService, validate)
	tradeHandler := handler.NewTradeHandler(log, tradingService, validate)
	botHandler := handler.NewBotHandler(log, gate, validate)
	adminHandler := handler.NewAdminHandler(log, params, validate, cfg.HTTPCfg.AdminToken)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-Admin-Token"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Mount("/user", userHandler.Routes())
	r.Mount("/trade", tradeHandler.Routes())
	r.Mount("/bot", botHandler.Routes())
	r.Mount("/admin", adminHandler.Routes())
	r.Handle("/metrics", promhttp.Handler())

	port := ":" + strconv.Itoa(cfg.HTTPCfg.Port)
	log.Info("Starting server on " + port)
	if err := http.ListenAndServe(port, r); err != nil {
		log.Error("Server failed", "error", err)
	}
}

// pairsProvider joins the pair table in postgres with the ops-set leverage
// overrides in redis behind one interface.
type pairsProvider struct {
	*postgres.Storage
	*redis.Redis
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewJSONHandler(
				os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(
				os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(
				os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	}

	return log
}
