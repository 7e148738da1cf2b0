package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"PerpExchange/internal/config"
	"PerpExchange/internal/http_client"
	"PerpExchange/internal/storage/redis"

	"github.com/nats-io/nats.go"
)

// The price feed polls the upstream exchange, caches prices in redis,
// advances the engine's block height and fans prices out over jetstream
// for the keeper.
func main() {
	cfg := config.MustLoad()

	log := slog.New(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
	)

	log.Info("starting price feed", slog.String("env", cfg.Env))

	priceClient := http_client.New(cfg.FeedCfg, log)
	redisClient := redis.New(cfg.RedisCfg)

	nc, err := nats.Connect(cfg.NatsCfg.URL)
	if err != nil {
		log.Error("failed to connect to nats", "error", err)
		panic(err)
	}
	js, err := nc.JetStream()
	if err != nil {
		log.Error("failed to get jetstream context", "error", err)
		panic(err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     "PRICES-STREAM",
		Subjects: []string{"prices.*"},
	})
	if err != nil {
		log.Error("failed to create prices stream", "error", err)
		panic(err)
	}

	ctx := context.Background()
	interval := time.Duration(cfg.FeedCfg.PollInterval) * time.Millisecond
	const topicPart = "prices."

	for {
		prices, err := priceClient.GetPrices(ctx)
		if err != nil {
			log.Error("failed to poll prices", "error", err)
			time.Sleep(interval)
			continue
		}

		if err := redisClient.SavePrices(ctx, prices); err != nil {
			log.Error("failed to cache prices", "error", err)
		}

		block, err := redisClient.AdvanceBlock(ctx)
		if err != nil {
			log.Error("failed to advance block", "error", err)
		}

		for _, priceResp := range prices {
			topic := topicPart + priceResp.Symbol
			data, err := json.Marshal(priceResp)
			if err != nil {
				continue
			}
			if _, err := js.Publish(topic, data); err != nil {
				log.Error("failed to publish price", "topic", topic, "err", err)
			}
		}
		log.Debug("prices published", "count", len(prices), "block", block)

		time.Sleep(interval)
	}
}
