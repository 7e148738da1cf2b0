package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"PerpExchange/internal/config"
	"PerpExchange/internal/domain/models"

	"github.com/go-redis/redis/v8"
)

const (
	pricePrefix    = "perpex:price"
	cooldownPrefix = "perpex:cooldown"
	overridePrefix = "perpex:lev_override"
	blockKey       = "perpex:block"
)

type Redis struct {
	client *redis.Client
}

func New(redisConfig config.RedisConfig) *Redis {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisConfig.Host + ":" + strconv.Itoa(redisConfig.Port),
		Password: redisConfig.Password,
		DB:       redisConfig.Db,
	})

	return &Redis{
		client: redisClient,
	}
}

// ---------- price cache ----------

func (s *Redis) SavePrices(ctx context.Context, prices []models.PriceResponse) error {
	log := slog.With("method", "SavePrices")
	pipe := s.client.Pipeline()

	for _, priceResp := range prices {
		key := fmt.Sprintf("%s:%s", pricePrefix, priceResp.Symbol)
		value, _ := json.Marshal(priceResp.Price)
		pipe.Set(ctx, key, value, 10*time.Minute)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		log.Error("failed to save prices", "err", err)
		return fmt.Errorf("failed to save prices: %w", err)
	}

	return nil
}

func (s *Redis) GetPrice(ctx context.Context, ticker string) (string, error) {
	log := slog.With("method", "GetPrice")

	data, err := s.client.Get(ctx, pricePrefix+":"+ticker).Result()
	if err != nil {
		log.Error("failed to get price", "ticker", ticker, "err", err)
		return "", fmt.Errorf("failed to get price: %w", err)
	}
	var price string
	err = json.Unmarshal([]byte(data), &price)
	if err != nil {
		log.Error("failed to unmarshal price", "data", data, "err", err)
		return "", fmt.Errorf("failed to unmarshal price: %w", err)
	}

	return price, nil
}

// ---------- cooldown stamps ----------

// SetTradeLastUpdated stamps the block at which the given field of a trade
// slot last changed. One hash per slot, one field per action.
func (s *Redis) SetTradeLastUpdated(ctx context.Context,
	trader, pairIndex, index int64,
	action models.CooldownAction,
	block uint64) error {
	const method = "SetTradeLastUpdated"
	log := slog.With("method", method)

	key := fmt.Sprintf("%s:%d:%d:%d", cooldownPrefix, trader, pairIndex, index)
	err := s.client.HSet(ctx, key, string(action), block).Err()
	if err != nil {
		log.Error("failed to set cooldown stamp", "key", key, "action", action, "err", err)
		return fmt.Errorf("failed to set cooldown stamp: %w", err)
	}
	return nil
}

// TradeLastUpdated returns the stamped block for an action, zero when the
// slot was never stamped.
func (s *Redis) TradeLastUpdated(ctx context.Context,
	trader, pairIndex, index int64,
	action models.CooldownAction) (uint64, error) {
	const method = "TradeLastUpdated"
	log := slog.With("method", method)

	key := fmt.Sprintf("%s:%d:%d:%d", cooldownPrefix, trader, pairIndex, index)
	data, err := s.client.HGet(ctx, key, string(action)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		log.Error("failed to get cooldown stamp", "key", key, "action", action, "err", err)
		return 0, fmt.Errorf("failed to get cooldown stamp: %w", err)
	}

	block, err := strconv.ParseUint(data, 10, 64)
	if err != nil {
		log.Error("failed to parse cooldown stamp", "data", data, "err", err)
		return 0, fmt.Errorf("failed to parse cooldown stamp: %w", err)
	}
	return block, nil
}

// ---------- leverage overrides ----------

// MaxLeverageOverride returns the per-pair leverage ceiling set by ops,
// zero when no override is active.
func (s *Redis) MaxLeverageOverride(ctx context.Context, pairIndex int64) (uint8, error) {
	const method = "MaxLeverageOverride"
	log := slog.With("method", method)

	data, err := s.client.Get(ctx, fmt.Sprintf("%s:%d", overridePrefix, pairIndex)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		log.Error("failed to get leverage override", "pair", pairIndex, "err", err)
		return 0, fmt.Errorf("failed to get leverage override: %w", err)
	}

	override, err := strconv.ParseUint(data, 10, 8)
	if err != nil {
		log.Error("failed to parse leverage override", "data", data, "err", err)
		return 0, fmt.Errorf("failed to parse leverage override: %w", err)
	}
	return uint8(override), nil
}

func (s *Redis) SetMaxLeverageOverride(ctx context.Context, pairIndex int64, maxLeverage uint8) error {
	const method = "SetMaxLeverageOverride"
	log := slog.With("method", method)

	err := s.client.Set(ctx, fmt.Sprintf("%s:%d", overridePrefix, pairIndex), uint64(maxLeverage), 0).Err()
	if err != nil {
		log.Error("failed to set leverage override", "pair", pairIndex, "err", err)
		return fmt.Errorf("failed to set leverage override: %w", err)
	}

	log.Info("leverage override set", "pair", pairIndex, "max_leverage", maxLeverage)
	return nil
}

// ---------- block height ----------

func (s *Redis) CurrentBlock(ctx context.Context) (uint64, error) {
	const method = "CurrentBlock"
	log := slog.With("method", method)

	data, err := s.client.Get(ctx, blockKey).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		log.Error("failed to get current block", "err", err)
		return 0, fmt.Errorf("failed to get current block: %w", err)
	}

	block, err := strconv.ParseUint(data, 10, 64)
	if err != nil {
		log.Error("failed to parse current block", "data", data, "err", err)
		return 0, fmt.Errorf("failed to parse current block: %w", err)
	}
	return block, nil
}

// AdvanceBlock bumps the engine's block height. Called by the price feed
// on every publish tick.
func (s *Redis) AdvanceBlock(ctx context.Context) (uint64, error) {
	const method = "AdvanceBlock"
	log := slog.With("method", method)

	block, err := s.client.Incr(ctx, blockKey).Result()
	if err != nil {
		log.Error("failed to advance block", "err", err)
		return 0, fmt.Errorf("failed to advance block: %w", err)
	}
	return uint64(block), nil
}
