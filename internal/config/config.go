package config

import (
	"flag"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env         string         `yaml:"env" env-default:"local"`
	PostgresCfg PostgresConfig `yaml:"postgres"`
	RedisCfg    RedisConfig    `yaml:"redis"`
	NatsCfg     NatsConfig     `yaml:"nats"`
	FeedCfg     FeedConfig     `yaml:"binance_http_client"`
	HTTPCfg     HTTPConfig     `yaml:"http_server"`
	EngineCfg   EngineConfig   `yaml:"engine"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Db       int    `yaml:"db"`
	Password string `yaml:"password"`
}

type NatsConfig struct {
	URL string `yaml:"url" env-default:"nats://localhost:4222"`
}

type FeedConfig struct {
	BaseURL      string   `yaml:"base_url"`
	Endpoint     string   `yaml:"ticker_price_endpoint"`
	Streams      []string `yaml:"streams"`
	PollInterval int      `yaml:"poll_interval_ms" env-default:"1000"`
}

type HTTPConfig struct {
	Port       int    `yaml:"port" env-default:"8080"`
	AdminToken string `yaml:"admin_token" env:"ADMIN_TOKEN"`
}

// EngineConfig carries the trading engine's risk and timing knobs. Block
// counts are feed ticks, percentages are plain numbers (1 means 1%).
type EngineConfig struct {
	MaxPositionSize        float64 `yaml:"max_position_size" env-default:"75000"`
	MarketOrdersTimeout    uint64  `yaml:"market_orders_timeout" env-default:"30"`
	MaxTradesPerPair       int64   `yaml:"max_trades_per_pair" env-default:"3"`
	MaxPendingMarketOrders int64   `yaml:"max_pending_market_orders" env-default:"5"`
	LimitOrderTimelock     uint64  `yaml:"limit_order_timelock" env-default:"30"`
	CanExecuteTimeout      uint64  `yaml:"can_execute_timeout" env-default:"5"`
	MaxNegativePnlOnOpenP  float64 `yaml:"max_negative_pnl_on_open_p" env-default:"40"`
	PairDepth              float64 `yaml:"pair_depth" env-default:"10000000"`
	BorrowFeePerBlockP     float64 `yaml:"borrow_fee_per_block_p" env-default:"0.0000001"`
	LiqThresholdP          float64 `yaml:"liq_threshold_p" env-default:"90"`
}

func MustLoad() *Config {
	path := fetchConfigPath()
	if path == "" {
		panic("config file is empty")
	}

	return MustLoadByPath(path)
}

func MustLoadByPath(path string) *Config {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		panic("config file not found " + path)
	}

	var config Config

	if err := cleanenv.ReadConfig(path, &config); err != nil {
		panic("failed to read config " + err.Error())
	}

	return &config
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
