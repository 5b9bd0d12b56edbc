package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is built once at process start and passed by reference into every
// component constructor. Nothing reads configuration from ambient state.
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	DB      DBConfig      `mapstructure:"db"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Solana  SolanaConfig  `mapstructure:"solana"`
	Evm     EvmConfig     `mapstructure:"evm"`
	Oracle  OracleConfig  `mapstructure:"oracle"`
	Bridge  BridgeConfig  `mapstructure:"bridge"`
	Deposit DepositConfig `mapstructure:"deposit"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	HttpPort string `mapstructure:"http_port"`
}

type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

// DSN builds the postgres connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		c.Host, c.User, c.Password, c.Name, c.Port)
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	MQType   string `mapstructure:"mq_type"` // "redis" or "kafka"
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
}

// SolanaConfig drives the log-subscription indexer. An empty WsURL means
// the indexer does not start.
type SolanaConfig struct {
	WsURL     string   `mapstructure:"ws_url"`
	Programs  []string `mapstructure:"programs"`
	LogMarker string   `mapstructure:"log_marker"`
	AutoStart bool     `mapstructure:"auto_start"`
}

// EvmConfig drives the block-polling indexer. An empty RpcURL means the
// indexer does not start.
type EvmConfig struct {
	RpcURL           string            `mapstructure:"rpc_url"`
	Contracts        map[string]string `mapstructure:"contracts"` // name -> address
	PollInterval     time.Duration     `mapstructure:"poll_interval"`
	MaxBlocksPerTick uint64            `mapstructure:"max_blocks_per_tick"`
	Confirmations    uint64            `mapstructure:"confirmations"`
	AutoStart        bool              `mapstructure:"auto_start"`
}

type OracleConfig struct {
	PythURL          string        `mapstructure:"pyth_url"`
	DexTwapURL       string        `mapstructure:"dex_twap_url"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	MaxDeviationBps  int64         `mapstructure:"max_deviation_bps"`
	CacheMaxAge      time.Duration `mapstructure:"cache_max_age"`
	HotCacheTTL      time.Duration `mapstructure:"hot_cache_ttl"`
	RefreshTokens    []string      `mapstructure:"refresh_tokens"`
}

type BridgeConfig struct {
	RequiredConfirmations int  `mapstructure:"required_confirmations"`
	SimulateMint          bool `mapstructure:"simulate_mint"` // non-production only
}

// DepositConfig carries the per-state confirmation timeouts of the
// deposit lifecycle.
type DepositConfig struct {
	PrincipalTimeout time.Duration `mapstructure:"principal_timeout"`
	BoostTimeout     time.Duration `mapstructure:"boost_timeout"`
	MintTimeout      time.Duration `mapstructure:"mint_timeout"`
	PayToAddress     string        `mapstructure:"pay_to_address"`
}

// Load reads config.yaml (working dir or ./config) with env overrides and
// returns the resulting Config.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found: defaults + environment are enough.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.http_port", "8080")

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.user", "vault_user")
	v.SetDefault("db.password", "vault_password")
	v.SetDefault("db.name", "vault_db")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.mq_type", "redis")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "vault-backend")

	v.SetDefault("solana.log_marker", "wexel")
	v.SetDefault("solana.auto_start", true)

	v.SetDefault("evm.poll_interval", 15*time.Second)
	v.SetDefault("evm.max_blocks_per_tick", uint64(200))
	v.SetDefault("evm.confirmations", uint64(12))
	v.SetDefault("evm.auto_start", true)

	v.SetDefault("oracle.request_timeout", 10*time.Second)
	v.SetDefault("oracle.max_deviation_bps", int64(150))
	v.SetDefault("oracle.cache_max_age", 5*time.Minute)
	v.SetDefault("oracle.hot_cache_ttl", 30*time.Second)

	v.SetDefault("bridge.required_confirmations", 3)
	v.SetDefault("bridge.simulate_mint", false)

	v.SetDefault("deposit.principal_timeout", 30*time.Minute)
	v.SetDefault("deposit.boost_timeout", 60*time.Minute)
	v.SetDefault("deposit.mint_timeout", 15*time.Minute)
}
