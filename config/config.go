package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Game      GameConfig      `mapstructure:"game"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Database  DatabaseConfig  `mapstructure:"database"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type ServerConfig struct {
	HTTPAddress      string        `mapstructure:"http_address"`
	RPCAddress       string        `mapstructure:"rpc_address"`
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	// AllowedOrigins for CORS and websocket upgrades; "*" allows any.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type GameConfig struct {
	TickRate   int `mapstructure:"tick_rate"`
	MaxPlayers int `mapstructure:"max_players"`
	Preview    int `mapstructure:"preview"`
}

// TickInterval is the period of one orchestrator pass.
func (g GameConfig) TickInterval() time.Duration {
	if g.TickRate <= 0 {
		return time.Second / 30
	}
	return time.Second / time.Duration(g.TickRate)
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

type DatabaseConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

type RateLimitConfig struct {
	ActionsPerSecond float64     `mapstructure:"actions_per_second"`
	Burst            int         `mapstructure:"burst"`
	Redis            RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.rpc_address", ":8081")
	v.SetDefault("server.heartbeat_timeout", 60*time.Second)
	v.SetDefault("server.sweep_interval", 15*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("game.tick_rate", 30)
	v.SetDefault("game.max_players", 4)
	v.SetDefault("game.preview", 5)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("metrics.namespace", "tetris")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.driver", "gorm")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.dbname", "tetris")

	v.SetDefault("ratelimit.actions_per_second", 60.0)
	v.SetDefault("ratelimit.burst", 30)
	v.SetDefault("ratelimit.redis.addr", "")
	v.SetDefault("ratelimit.redis.password", "")
	v.SetDefault("ratelimit.redis.db", 0)
}

// LoadConfig reads config.yaml from path if present, then TETRIS_* environment
// variables. A .env file in the working directory is loaded first.
func LoadConfig(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("TETRIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}
