package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/yourname/runmatch/internal/broker"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Broker BrokerConfig `mapstructure:"broker"`
	Match  MatchConfig  `mapstructure:"match"`
	Stream StreamConfig `mapstructure:"stream"`
	Buffer BufferConfig `mapstructure:"buffer"`
	Sweep  SweepConfig  `mapstructure:"sweep"`
	Log    LogConfig    `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type BrokerConfig struct {
	Kind    string      `mapstructure:"kind"`
	Channel string      `mapstructure:"channel"`
	Redis   RedisConfig `mapstructure:"redis"`
	Nats    NatsConfig  `mapstructure:"nats"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NatsConfig struct {
	URL string `mapstructure:"url"`
}

type MatchConfig struct {
	SatisfyCount int           `mapstructure:"satisfy_count"`
	ServiceURL   string        `mapstructure:"service_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type StreamConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

type BufferConfig struct {
	Capacity int `mapstructure:"capacity"`
}

type SweepConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
	// stdout or file
	Mode     string `mapstructure:"mode"`
	Path     string `mapstructure:"path"`
	MaxSize  int    `mapstructure:"max_size"`
	KeepDays int    `mapstructure:"keep_days"`
	Compress bool   `mapstructure:"compress"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("broker.kind", broker.KindRedis)
	v.SetDefault("broker.channel", "waiting")
	v.SetDefault("broker.redis.addr", "localhost:6379")
	v.SetDefault("broker.redis.password", "")
	v.SetDefault("broker.redis.db", 0)
	v.SetDefault("broker.nats.url", "nats://localhost:4222")
	v.SetDefault("match.satisfy_count", 2)
	v.SetDefault("match.service_url", "")
	v.SetDefault("match.timeout", "10s")
	v.SetDefault("stream.buffer_size", 8)
	v.SetDefault("buffer.capacity", 0)
	v.SetDefault("sweep.interval", "4h")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.mode", "stdout")
	v.SetDefault("log.path", "logs/runmatch.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.keep_days", 7)
	v.SetDefault("log.compress", false)
}

// Load reads defaults, then the optional config file, then RUNMATCH_* env vars.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RUNMATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("runmatch")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Broker.Kind {
	case broker.KindRedis, broker.KindNats, broker.KindMemory:
	default:
		return fmt.Errorf("broker.kind must be one of redis, nats, memory (got %q)", c.Broker.Kind)
	}
	if c.Broker.Channel == "" {
		return errors.New("broker.channel is required")
	}
	if c.Match.SatisfyCount < 2 {
		return fmt.Errorf("match.satisfy_count must be >= 2 (got %d)", c.Match.SatisfyCount)
	}
	if c.Buffer.Capacity != 0 && c.Buffer.Capacity < c.Match.SatisfyCount {
		return fmt.Errorf("buffer.capacity must be 0 or >= match.satisfy_count (got %d)", c.Buffer.Capacity)
	}
	if c.Stream.BufferSize < 2 {
		return fmt.Errorf("stream.buffer_size must be >= 2 (got %d)", c.Stream.BufferSize)
	}
	if c.Sweep.Interval <= 0 {
		return errors.New("sweep.interval must be positive")
	}
	return nil
}
