package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/adhocore/gronx"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Store    StoreConfig    `yaml:"store"`
	NATS     NATSConfig     `yaml:"nats"`
	Web      WebConfig      `yaml:"web"`
	Swarm    SwarmConfig    `yaml:"swarm"`
	Sweeper  SweeperConfig  `yaml:"sweeper"`
	Telegram TelegramConfig `yaml:"telegram"`
	Auth     AuthConfig     `yaml:"auth"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type NATSConfig struct {
	Host string `yaml:"host"`
	// -1 picks a random free port.
	Port int `yaml:"port"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	BaseURL string `yaml:"base_url"`
	// Registrations per minute across all clients. Zero disables the limit.
	RegisterRate int      `yaml:"register_rate"`
	CORSOrigins  []string `yaml:"cors_origins"`
}

type SwarmConfig struct {
	// Upper bound for the sum of accepted share percentages in one swarm.
	// Zero disables the check.
	ShareCap int `yaml:"share_cap"`
}

type SweeperConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

type TelegramConfig struct {
	Token   string  `yaml:"token"`
	ChatIDs []int64 `yaml:"chat_ids"`
}

type AuthConfig struct {
	Pepper string `yaml:"pepper"`
}

func defaults() Config {
	return Config{
		Store: StoreConfig{
			Path: "data/swarmhub.db",
		},
		NATS: NATSConfig{
			Host: "127.0.0.1",
			Port: 4222,
		},
		Web: WebConfig{
			Enabled:      true,
			Port:         3847,
			BaseURL:      "http://localhost:3847",
			RegisterRate: 30,
			CORSOrigins:  []string{"*"},
		},
		Swarm: SwarmConfig{
			ShareCap: 100,
		},
		Sweeper: SweeperConfig{
			Enabled:  true,
			Schedule: "* * * * *",
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("SWARMHUB_CONFIG")
	if path == "" {
		path = "config/swarmhub.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late, at first use.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.NATS.Port < -1 || c.NATS.Port > 65535 {
		return fmt.Errorf("nats.port out of range: %d", c.NATS.Port)
	}
	if c.Web.Enabled && (c.Web.Port < 0 || c.Web.Port > 65535) {
		return fmt.Errorf("web.port out of range: %d", c.Web.Port)
	}
	if c.Swarm.ShareCap < 0 {
		return fmt.Errorf("swarm.share_cap must not be negative")
	}
	if c.Sweeper.Enabled && !gronx.New().IsValid(c.Sweeper.Schedule) {
		return fmt.Errorf("sweeper.schedule is not a valid cron expression: %q", c.Sweeper.Schedule)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SWARMHUB_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SWARMHUB_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	// PORT is the conventional platform-assigned port.
	for _, key := range []string{"PORT", "SWARMHUB_WEB_PORT"} {
		if v := os.Getenv(key); v != "" {
			if port, err := strconv.Atoi(v); err == nil {
				cfg.Web.Port = port
			}
		}
	}
	if v := os.Getenv("SWARMHUB_BASE_URL"); v != "" {
		cfg.Web.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("SWARMHUB_SHARE_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Swarm.ShareCap = n
		}
	}
	if v := os.Getenv("SWARMHUB_SWEEPER_SCHEDULE"); v != "" {
		cfg.Sweeper.Schedule = v
	}
	if v := os.Getenv("SWARMHUB_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("SWARMHUB_KEY_PEPPER"); v != "" {
		cfg.Auth.Pepper = v
	}
}
