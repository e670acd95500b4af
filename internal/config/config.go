// Package config loads broker credentials, endpoints and polling intervals
// for the worker binaries.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// BrokerConfig holds connection settings for one broker kind.
type BrokerConfig struct {
	APIKey    string
	APISecret string
	Username  string
	Password  string
	BaseURL   string
	WSURL     string
}

// KiConfig holds the two LLM stage endpoints for the KI orchestrator.
type KiConfig struct {
	Enabled            bool
	LocalEndpoint      string
	LocalAPIKey        string
	ReflectionEndpoint string
	ReflectionAPIKey   string
}

// Config is the fully resolved application configuration.
type Config struct {
	DBPath         string
	PollInterval   time.Duration
	IG             BrokerConfig
	MEXC           BrokerConfig
	Kraken         BrokerConfig
	KI             KiConfig
}

// Load reads configuration from .env (if present), environment variables and
// an optional config.yaml in the working directory.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	v.SetDefault("worker.db_path", "fiona_worker.db")
	v.SetDefault("worker.poll_interval_seconds", 60)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: reading config.yaml: %w", err)
		}
	}

	bindEnv(v)

	cfg := &Config{
		DBPath:       v.GetString("worker.db_path"),
		PollInterval: time.Duration(v.GetInt("worker.poll_interval_seconds")) * time.Second,
		IG: BrokerConfig{
			APIKey:   v.GetString("ig.api_key"),
			Username: v.GetString("ig.username"),
			Password: v.GetString("ig.password"),
			BaseURL:  v.GetString("ig.base_url"),
		},
		MEXC: BrokerConfig{
			APIKey:    v.GetString("mexc.api_key"),
			APISecret: v.GetString("mexc.api_secret"),
			BaseURL:   v.GetString("mexc.base_url"),
			WSURL:     v.GetString("mexc.ws_url"),
		},
		Kraken: BrokerConfig{
			APIKey:    v.GetString("kraken.api_key"),
			APISecret: v.GetString("kraken.api_secret"),
			BaseURL:   v.GetString("kraken.base_url"),
			WSURL:     v.GetString("kraken.ws_url"),
		},
		KI: KiConfig{
			LocalEndpoint:      v.GetString("ki.local_endpoint"),
			LocalAPIKey:        v.GetString("ki.local_api_key"),
			ReflectionEndpoint: v.GetString("ki.reflection_endpoint"),
			ReflectionAPIKey:   v.GetString("ki.reflection_api_key"),
		},
	}
	cfg.KI.Enabled = cfg.KI.LocalEndpoint != "" && cfg.KI.ReflectionEndpoint != ""

	return cfg, nil
}

func bindEnv(v *viper.Viper) {
	binds := map[string]string{
		"worker.db_path":            "WORKER_DB_PATH",
		"worker.poll_interval_seconds": "WORKER_POLL_INTERVAL_SECONDS",
		"ig.api_key":                "IG_API_KEY",
		"ig.username":               "IG_USERNAME",
		"ig.password":               "IG_PASSWORD",
		"ig.base_url":               "IG_BASE_URL",
		"mexc.api_key":              "MEXC_API_KEY",
		"mexc.api_secret":           "MEXC_API_SECRET",
		"mexc.base_url":             "MEXC_BASE_URL",
		"mexc.ws_url":               "MEXC_WS_URL",
		"kraken.api_key":            "KRAKEN_API_KEY",
		"kraken.api_secret":         "KRAKEN_API_SECRET",
		"kraken.base_url":           "KRAKEN_BASE_URL",
		"kraken.ws_url":             "KRAKEN_WS_URL",
		"ki.local_endpoint":         "KI_LOCAL_ENDPOINT",
		"ki.local_api_key":          "KI_LOCAL_API_KEY",
		"ki.reflection_endpoint":    "KI_REFLECTION_ENDPOINT",
		"ki.reflection_api_key":     "KI_REFLECTION_API_KEY",
	}
	for key, env := range binds {
		_ = v.BindEnv(key, env)
	}
}
