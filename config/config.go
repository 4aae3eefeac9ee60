// Package config loads the sequencer configuration from a YAML file with
// defaults suitable for local development.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Duration parses YAML strings like "30s" or "4m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return errors.Wrap(err, "parsing duration")
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	ChainID  string `yaml:"chain_id"`
	LogLevel string `yaml:"log_level"`

	HTTP struct {
		Listen string `yaml:"listen"`
	} `yaml:"http"`

	Mempool struct {
		TxTTL            Duration `yaml:"tx_ttl"`
		ParkedPerAccount int      `yaml:"parked_per_account"`
		SweepInterval    Duration `yaml:"sweep_interval"`
	} `yaml:"mempool"`

	Orderbook struct {
		// MaxMarkets is advisory. The sweep logs a warning when the
		// number of registered markets exceeds it; zero disables the
		// check.
		MaxMarkets int `yaml:"max_markets"`
	} `yaml:"orderbook"`

	State struct {
		// Backend is "memory" or "pebble".
		Backend string `yaml:"backend"`
		Dir     string `yaml:"dir"`
	} `yaml:"state"`

	Journal struct {
		Dir         string `yaml:"dir"`
		OutboxDir   string `yaml:"outbox_dir"`
		SegmentSize int64  `yaml:"segment_size"`
	} `yaml:"journal"`

	Kafka struct {
		Enabled bool     `yaml:"enabled"`
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
}

func Default() Config {
	var cfg Config
	cfg.ChainID = "astria-local"
	cfg.LogLevel = "info"
	cfg.HTTP.Listen = ":8080"
	cfg.Mempool.TxTTL = Duration(4 * time.Minute)
	cfg.Mempool.ParkedPerAccount = 15
	cfg.Mempool.SweepInterval = Duration(time.Second)
	cfg.Orderbook.MaxMarkets = 100
	cfg.State.Backend = "memory"
	cfg.State.Dir = "./data/state"
	cfg.Journal.Dir = "./data/journal"
	cfg.Journal.OutboxDir = "./data/outbox"
	cfg.Journal.SegmentSize = 64 << 20
	cfg.Kafka.Topic = "matches"
	return cfg
}

// Load reads path over the defaults. A missing path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, errors.Wrap(err, "reading config file")
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, errors.Wrap(err, "parsing config file")
	}
	return cfg, nil
}
