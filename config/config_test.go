package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := []byte(`
chain_id: astria-test
log_level: debug
mempool:
  tx_ttl: 30s
  parked_per_account: 3
orderbook:
  max_markets: 8
kafka:
  enabled: true
  brokers: ["localhost:9092"]
  topic: fills
`)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "astria-test", cfg.ChainID)
	require.Equal(t, 30*time.Second, cfg.Mempool.TxTTL.Std())
	require.Equal(t, 3, cfg.Mempool.ParkedPerAccount)
	require.Equal(t, 8, cfg.Orderbook.MaxMarkets)
	require.True(t, cfg.Kafka.Enabled)
	require.Equal(t, "fills", cfg.Kafka.Topic)

	// Untouched keys keep their defaults.
	require.Equal(t, ":8080", cfg.HTTP.Listen)
}
