package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const sampleConfig = `
server:
  addr: ":8080"
pool:
  name: "exchange-session"
  max: 3
  min: 1
  idleTimeout: "30s"
  healthCheckInterval: "5s"
  maxRetries: 3
  acquirePoll: "10ms"
  probeTimeout: "2s"
engine:
  sessionPrefix: "TG"
  workers: 4
  queueSize: 1024
  submitTimeout: "3s"
risk:
  maxOrderVolume: 500
  maxOrderNotional: 10000000
  maxPosition: 2000
  ordersPerSecond: 20
  orderBurst: 40
market:
  shards: 8
  queueSize: 4096
  ringSize: 512
  minPrice: 0.01
  maxPrice: 1000000
  clockSkew: "1s"
  barIntervals: ["1m", "5m"]
feed:
  url: "ws://upstream:9443/ws"
push:
  sendQueueSize: 256
  writeTimeout: "5s"
  pongTimeout: "60s"
persist:
  driver: "postgres"
  host: "db"
  port: 5432
  user: "gateway"
  database: "tradegate"
simulator:
  latency: "20ms"
  autoFill: true
  acquireTimeout: "1s"
profiling:
  enabled: true
  serverAddress: "http://pyroscope:4040"
  appName: "tradegate"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "exchange-session", cfg.Pool.Name)
	assert.Equal(t, 3, cfg.Pool.Max)
	assert.Equal(t, 30*time.Second, cfg.Pool.IdleTimeout.Std())
	assert.Equal(t, "ws://upstream:9443/ws", cfg.Feed.URL)
	assert.Equal(t, "postgres", cfg.Persist.Driver)
	assert.True(t, cfg.Profiling.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadBadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, "engine:\n  submitTimeout: \"not-a-duration\"\n"))
	require.Error(t, err)
}

func TestResolvedConfigs(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	eng := cfg.EngineConfig()
	assert.Equal(t, "TG", eng.SessionPrefix)
	assert.Equal(t, 4, eng.Workers)
	assert.Equal(t, 3*time.Second, eng.SubmitTimeout)

	rk := cfg.RiskConfig()
	assert.Equal(t, int64(500), rk.MaxOrderVolume)
	assert.Equal(t, rate.Limit(20), rk.OrderRate)
	assert.False(t, rk.KillSwitch)

	mk := cfg.MarketConfig()
	assert.Equal(t, 8, mk.Shards)
	require.Len(t, mk.BarIntervals, 2)
	assert.Equal(t, time.Minute, mk.BarIntervals[0])
	assert.Equal(t, 5*time.Minute, mk.BarIntervals[1])

	sim := cfg.SimulatorConfig()
	assert.Equal(t, 20*time.Millisecond, sim.Latency)
	assert.True(t, sim.AutoFill)

	pg := cfg.PostgresOption()
	assert.Equal(t, "db", pg.Host)
	assert.Equal(t, "tradegate", pg.Database)
}
