package ops

import (
	"os"
	"time"

	"github.com/yanun0323/errors"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"tradegate/internal/engine"
	"tradegate/internal/exchange"
	"tradegate/internal/market"
	"tradegate/internal/pool"
	"tradegate/internal/push"
	"tradegate/internal/risk"
	"tradegate/pkg/conn"
)

// Duration parses YAML duration strings like "500ms" or "1m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return errors.Wrap(err, "parse duration").With("value", raw)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// FileConfig mirrors the YAML config layout.
type FileConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Pool      PoolConfig      `yaml:"pool"`
	Engine    EngineConfig    `yaml:"engine"`
	Risk      RiskConfig      `yaml:"risk"`
	Market    MarketConfig    `yaml:"market"`
	Feed      FeedConfig      `yaml:"feed"`
	Push      PushConfig      `yaml:"push"`
	Persist   PersistConfig   `yaml:"persist"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Profiling ProfilingConfig `yaml:"profiling"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type PoolConfig struct {
	Name                string   `yaml:"name"`
	Max                 int      `yaml:"max"`
	Min                 int      `yaml:"min"`
	IdleTimeout         Duration `yaml:"idleTimeout"`
	HealthCheckInterval Duration `yaml:"healthCheckInterval"`
	MaxRetries          int      `yaml:"maxRetries"`
	AcquirePoll         Duration `yaml:"acquirePoll"`
	ProbeTimeout        Duration `yaml:"probeTimeout"`
}

type EngineConfig struct {
	SessionPrefix string   `yaml:"sessionPrefix"`
	Workers       int      `yaml:"workers"`
	QueueSize     int      `yaml:"queueSize"`
	SubmitTimeout Duration `yaml:"submitTimeout"`
}

type RiskConfig struct {
	KillSwitch       bool    `yaml:"killSwitch"`
	MaxOrderVolume   int64   `yaml:"maxOrderVolume"`
	MaxOrderNotional float64 `yaml:"maxOrderNotional"`
	MaxPosition      int64   `yaml:"maxPosition"`
	OrdersPerSecond  float64 `yaml:"ordersPerSecond"`
	OrderBurst       int     `yaml:"orderBurst"`
}

type MarketConfig struct {
	Shards       int        `yaml:"shards"`
	QueueSize    int        `yaml:"queueSize"`
	RingSize     int        `yaml:"ringSize"`
	MinPrice     float64    `yaml:"minPrice"`
	MaxPrice     float64    `yaml:"maxPrice"`
	ClockSkew    Duration   `yaml:"clockSkew"`
	BarIntervals []Duration `yaml:"barIntervals"`
}

type FeedConfig struct {
	URL string `yaml:"url"`
}

type PushConfig struct {
	SendQueueSize int      `yaml:"sendQueueSize"`
	WriteTimeout  Duration `yaml:"writeTimeout"`
	PongTimeout   Duration `yaml:"pongTimeout"`
	PingInterval  Duration `yaml:"pingInterval"`
}

type PersistConfig struct {
	// Driver is "memory" or "postgres".
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslMode"`
	DSN      string `yaml:"dsn"`
}

type SimulatorConfig struct {
	Latency        Duration `yaml:"latency"`
	RejectRatio    float64  `yaml:"rejectRatio"`
	AutoFill       bool     `yaml:"autoFill"`
	PartialFill    bool     `yaml:"partialFill"`
	AcquireTimeout Duration `yaml:"acquireTimeout"`
}

type ProfilingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ServerAddress string `yaml:"serverAddress"`
	AppName       string `yaml:"appName"`
}

// Load reads a YAML config file.
func Load(path string) (FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, errors.Wrap(err, "read config file")
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return FileConfig{}, errors.Wrap(err, "parse yaml")
	}
	return cfg, nil
}

// EngineConfig resolves the order engine configuration.
func (cfg FileConfig) EngineConfig() engine.Config {
	return engine.Config{
		SessionPrefix: cfg.Engine.SessionPrefix,
		Workers:       cfg.Engine.Workers,
		QueueSize:     cfg.Engine.QueueSize,
		SubmitTimeout: cfg.Engine.SubmitTimeout.Std(),
	}
}

// PoolConfig resolves the session pool configuration. The factory is
// wired by the caller since it is not part of the file layout.
func (cfg FileConfig) PoolConfig(factory pool.Factory) pool.Config {
	return pool.Config{
		Name:                cfg.Pool.Name,
		Factory:             factory,
		Max:                 cfg.Pool.Max,
		Min:                 cfg.Pool.Min,
		IdleTimeout:         cfg.Pool.IdleTimeout.Std(),
		HealthCheckInterval: cfg.Pool.HealthCheckInterval.Std(),
		MaxRetries:          cfg.Pool.MaxRetries,
		AcquirePoll:         cfg.Pool.AcquirePoll.Std(),
		ProbeTimeout:        cfg.Pool.ProbeTimeout.Std(),
	}
}

// RiskConfig resolves pre-trade check limits.
func (cfg FileConfig) RiskConfig() risk.Config {
	return risk.Config{
		KillSwitch:       cfg.Risk.KillSwitch,
		MaxOrderVolume:   cfg.Risk.MaxOrderVolume,
		MaxOrderNotional: cfg.Risk.MaxOrderNotional,
		MaxPosition:      cfg.Risk.MaxPosition,
		OrderRate:        rate.Limit(cfg.Risk.OrdersPerSecond),
		OrderBurst:       cfg.Risk.OrderBurst,
	}
}

// MarketConfig resolves the market data pipeline configuration.
func (cfg FileConfig) MarketConfig() market.Config {
	intervals := make([]time.Duration, 0, len(cfg.Market.BarIntervals))
	for _, d := range cfg.Market.BarIntervals {
		intervals = append(intervals, d.Std())
	}
	return market.Config{
		Shards:       cfg.Market.Shards,
		QueueSize:    cfg.Market.QueueSize,
		RingSize:     cfg.Market.RingSize,
		MinPrice:     cfg.Market.MinPrice,
		MaxPrice:     cfg.Market.MaxPrice,
		ClockSkew:    cfg.Market.ClockSkew.Std(),
		BarIntervals: intervals,
	}
}

// PushConfig resolves the websocket hub configuration.
func (cfg FileConfig) PushConfig() push.Config {
	return push.Config{
		SendQueueSize: cfg.Push.SendQueueSize,
		WriteTimeout:  cfg.Push.WriteTimeout.Std(),
		PongTimeout:   cfg.Push.PongTimeout.Std(),
		PingInterval:  cfg.Push.PingInterval.Std(),
	}
}

// SimulatorConfig resolves the exchange simulator configuration.
func (cfg FileConfig) SimulatorConfig() exchange.SimulatorConfig {
	return exchange.SimulatorConfig{
		Latency:        cfg.Simulator.Latency.Std(),
		RejectRatio:    cfg.Simulator.RejectRatio,
		AutoFill:       cfg.Simulator.AutoFill,
		PartialFill:    cfg.Simulator.PartialFill,
		AcquireTimeout: cfg.Simulator.AcquireTimeout.Std(),
	}
}

// PostgresOption resolves database connection options.
func (cfg FileConfig) PostgresOption() conn.Option {
	return conn.Option{
		Host:     cfg.Persist.Host,
		Port:     cfg.Persist.Port,
		User:     cfg.Persist.User,
		Password: cfg.Persist.Password,
		Database: cfg.Persist.Database,
		SSLMode:  cfg.Persist.SSLMode,
		DSN:      cfg.Persist.DSN,
	}
}
