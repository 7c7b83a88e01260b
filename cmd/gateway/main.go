package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"

	"tradegate/internal/cache"
	"tradegate/internal/engine"
	"tradegate/internal/exchange"
	"tradegate/internal/feed"
	"tradegate/internal/market"
	"tradegate/internal/model"
	"tradegate/internal/ops"
	"tradegate/internal/persist"
	"tradegate/internal/pool"
	"tradegate/internal/push"
	"tradegate/internal/risk"
	"tradegate/pkg/conn"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML config")
	addr := flag.String("addr", "", "Listen address override")
	flag.Parse()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}

	if cfg.Profiling.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Profiling.AppName,
			ServerAddress:   cfg.Profiling.ServerAddress,
			Logger:          emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := buildStore(cfg)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer closeStore()

	sessions, err := pool.New(cfg.PoolConfig(exchange.SessionFactory()))
	if err != nil {
		log.Fatalf("session pool init failed: %v", err)
	}
	go sessions.Run(ctx)

	var eng *engine.Engine
	sim := exchange.NewSimulator(cfg.SimulatorConfig(), sessions, func(trade model.Trade) {
		if err := eng.ProcessTrade(trade); err != nil {
			logs.Warnf("process fill %s, err: %+v", trade.TradeID, err)
		}
	})
	checker := risk.NewEngine(cfg.RiskConfig(), func(userID, symbol string) int64 {
		return eng.PositionVolume(userID, symbol)
	})
	eng = engine.New(cfg.EngineConfig(), checker, sim, store)

	cch := cache.NewMemory()
	go cch.Run(ctx, time.Minute)

	var upstream market.Feed
	var feedClient *feed.Client
	if cfg.Feed.URL != "" {
		feedClient = feed.NewClient(ctx, cfg.Feed.URL)
		if err := feedClient.Start(ctx); err != nil {
			log.Fatalf("feed start failed: %v", err)
		}
		defer feedClient.Close()
		upstream = feedClient
	}

	sink := &lateSink{}
	pipe := market.New(cfg.MarketConfig(), upstream, store, cch, sink)
	hub := push.NewHub(cfg.PushConfig(), pipe)
	sink.hub = hub

	eng.Register(hub)
	eng.Run(ctx)
	pipe.Run(ctx)

	if feedClient != nil {
		feedClient.ObserveTicks(ctx, pipe.ProcessTick)
		feedClient.ObserveDepth(ctx, pipe.ProcessDepth)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /ws", hub)
	registerRoutes(mux, &api{engine: eng, pipeline: pipe})

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: mux}
	go func() {
		logs.Infof("gateway listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve failed: %v", err)
		}
	}()

	<-ctx.Done()
	logs.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logs.Warnf("server shutdown, err: %+v", err)
	}
	hub.Shutdown()
	eng.Wait()
	pipe.Wait()
	sessions.Shutdown()
}

// lateSink breaks the pipeline/hub construction cycle: the pipeline is
// built first with this placeholder, then the hub is attached before
// anything runs.
type lateSink struct {
	hub *push.Hub
}

func (s *lateSink) Deliver(clientID string, env model.Envelope) error {
	return s.hub.Deliver(clientID, env)
}

func (s *lateSink) Drop(clientID string) {
	s.hub.Drop(clientID)
}

func buildStore(cfg ops.FileConfig) (persist.Store, func(), error) {
	switch cfg.Persist.Driver {
	case "", "memory":
		return persist.NewMemory(), func() {}, nil
	case "postgres":
		client, err := conn.New(cfg.PostgresOption())
		if err != nil {
			return nil, nil, err
		}
		db, err := persist.NewDB(client)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return db, func() { _ = client.Close() }, nil
	default:
		return nil, nil, errors.New("unknown persist driver: " + cfg.Persist.Driver)
	}
}

type emptyLogger struct{}

func (emptyLogger) Infof(_ string, _ ...interface{})  {}
func (emptyLogger) Debugf(_ string, _ ...interface{}) {}
func (emptyLogger) Errorf(_ string, _ ...interface{}) {}
