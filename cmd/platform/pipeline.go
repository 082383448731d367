package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"trading-platformv1/internal/bus"
	"trading-platformv1/internal/marketdata/agg"
	mdbus "trading-platformv1/internal/marketdata/bus"
	"trading-platformv1/internal/marketdata/ws"
	"trading-platformv1/internal/markethours"
	"trading-platformv1/internal/metrics"
	"trading-platformv1/internal/model"
	redisstore "trading-platformv1/internal/store/redis"
	"trading-platformv1/internal/store/sqlite"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run the market data pipeline: feed → aggregator → store + bus",
	RunE:  runPipeline,
}

func init() {
	rootCmd.AddCommand(pipelineCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	timeframes, err := parseTimeframes(cfg.Timeframes)
	if err != nil {
		return err
	}

	// ---- Storage ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	store, err := sqlite.New(sqlite.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info("sqlite ready", "path", cfg.SQLitePath)

	cache, err := redisstore.NewCache(redisstore.CacheConfig{
		Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB,
	})
	if err != nil {
		return err
	}
	defer cache.Close()

	redisBus, err := bus.NewRedis(bus.RedisConfig{
		Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB,
		PublishTimeout: cfg.PublishTimeout,
	})
	if err != nil {
		return err
	}
	defer redisBus.Close()
	log.Info("redis ready", "addr", cfg.RedisAddr)

	// ---- Metrics and health ----
	prom := metrics.New()
	health := metrics.NewHealthStatus()
	health.StartLivenessChecker(ctx, cache.Client(), store.DB(), 10*time.Second)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	cache.Breaker().OnStateChange = func(from, to redisstore.State) {
		prom.BreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			prom.BreakerTrips.Inc()
		}
	}

	// ---- Tick fan-out: aggregator, tick writer, raw publisher ----
	tickCh := make(chan model.Tick, 10000)
	fanout := mdbus.New[model.Tick](5000)
	fanout.OnDrop = func(subscriberIdx int) {
		prom.FanoutDropsTotal.WithLabelValues(strconv.Itoa(subscriberIdx)).Inc()
	}
	aggIn := fanout.Subscribe()
	writerIn := fanout.Subscribe()
	rawIn := fanout.Subscribe()
	go fanout.Run(ctx, tickCh)

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for i, s := range fanout.ChannelStats() {
					if s.Cap > 0 {
						pct := float64(s.Len) / float64(s.Cap) * 100
						prom.ChannelSaturationPct.WithLabelValues("fanout_" + strconv.Itoa(i)).Set(pct)
					}
				}
			}
		}
	}()

	go store.RunTickWriter(ctx, writerIn)

	// Raw tick publisher, also the tick counter since it sees every tick.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case tick, ok := <-rawIn:
				if !ok {
					return
				}
				prom.TicksTotal.Inc()
				health.SetLastTickTime(time.Now())
				payload, err := json.Marshal(tick)
				if err != nil {
					continue
				}
				if err := redisBus.Publish(ctx, model.ChannelTicksRaw, payload); err != nil {
					prom.PublishFailures.WithLabelValues(model.ChannelTicksRaw).Inc()
				}
			}
		}
	}()

	// ---- Aggregator ----
	aggregator := agg.New(store, cache, redisBus, timeframes)
	aggregator.OnDroppedTick = func() {
		prom.DroppedTicks.Inc()
	}
	aggregator.OnCandleClosed = func(c model.Candle) {
		prom.CandlesClosed.WithLabelValues(string(c.Timeframe)).Inc()
		lag := time.Since(time.Unix(c.Timestamp+c.Timeframe.Seconds(), 0))
		prom.CandleLag.Set(lag.Seconds())
	}
	if err := aggregator.Recover(ctx); err != nil {
		log.Warn("aggregator recovery", "err", err)
	}
	go aggregator.Run(ctx, aggIn)

	// ---- Feed ----
	ingest, err := ws.New(ws.Config{
		URL:     cfg.FeedURL,
		Symbols: cfg.Symbols,
		Source:  cfg.FeedSource,
	})
	if err != nil {
		return err
	}
	ingest.OnReconnect = func() {
		prom.WSReconnects.Inc()
		health.SetWSConnected(false)
	}
	health.SetWSConnected(true)
	go func() {
		if err := ingest.Start(ctx, tickCh); err != nil {
			log.Error("feed ingest", "err", err)
			health.SetWSConnected(false)
		}
	}()

	log.Info("pipeline ready",
		"feed", cfg.FeedURL, "symbols", cfg.Symbols, "timeframes", cfg.Timeframes,
		"market", markethours.StatusString(time.Now()))

	<-sigCh
	log.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)
	return nil
}

func parseTimeframes(raw []string) ([]model.Timeframe, error) {
	tfs := make([]model.Timeframe, 0, len(raw))
	for _, s := range raw {
		tf, err := model.ParseTimeframe(s)
		if err != nil {
			return nil, err
		}
		tfs = append(tfs, tf)
	}
	return tfs, nil
}
