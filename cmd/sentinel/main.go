package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"AlertSentinel/internal/cache"
	"AlertSentinel/internal/collector"
	"AlertSentinel/internal/config"
	"AlertSentinel/internal/evaluator"
	"AlertSentinel/internal/logger"
	"AlertSentinel/internal/metrics"
	"AlertSentinel/internal/model"
	"AlertSentinel/internal/notifier"
	"AlertSentinel/internal/portfolio"
	"AlertSentinel/internal/ratelimit"
	"AlertSentinel/internal/recorder"
	"AlertSentinel/internal/scheduler"
	"AlertSentinel/internal/store"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("[FATAL] load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] config validation: %v", err)
	}

	lg, err := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		log.Fatalf("[FATAL] init logger: %v", err)
	}
	defer lg.Sync()
	lg.Info("AlertSentinel starting", zap.String("config", cfgPath))

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cfg, lg); err != nil {
		lg.Fatal("startup failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, lg *zap.Logger) error {
	if cfg.Database.Driver == config.DriverSQLite {
		if err := ensureDir(cfg.Database.DSN); err != nil {
			return err
		}
	}
	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, lg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis %s: %w", cfg.Redis.Addr, err)
		}
		lg.Info("redis enabled", zap.String("addr", cfg.Redis.Addr))
	}

	m := metrics.New()
	providers, caches := buildProviders(cfg, rdb, m, lg)
	for _, class := range model.AssetClasses {
		if p, ok := providers[class]; ok {
			lg.Info("price provider ready", zap.String("asset_class", string(class)), zap.String("chain", p.Name()))
		} else {
			lg.Warn("no provider enabled, alerts of this class will fail", zap.String("asset_class", string(class)))
		}
	}

	tg, sink := buildNotifier(cfg, lg)

	eval := evaluator.New(st, providers, sink, lg,
		evaluator.WithPolicy(evaluator.Policy(cfg.Alerts.Policy)),
		evaluator.WithMetrics(m))

	// Init recorder
	var rec recorder.Recorder = recorder.NewNoopRecorder()
	if path := cfg.Database.HistoryPath; path != "" && path != "off" {
		if err := ensureDir(path); err != nil {
			return err
		}
		sr, err := recorder.NewSQLiteRecorder(ctx, path, lg)
		if err != nil {
			lg.Warn("init history recorder failed, using noop", zap.Error(err))
		} else {
			rec = sr
			defer sr.Close()
		}
	}

	sched := scheduler.NewScheduler(ctx, scheduler.Deps{
		Evaluator: eval,
		Store:     st,
		Portfolio: portfolio.NewManager(st, providers, lg),
		Providers: providers,
		Recorder:  rec,
		Caches:    caches,
	}, scheduler.Options{
		AlertCheck:  cfg.Schedule.AlertCheck,
		CachePurge:  cfg.Schedule.CachePurge,
		TaskTimeout: cfg.Schedule.TaskTimeout,
		MaxRetries:  cfg.Retries(),
	}, lg)
	if err := sched.RegisterAll(); err != nil {
		return fmt.Errorf("register cron tasks: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	if tg != nil {
		go tg.StartPolling(ctx, sched.HandleCommand)
		lg.Info("telegram polling started")
	}

	if addr := cfg.Metrics.ListenAddr; addr != "" {
		go func() {
			if err := m.Serve(ctx, addr, lg); err != nil {
				lg.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	// Optional: run immediately on start
	if os.Getenv("RUN_ON_START") == "true" {
		lg.Info("RUN_ON_START enabled, checking alerts now")
		go sched.RunAlertCheckNow()
	}

	lg.Info("AlertSentinel is running")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		lg.Info("shutdown signal received", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}
	return nil
}

// buildProviders assembles one cached fallback chain per asset class.
func buildProviders(cfg *config.Config, rdb *redis.Client, m *metrics.Metrics, lg *zap.Logger) (map[model.AssetClass]collector.Provider, []scheduler.Purger) {
	pc := &cfg.Providers
	opts := func(name string, p config.ProviderConfig) collector.Options {
		var limiter ratelimit.Limiter
		if rdb != nil {
			limiter = ratelimit.NewRedis(rdb, name, p.PerMinute, lg)
		} else {
			limiter = ratelimit.NewSlidingWindow(p.PerMinute)
		}
		return collector.Options{
			BaseURL: p.BaseURL,
			APIKey:  p.APIKey,
			Proxy:   cfg.Proxy,
			Limiter: limiter,
			MaxWait: pc.MaxWait,
			Metrics: m,
			Logger:  lg.With(zap.String("provider", name)),
		}
	}

	chains := map[model.AssetClass][]collector.Provider{}
	if pc.CoinGecko.On() {
		chains[model.AssetClassCrypto] = append(chains[model.AssetClassCrypto],
			collector.NewCoinGecko(opts("coingecko", pc.CoinGecko)))
	}
	if pc.CryptoCompare.On() {
		chains[model.AssetClassCrypto] = append(chains[model.AssetClassCrypto],
			collector.NewCryptoCompare(opts("cryptocompare", pc.CryptoCompare)))
	}
	if pc.Polygon.On() && pc.Polygon.APIKey != "" {
		chains[model.AssetClassStock] = append(chains[model.AssetClassStock],
			collector.NewPolygon(opts("polygon", pc.Polygon)))
	}
	if pc.AlphaVantage.On() && pc.AlphaVantage.APIKey != "" {
		chains[model.AssetClassStock] = append(chains[model.AssetClassStock],
			collector.NewAlphaVantage(opts("alphavantage", pc.AlphaVantage)))
	}
	if pc.Yahoo.On() {
		chains[model.AssetClassStock] = append(chains[model.AssetClassStock],
			collector.NewYahoo(opts("yahoo", pc.Yahoo)))
	}

	providers := make(map[model.AssetClass]collector.Provider, len(chains))
	var caches []scheduler.Purger
	for class, chain := range chains {
		var c cache.PriceCache
		if rdb != nil {
			c = cache.NewRedis(rdb, "alertsentinel:price:", cfg.Cache.PriceTTL, lg)
		} else {
			mem := cache.NewMemory(cfg.Cache.PriceTTL, time.Now)
			caches = append(caches, mem)
			c = mem
		}
		providers[class] = collector.NewCached(collector.NewFallback(lg, chain...), c)
	}
	return providers, caches
}

// buildNotifier fans out to every configured sink and falls back to the log.
// The Telegram sink is returned separately for command polling.
func buildNotifier(cfg *config.Config, lg *zap.Logger) (*notifier.Telegram, notifier.Notifier) {
	var (
		tg    *notifier.Telegram
		sinks []notifier.Notifier
	)
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		tg = notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy, lg)
		sinks = append(sinks, tg)
	}
	if a := cfg.APNs; a.KeyFile != "" && a.DeviceToken != "" {
		apns, err := notifier.NewAPNs(notifier.APNsConfig{
			KeyFile:     a.KeyFile,
			KeyID:       a.KeyID,
			TeamID:      a.TeamID,
			Topic:       a.Topic,
			DeviceToken: a.DeviceToken,
			Production:  a.Production,
		})
		if err != nil {
			lg.Warn("apns disabled", zap.Error(err))
		} else {
			sinks = append(sinks, apns)
		}
	}
	if e := cfg.Email; e.Host != "" && e.To != "" {
		sinks = append(sinks, notifier.NewEmail(e.Host, e.Port, e.Username, e.Password, e.From, e.To))
	}
	if len(sinks) == 0 {
		lg.Warn("no notification sink configured, alerts are only logged")
		return nil, notifier.NewLog(lg)
	}
	return tg, notifier.NewMulti(sinks...)
}

// ensureDir creates the parent directory of a SQLite file path.
func ensureDir(path string) error {
	if strings.HasPrefix(path, "file:") || strings.Contains(path, ":memory:") {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}
