/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       Service entry point: config → logger → Redis →
             Postgres (fatal on failure) → stores → cost
             recorder → LLM gateway → fetcher → market router →
             pipeline → worker pool → retention cron → HTTP
             server with graceful shutdown.
Root Cause:  Sprint task N001 — service wiring.
Context:     Exit code 0 on clean shutdown; non-zero when the
             database or schema bootstrap is unavailable.
Suitability: L3 model for graceful shutdown and system wiring.
──────────────────────────────────────────────────────────────
*/

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avesed/webstock/services/newscore/breaker"
	"github.com/avesed/webstock/services/newscore/cache"
	"github.com/avesed/webstock/services/newscore/config"
	"github.com/avesed/webstock/services/newscore/costs"
	"github.com/avesed/webstock/services/newscore/fetcher"
	"github.com/avesed/webstock/services/newscore/handler"
	"github.com/avesed/webstock/services/newscore/llm"
	"github.com/avesed/webstock/services/newscore/logger"
	"github.com/avesed/webstock/services/newscore/marketdata"
	"github.com/avesed/webstock/services/newscore/newsfeed"
	"github.com/avesed/webstock/services/newscore/newsstore"
	"github.com/avesed/webstock/services/newscore/pipeline"
	"github.com/avesed/webstock/services/newscore/queue"
	"github.com/avesed/webstock/services/newscore/rag"
	"github.com/avesed/webstock/services/newscore/ratelimit"
	"github.com/avesed/webstock/services/newscore/redisclient"
	"github.com/avesed/webstock/services/newscore/retention"
	"github.com/avesed/webstock/services/newscore/router"
	"github.com/avesed/webstock/services/newscore/store"
	"github.com/robfig/cron/v3"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("newscore starting")

	// Redis
	rc, err := redisclient.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("redis init failed")
	}
	if err := rc.Ping(); err != nil {
		log.Fatal().Err(err).Msg("redis unreachable")
	}
	log.Info().Msg("redis connected")
	rdb := rc.Raw()

	// Postgres + schema
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("database init failed")
	}
	migrateCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	if err := store.Migrate(migrateCtx, pool, log); err != nil {
		cancel()
		log.Fatal().Err(err).Msg("schema bootstrap failed")
	}
	cancel()
	log.Info().Msg("database ready")

	// Stores
	newsRepo := store.NewNewsStore(pool, log)
	settingsStore := store.NewSettingsStore(pool)
	eventStore := store.NewEventStore(pool, log)
	blobs, err := newsstore.New(cfg.NewsContentDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("news storage init failed")
	}

	// Shared services
	cacheSvc := cache.New(rdb, log)
	breakers := breaker.NewRegistry(log)
	buckets := ratelimit.DefaultFeatureLimiter()
	window := ratelimit.NewSlidingWindow(rdb, log, cfg.RateLimitRPM, time.Minute)

	// Cost accounting + LLM gateway
	pricingStore := costs.NewPricingStore(pool)
	gateway := llm.NewGateway(llm.EnvCredentials{
		OpenAIKey:        cfg.OpenAIAPIKey,
		OpenAIBaseURL:    cfg.OpenAIBaseURL,
		AnthropicKey:     cfg.AnthropicAPIKey,
		AnthropicBaseURL: cfg.AnthropicBaseURL,
	}, breakers, buckets, log)
	gateway.SetUsageRecorder(costs.NewRecorder(pool, pricingStore, log))

	// Content fetching
	fetchOpts := []fetcher.Option{
		fetcher.WithStrategy(fetcher.NewHTMLParseStrategy(cfg.FetchTimeout)),
	}
	if cfg.BrowserServiceURL != "" {
		fetchOpts = append(fetchOpts, fetcher.WithStrategy(fetcher.NewBrowserStrategy(cfg.BrowserServiceURL, cfg.FetchTimeout)))
	}
	if cfg.ExtractAPIKey != "" {
		fetchOpts = append(fetchOpts, fetcher.WithStrategy(fetcher.NewExtractStrategy(cfg.ExtractAPIKey, cfg.FetchTimeout)))
	}
	contentFetcher := fetcher.New(log, fetchOpts...)

	// Market data router
	yfinance := marketdata.NewYFinanceProvider(10 * time.Second)
	akshare := marketdata.NewAKShareProvider(cfg.AKShareServiceURL, 10*time.Second)
	var tushare, tiingo marketdata.Provider
	if cfg.TushareToken != "" {
		tushare = marketdata.NewTushareProvider(cfg.TushareToken, 10*time.Second)
	}
	if cfg.TiingoAPIKey != "" {
		tiingo = marketdata.NewTiingoProvider(cfg.TiingoAPIKey, 10*time.Second)
	}
	marketRouter := marketdata.NewRouter(yfinance, akshare, tushare, tiingo, log)

	// RAG
	indexer := rag.NewIndexer(pool, gateway, log)
	searcher := rag.NewSearcher(pool, log)

	// Pipeline + workers
	imageClient := &http.Client{Timeout: 10 * time.Second}
	pipe := pipeline.New(pipeline.Config{
		Articles: newsRepo,
		Blobs:    blobs,
		Settings: settingsStore,
		Gateway:  gateway,
		Fetcher:  contentFetcher,
		Indexer:  indexer,
		Events:   eventStore,
		Images: func(ctx context.Context, url string) (string, error) {
			return fetcher.DownloadDataURI(ctx, imageClient, url, 4<<20)
		},
	}, log)

	taskQueue := queue.New(rdb, cfg.QueueName, log)
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	workers := queue.NewWorkerPool(taskQueue, pipe, cfg.WorkerCount, log)
	workers.Start(workerCtx)

	// Scheduled jobs: retention sweep and news feed polling
	sweeper := retention.NewSweeper(newsRepo, blobs, indexer, settingsStore, log)
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.RetentionSpec, func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		sweeper.Run(sweepCtx)
	}); err != nil {
		log.Fatal().Err(err).Str("spec", cfg.RetentionSpec).Msg("invalid retention schedule")
	}
	if cfg.FinnhubAPIKey != "" || cfg.AKShareServiceURL != "" {
		poller := newsfeed.NewPoller(cfg.FinnhubAPIKey, cfg.AKShareServiceURL, taskQueue, log)
		if _, err := scheduler.AddFunc(cfg.NewsPollSpec, func() {
			pollCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			poller.Run(pollCtx)
		}); err != nil {
			log.Fatal().Err(err).Str("spec", cfg.NewsPollSpec).Msg("invalid news poll schedule")
		}
	}
	scheduler.Start()

	// HTTP server
	deps := &handler.Deps{
		News:     newsRepo,
		Blobs:    blobs,
		Searcher: searcher,
		Gateway:  gateway,
		Settings: settingsStore,
		Metrics:  costs.NewMetrics(pool),
		Pricing:  pricingStore,
		Breakers: breakers,
		Market:   marketRouter,
		Cache:    cacheSvc,
		Log:      log,
	}
	r := router.New(cfg, log, deps, window)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("newscore listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	// Stop picking new tasks; in-flight stages run to their commit
	// boundary before the pool drains.
	stopWorkers()
	workers.Wait()

	cronCtx := scheduler.Stop()
	<-cronCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}

	gateway.Close()
	pool.Close()
	_ = rc.Close()
	log.Info().Msg("newscore stopped gracefully")
}
