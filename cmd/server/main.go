// Package main wires the gateway's components into a running HTTP server:
// config, the Credential Store and Account Pool, the Token Resolver, the
// upstream client, the Flow Monitor, and the Request Pipeline, assembled
// into a single App value and handed to internal/server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/antigravity/cloudcode-gateway/internal/config"
	"github.com/antigravity/cloudcode-gateway/internal/flow"
	"github.com/antigravity/cloudcode-gateway/internal/logging"
	"github.com/antigravity/cloudcode-gateway/internal/pipeline"
	"github.com/antigravity/cloudcode-gateway/internal/pool"
	"github.com/antigravity/cloudcode-gateway/internal/server"
	"github.com/antigravity/cloudcode-gateway/internal/token"
	"github.com/antigravity/cloudcode-gateway/internal/upstream"
	redisstore "github.com/antigravity/cloudcode-gateway/pkg/redis"
)

const version = "1.0.0"

func main() {
	var (
		debugMode   bool
		port        int
		host        string
		dataDir     string
		upstreamURL string
	)

	flag.BoolVar(&debugMode, "debug", false, "Enable debug mode (verbose logging)")
	flag.IntVar(&port, "port", 0, "Server port (default: 8080)")
	flag.StringVar(&host, "host", "", "Bind address (default: 0.0.0.0)")
	flag.StringVar(&dataDir, "data-dir", "", "Directory for the credential store, backups, and flow logs (default: ./data)")
	flag.StringVar(&upstreamURL, "upstream-url", "", "Base URL of the upstream Messages-dialect backend")
	flag.Parse()

	if os.Getenv("DEBUG") == "true" {
		debugMode = true
	}
	if dataDir == "" {
		dataDir = os.Getenv("DATA_DIR")
	}
	if dataDir == "" {
		dataDir = "./data"
	}
	if upstreamURL == "" {
		upstreamURL = os.Getenv("UPSTREAM_URL")
	}

	log := logging.New(debugMode)
	log.Info().Str("version", version).Msg("starting cloudcode-gateway")

	cfg := config.DefaultConfig()
	cfg.Debug = debugMode
	configPath := filepath.Join(dataDir, "config.json")
	if err := cfg.Load(configPath); err != nil {
		log.Warn().Err(err).Msg("failed to load config, continuing with defaults")
	}
	if port != 0 {
		cfg.Port = port
	}
	if host != "" {
		cfg.Host = host
	}

	// Credential Store + Account Pool.
	storePath := filepath.Join(dataDir, "accounts.json")
	store := pool.NewStore(storePath, config.MaxBackups, log)

	accounts, activeIndex, settings, err := store.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load credential store")
		os.Exit(1)
	}
	if len(accounts) == 0 {
		log.Warn().Msg("credential store is empty; no accounts are available to serve requests")
		settings = pool.Settings{
			CooldownDurationMs:   cfg.DefaultCooldownMs,
			AffinityLockWindowMs: cfg.AffinityLockWindowMs,
			ShortWaitThresholdMs: cfg.ShortWaitThresholdMs,
			MaxWaitBeforeErrorMs: cfg.MaxWaitBeforeErrorMs,
		}
	}

	var accountPool *pool.Pool
	accountPool = pool.New(accounts, activeIndex, settings, func(accs []*pool.Account, idx int) {
		store.Enqueue(accs, idx, settings)
	})

	// Optional Redis mirror for the token/project caches.
	var cache *redisstore.CacheStore
	if cfg.RedisAddr != "" {
		redisClient, err := redisstore.NewClient(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Warn().Err(err).Msg("redis unreachable, falling back to memory-only token/project caches")
		} else {
			cache = redisstore.NewCacheStore(redisClient)
			defer redisClient.Close()
		}
	}

	resolver := token.New(token.Config{
		TokenTTL:       config.TokenRefreshInterval,
		DBTimeout:      config.DatabaseExtractTimeout,
		OAuthSecret:    os.Getenv("OAUTH_CLIENT_SECRET"),
		DiscoveryURLs:  config.ProjectDiscoveryEndpoints,
		DefaultProject: config.DefaultProjectID,
	}, cache, accountPool)

	// Upstream client. The real wire adapter is out of scope; a configured
	// base URL is required to actually serve requests, but the server still
	// starts without one so /health and the admin surface remain reachable.
	var upstreamClient pipeline.UpstreamClient
	if upstreamURL != "" {
		upstreamClient = upstream.NewPassthroughClient(upstreamURL)
	} else {
		log.Warn().Msg("no upstream URL configured; /v1/messages and /v1/chat/completions will fail until one is set")
		upstreamClient = upstream.NewPassthroughClient("http://127.0.0.1:0")
	}

	flowDir := filepath.Join(dataDir, "flows")
	flowMonitor := flow.New(flowDir, cfg.MaxFlowEntries, cfg.FlowRetentionDays, log)

	requestPipeline := pipeline.New(accountPool, resolver, upstreamClient, flowMonitor, pipeline.Settings{
		MaxRetries: cfg.MaxRetries,
	}, log)

	app := &server.App{
		Config:   cfg,
		Pool:     accountPool,
		Store:    store,
		Pipeline: requestPipeline,
		Flow:     flowMonitor,
		Tokens:   resolver,
		Log:      log,
	}

	srv := server.New(app, server.Options{Debug: debugMode})

	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := srv.Initialize(initCtx); err != nil {
		log.Error().Err(err).Msg("server initialization failed")
		cancel()
		os.Exit(1)
	}
	cancel()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("listening")
		errCh <- srv.Run(addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server stopped unexpectedly")
		}
	case <-quit:
		log.Info().Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
		shutdownCancel()
		<-errCh
	}

	flowMonitor.Close()
	store.Close()
	log.Info().Msg("stopped")
}
