// Command worker is the entrypoint for the MobilityOne Fleet AI runtime:
// it wires the KV store, the relational identity store, the tool
// registry, the LLM-driven agent loop, and the WhatsApp send client into
// one process that drains the inbound/outbound/retry pipelines until a
// shutdown signal is received.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/mobilityone/fleetbridge/internal/agentloop"
	"github.com/mobilityone/fleetbridge/internal/cache"
	"github.com/mobilityone/fleetbridge/internal/chatsend"
	"github.com/mobilityone/fleetbridge/internal/config"
	"github.com/mobilityone/fleetbridge/internal/convo"
	"github.com/mobilityone/fleetbridge/internal/database"
	"github.com/mobilityone/fleetbridge/internal/gateway"
	"github.com/mobilityone/fleetbridge/internal/identity"
	"github.com/mobilityone/fleetbridge/internal/identity/migrations"
	"github.com/mobilityone/fleetbridge/internal/kvstore"
	"github.com/mobilityone/fleetbridge/internal/lock"
	"github.com/mobilityone/fleetbridge/internal/metrics"
	"github.com/mobilityone/fleetbridge/internal/queue"
	"github.com/mobilityone/fleetbridge/internal/ratelimit"
	"github.com/mobilityone/fleetbridge/internal/registry"
	"github.com/mobilityone/fleetbridge/internal/server"
	"github.com/mobilityone/fleetbridge/internal/telemetry"
	"github.com/mobilityone/fleetbridge/internal/worker"
	"github.com/mobilityone/fleetbridge/llm"
	"github.com/mobilityone/fleetbridge/llm/embedding"
	"github.com/mobilityone/fleetbridge/llm/openaiclient"
	"github.com/mobilityone/fleetbridge/tools/openapi"
)

const httpAddr = ":8001"

func main() {
	cfg := config.Load()

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("worker exited with error", zap.Error(err))
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	zcfg := zap.NewProductionConfig()
	zcfg.EncoderConfig.TimeKey = "timestamp"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zcfg.Build()
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer providers.Shutdown(context.Background())

	kv, err := kvstore.New(kvstore.Config{URL: cfg.RedisURL}, logger)
	if err != nil {
		return fmt.Errorf("connect kv store: %w", err)
	}
	defer kv.Close()

	collector := metrics.NewCollector("fleetbridge", logger)

	identityStore, err := buildIdentityStore(cfg, logger, collector)
	if err != nil {
		return fmt.Errorf("build identity store: %w", err)
	}

	chatLLM := openaiclient.New(openaiclient.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
	})

	embedder := embedding.NewOpenAIProvider(embedding.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIEmbeddingModel,
	})

	convoStore := convo.New(kv, logger, chatLLM, cfg.OpenAIModel, cfg.IsDevelopment())

	gen := openapi.NewGenerator(openapi.GeneratorConfig{}, logger)
	reg := registry.New(gen, embedder, kv, logger, cfg.AIConfidenceThreshold)
	reg.SetMetrics(collector)

	source := cfg.SwaggerURL
	if source == "" {
		source = cfg.SwaggerLocalPath
	}
	if err := reg.Load(ctx, source); err != nil {
		return fmt.Errorf("load tool registry: %w", err)
	}
	if cfg.ReloadInterval > 0 {
		go reg.StartHotReload(ctx, source, cfg.ReloadInterval)
	}

	gwCfg := gateway.DefaultConfig()
	gwCfg.OAuth2ClientID = cfg.MobilityClientID
	gwCfg.OAuth2ClientSecret = cfg.MobilityClientSecret
	gwCfg.OAuth2TokenURL = cfg.MobilityAuthURL
	gwCfg.OAuth2Scope = cfg.MobilityScope
	gwCfg.StaticAuthToken = cfg.MobilityAPIToken
	gw := gateway.New(gwCfg, logger)

	if respCache, err := buildResponseCache(cfg, logger); err != nil {
		logger.Warn("gateway response cache unavailable, proceeding without it", zap.Error(err))
	} else {
		gw.SetCache(respCache, gateway.DefaultGETCacheTTL)
		defer respCache.Close()
	}

	loop := agentloop.New(convoStore, reg, gw, chatLLM, cfg.OpenAIModel, logger)

	sender := chatsend.New(chatsend.Config{
		BaseURL:      cfg.InfobipBaseURL,
		APIKey:       cfg.InfobipAPIKey,
		SenderNumber: cfg.InfobipSenderNumber,
	})
	defer sender.Close()

	w := worker.New(worker.Config{
		Queue:    queue.New(kv, logger),
		Locker:   lock.New(kv),
		Limiter:  ratelimit.New(kv),
		Loop:     loop,
		Sender:   sender,
		Identity: identityStore,
		KV:       kv,
		Metrics:  collector,
		Logger:   logger,
	})

	httpSrv := startHTTPServer(logger, chatLLM)
	defer httpSrv.Shutdown(context.Background())

	logger.Info("worker starting", zap.String("app_env", cfg.AppEnv))
	return w.Run(ctx)
}

func buildIdentityStore(cfg config.Config, logger *zap.Logger, collector *metrics.Collector) (*identity.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, running without identity binding")
		return nil, nil
	}

	if err := migrations.Run(cfg.DatabaseURL); err != nil {
		return nil, fmt.Errorf("apply identity migrations: %w", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open identity database: %w", err)
	}

	pool, err := database.NewPoolManager(db, database.DefaultPoolConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("build connection pool: %w", err)
	}
	pool.SetMetrics("identity", collector)

	return identity.New(pool, logger), nil
}

// buildResponseCache points the gateway's GET-response cache at the same
// Redis instance as the KV store, using the next DB index after the one in
// RedisURL so the two concerns never collide over the same keyspace.
func buildResponseCache(cfg config.Config, logger *zap.Logger) (*cache.Manager, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	cacheCfg := cache.DefaultConfig()
	cacheCfg.Addr = opts.Addr
	cacheCfg.Password = opts.Password
	cacheCfg.DB = opts.DB + 1

	return cache.NewManager(cacheCfg, logger)
}

func startHTTPServer(logger *zap.Logger, chatLLM llm.Provider) *server.Manager {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status, err := chatLLM.HealthCheck(r.Context())
		if err != nil || !status.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("llm provider unhealthy"))
			return
		}

		models, _ := chatLLM.ListModels(r.Context())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":       "ok",
			"llm_latency":  status.Latency.String(),
			"models_known": len(models),
		})
	})
	mux.Handle("/metrics", promhttp.Handler())

	cfg := server.DefaultConfig()
	cfg.Addr = httpAddr
	m := server.NewManager(mux, cfg, logger)
	if err := m.Start(); err != nil {
		logger.Error("health/metrics server failed to start", zap.Error(err))
	}
	return m
}
