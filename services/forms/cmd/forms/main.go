package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"leadhero/internal/metrics"
	"leadhero/internal/ratelimit"
	"leadhero/internal/util"
	"leadhero/pkg/ai"
	"leadhero/pkg/events"
	"leadhero/pkg/storage"
	"leadhero/pkg/store"
	"leadhero/pkg/webpage"
	"leadhero/services/forms/internal/app"
	"leadhero/services/forms/internal/config"
	"leadhero/services/forms/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)
	ctx := context.Background()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer redisClient.Close()
	}

	sessions, err := newSessions(cfg, redisClient)
	if err != nil {
		log.Fatalf("failed to init sessions: %v", err)
	}

	dataStore, err := newStore(cfg)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	llmTimeout, _ := config.ParseDuration(cfg.LLM.Timeout)
	textOpts := ai.TextOptions{MaxTokens: cfg.LLM.MaxTokens, Temperature: cfg.LLM.Temp}
	var (
		text   ai.TextGenerator
		images ai.ImageGenerator
	)
	switch cfg.LLM.Provider {
	case "ollama":
		text = ai.NewOllamaGenerator(cfg.LLM.BaseURL, cfg.LLM.TextModel, textOpts)
	default:
		client := ai.NewOpenAIClient(ai.OpenAIConfig{
			BaseURL:    cfg.LLM.BaseURL,
			APIKey:     cfg.LLM.APIKey,
			TextModel:  cfg.LLM.TextModel,
			ImageModel: cfg.LLM.ImageModel,
			ImageSize:  cfg.LLM.ImageSize,
			Text:       textOpts,
			Timeout:    llmTimeout,
		})
		text, images = client, client
	}

	var mirror app.ImageMirror
	if cfg.MinioEndpoint != "" {
		objects, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("failed to init object storage: %v", err)
		}
		mirror = storage.NewImageMirror(objects, 0)
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AMQPURL != "" {
		publisher, err = events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	} else if redisClient != nil {
		publisher, err = events.NewRedisStreamPublisher(redisClient, cfg.EventsStream, 0)
	}
	if err != nil {
		log.Fatalf("failed to init event publisher: %v", err)
	}

	m := metrics.New()
	appCore, err := app.New(app.Config{
		Store:        dataStore,
		Sessions:     sessions,
		TestIdentity: cfg.TestIdentityEmail,
		NewUser: app.Limits{
			MaxLeads: positive(cfg.NewUserMaxLeads),
			MaxForms: positive(cfg.NewUserMaxForms),
		},
		Text:    text,
		Images:  images,
		Pages:   webpage.NewFetcher(webpage.Options{}),
		Mirror:  mirror,
		Events:  publisher,
		Metrics: m,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer appCore.Close()

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}
	var limiter server.RateLimiter
	if cfg.RateLimit.Limit > 0 {
		window, _ := config.ParseDuration(cfg.RateLimit.Window)
		limiter, err = ratelimit.NewFixedWindowLimiter(redisClient, ratelimit.Options{
			Limit:    cfg.RateLimit.Limit,
			Window:   window,
			FailOpen: cfg.RateLimitFailOpen(),
		})
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		Limiter:        limiter,
		TrustedProxies: trusted,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
	}()

	slog.Info("forms server listening", "addr", addr, "store", cfg.StoreDriver, "llm", cfg.LLM.Provider)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func newStore(cfg config.FileConfig) (store.Store, error) {
	if cfg.StoreDriver == "memory" {
		slog.Warn("using in-memory store; data is lost on restart")
		return store.NewMemoryStore(), nil
	}
	return store.NewGormStore(cfg.DatabaseURL)
}

func newSessions(cfg config.FileConfig, redisClient *redis.Client) (*store.JWTSessionStore, error) {
	ttl, _ := config.ParseDuration(cfg.SessionTTL)
	leeway, _ := config.ParseDuration(cfg.JWTLeeway)
	var revoker store.TokenRevoker = store.NewMemoryTokenRevoker()
	if redisClient != nil {
		revoker = store.NewRedisTokenRevoker(redisClient, "")
	}
	return store.NewJWTSessionStoreFromPEM(cfg.JWTPrivateKeyPath, ttl, revoker, store.JWTOptions{
		KeyID:    cfg.JWTKeyID,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   leeway,
	})
}

func positive(n int) *int {
	if n <= 0 {
		return nil
	}
	return &n
}
