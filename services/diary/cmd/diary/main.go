package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"myndiary/internal/ratelimit"
	"myndiary/internal/usertoken"
	"myndiary/internal/util"
	"myndiary/pkg/messaging"
	"myndiary/pkg/storage"
	"myndiary/pkg/store"
	"myndiary/services/diary/internal/app"
	"myndiary/services/diary/internal/config"
	"myndiary/services/diary/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel, cfg.LogFormat)
	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}
	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		Secret:     cfg.JWTSecret,
		JWKSURL:    cfg.JWTJWKSURL,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		Leeway:     jwtLeeway,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}

	var redisClient *redis.Client
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.RedisPassword})
		defer redisClient.Close()
	}

	var diaryStore store.Store
	if dsn := strings.TrimSpace(cfg.DatabaseURL); dsn != "" {
		gormStore, err := store.NewGormStore(dsn)
		if err != nil {
			log.Fatalf("failed to init store: %v", err)
		}
		defer gormStore.Close()
		diaryStore = gormStore
	} else {
		slog.Warn("databaseURL not set, entries are kept in memory")
		diaryStore = store.NewMemoryStore()
	}

	var objects storage.ObjectStore
	var localMedia http.Handler
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:      cfg.MinioEndpoint,
			AccessKey:     cfg.MinioAccessKey,
			SecretKey:     cfg.MinioSecretKey,
			UseSSL:        cfg.MinioUseSSL,
			PublicBaseURL: cfg.MinioPublicURL,
		})
		if err != nil {
			log.Fatalf("failed to init object storage: %v", err)
		}
		objects = minioStore
	} else {
		slog.Warn("minioEndpoint not set, uploads are kept in memory and served under /media until restart")
		memoryObjects := storage.NewMemoryStore(strings.TrimRight(cfg.AppBaseURL, "/") + "/media")
		objects = memoryObjects
		localMedia = memoryObjects
	}

	var sender messaging.Sender
	twilioSender, err := messaging.NewTwilioSender(messaging.TwilioConfig{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		From:       cfg.TwilioFrom,
		ContentSID: cfg.TwilioContentSID,
	})
	switch {
	case err == nil:
		sender = twilioSender
	case errors.Is(err, messaging.ErrNotConfigured):
		slog.Warn("twilio credentials not set, outbound messages are disabled")
	default:
		log.Fatalf("failed to init messaging: %v", err)
	}

	var limiter ratelimit.IntervalLimiter
	var redisCmd redis.Cmdable
	if redisClient != nil {
		redisCmd = redisClient
		limiter, err = ratelimit.NewRedisIntervalLimiter(redisClient, "myndiary:diary:ratelimit:send", cfg.SendInterval())
		if err != nil {
			log.Fatalf("failed to init send limiter: %v", err)
		}
	} else {
		limiter = ratelimit.NewMemoryIntervalLimiter(cfg.SendInterval(), time.Now)
	}

	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	appCore, err := app.New(app.Config{
		Store:           diaryStore,
		Objects:         objects,
		Sender:          sender,
		Limiter:         limiter,
		AppBaseURL:      cfg.AppBaseURL,
		Location:        cfg.Location(),
		LegacyProfileID: cfg.LegacyProfileID,
		Development:     cfg.IsDevelopment(),
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                       appCore,
		TokenVerifier:             tokenVerifier,
		Redis:                     redisCmd,
		WebhookRateLimitPerMinute: cfg.WebhookRateLimitPerMinute,
		Signatures:                messaging.NewSignatureValidator(cfg.TwilioAuthToken),
		VerifySignatures:          cfg.IsProduction(),
		PublicBaseURL:             cfg.AppBaseURL,
		AllowedOrigins:            cfg.CORSAllowedOrigins,
		TrustedProxies:            trustedProxies,
		Media:                     localMedia,
		SendInterval:              cfg.SendInterval(),
		Environment:               cfg.Environment,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "err", err)
		}
		if err := appCore.Close(shutdownCtx); err != nil {
			logger.Error("app shutdown failed", "err", err)
		}
	}()

	slog.Info("diary server listening", "addr", addr, "environment", cfg.Environment)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
		return
	}
	<-shutdownDone
}
