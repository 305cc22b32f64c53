package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whatsapp-crm/internal/api"
	"whatsapp-crm/internal/automation"
	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/database"
	"whatsapp-crm/internal/logging"
	"whatsapp-crm/internal/store"
	"whatsapp-crm/internal/tenant"
	"whatsapp-crm/internal/tracing"
	"whatsapp-crm/internal/webhook"
	"whatsapp-crm/internal/whatsapp"
	"whatsapp-crm/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer := tracing.NewManager(tracing.Config{
		ServiceName:  cfg.ServiceName,
		Enabled:      cfg.TracingEnabled,
		UseStdout:    cfg.TracingStdout,
		OTLPEndpoint: cfg.OTLPEndpoint,
	}, logger)
	if err := tracer.Initialize(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to initialize tracing")
	}

	db, err := database.Open(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open database")
	}
	st := store.New(db)

	var cache *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Fatal("Invalid REDIS_URL")
		}
		cache = redis.NewClient(opts)
		if err := cache.Ping(ctx).Err(); err != nil {
			// the directory falls through to the database on cache errors
			logger.WithError(err).Warn("Redis unreachable at startup")
		}
		defer cache.Close()
	}

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	client := whatsapp.NewClient(cfg.GraphAPIBaseURL, cfg.GraphAPITimeout, logger)
	directory := tenant.NewDirectory(st.Accounts(), cache, cfg.TenantCacheTTL, logger)

	engine := automation.NewEngine(client, st.Messages(), st.Catalog(), st.Rules(), cfg.FormBaseURL, logger)
	engine.SetNotifier(hub)

	dispatcher := webhook.NewDispatcher(
		st.Messages(), st.Leads(), st.FlowResponses(), st.Catalog(),
		directory, engine, hub, logger,
	)

	if cfg.VerifyToken == "" {
		logger.Warn("VERIFY_TOKEN is not set; webhook verification will be rejected")
	}
	if cfg.AppSecret == "" {
		logger.Warn("APP_SECRET is not set; webhook signatures are not verified")
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger), cors())

	webhook.NewHandler(dispatcher, cfg.VerifyToken, cfg.AppSecret, logger).RegisterRoutes(r)
	hub.RegisterRoutes(r)

	apiGroup := r.Group("/api")
	api.NewInboxHandler(st.Messages(), st.Leads(), st.Accounts(), client, hub, logger).RegisterRoutes(apiGroup)
	api.NewAutomationHandler(st.Rules(), logger).RegisterRoutes(apiGroup)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.Port).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to run server")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Tracer shutdown failed")
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("Request handled")
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
