package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/cashstore/merchant-api/api/swagger"
	"github.com/cashstore/merchant-api/internal/handler"
	"github.com/cashstore/merchant-api/internal/middleware"
	"github.com/cashstore/merchant-api/internal/models"
	"github.com/cashstore/merchant-api/internal/repository"
	"github.com/cashstore/merchant-api/internal/service"
	"github.com/cashstore/merchant-api/pkg/cache"
	"github.com/cashstore/merchant-api/pkg/config"
	"github.com/cashstore/merchant-api/pkg/database"
	"github.com/cashstore/merchant-api/pkg/logger"
	corsmiddleware "github.com/cashstore/merchant-api/pkg/middleware/cors"
	reqidmiddleware "github.com/cashstore/merchant-api/pkg/middleware/requestid"
	"github.com/cashstore/merchant-api/pkg/payment"
	"github.com/cashstore/merchant-api/pkg/storage"
)

// @title Merchant Cashback API
// @version 1.0.0
// @description Cashback risk assessment and approval workflow for merchants
// @BasePath /api/v1
// @schemes http https

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close() //nolint:errcheck

	exportStore, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Fatal("failed to init export storage", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)

	cashbackRepo := repository.NewCashbackRepository(db, cfg.Cashback.RequestValidity)
	merchantRepo := repository.NewMerchantRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	auditSvc := service.NewAuditService(auditRepo, logr)
	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(merchantRepo, auditSvc, validator.New(), logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	cashbackSvc := service.NewCashbackService(cashbackRepo, auditSvc, logr,
		service.WithCountCache(cacheRepo),
		service.WithNotifier(service.NewLogNotifier(logr)),
		service.WithWorkflowRecorder(metricsSvc),
		service.WithPendingCountTTL(cfg.Cashback.PendingCacheTTL),
	)
	gateway := payment.NewClient(payment.Config{
		BaseURL:       cfg.Payout.BaseURL,
		KeyID:         cfg.Payout.KeyID,
		KeySecret:     cfg.Payout.KeySecret,
		AccountNumber: cfg.Payout.AccountNumber,
		Timeout:       cfg.Payout.Timeout,
	}, logr)
	payoutSvc := service.NewPayoutService(cashbackRepo, gateway, auditSvc, logr,
		service.WithPayoutTimeout(cfg.Payout.Timeout),
		service.WithPayoutRecorder(metricsSvc),
	)
	exportSvc := service.NewExportService(cashbackRepo, exportStore, signer, auditSvc, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Exports.SignedURLTTL,
	}, logr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	auditSvc.Start(ctx)
	defer auditSvc.Stop()

	go exportCleanupLoop(ctx, exportSvc, cfg.Exports.CleanupInterval, logr)

	router := buildRouter(cfg, logr,
		handler.NewAuthHandler(authSvc),
		handler.NewCashbackHandler(cashbackSvc, payoutSvc, auditSvc),
		handler.NewExportHandler(exportSvc),
		handler.NewMetricsHandler(metricsSvc),
		authSvc, metricsSvc,
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildRouter(cfg *config.Config, logr *zap.Logger,
	authHandler *handler.AuthHandler,
	cashbackHandler *handler.CashbackHandler,
	exportHandler *handler.ExportHandler,
	metricsHandler *handler.MetricsHandler,
	authSvc *service.AuthService,
	metricsSvc *service.MetricsService,
) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	protected := api.Group("")
	protected.Use(middleware.JWT(authSvc))
	{
		protected.POST("/cashback", cashbackHandler.Create)
		protected.GET("/cashback", cashbackHandler.List)
		protected.GET("/cashback/metrics", cashbackHandler.Metrics)
		protected.GET("/cashback/analytics", cashbackHandler.Analytics)
		protected.GET("/cashback/pending-count", cashbackHandler.PendingCount)
		protected.GET("/cashback/export", exportHandler.Export)
		protected.GET("/cashback/export/:token", exportHandler.Download)
		protected.GET("/cashback/:id", cashbackHandler.Get)
		protected.GET("/cashback/:id/payout-status", cashbackHandler.PayoutStatus)
		protected.GET("/cashback/:id/history", cashbackHandler.History)
	}

	// Review and disbursement actions are off limits to staff accounts.
	reviewers := protected.Group("", middleware.RequireRoles(models.RoleMerchant, models.RoleAdmin))
	{
		reviewers.PUT("/cashback/:id/approve", cashbackHandler.Approve)
		reviewers.PUT("/cashback/:id/reject", cashbackHandler.Reject)
		reviewers.PUT("/cashback/:id/mark-paid", cashbackHandler.MarkPaid)
		reviewers.POST("/cashback/:id/process-payment", cashbackHandler.ProcessPayment)
		reviewers.POST("/cashback/bulk-action", cashbackHandler.BulkAction)
	}

	return r
}

func exportCleanupLoop(ctx context.Context, exportSvc *service.ExportService, interval time.Duration, logr *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := exportSvc.Cleanup(0)
			if err != nil {
				logr.Warn("export cleanup failed", zap.Error(err))
				continue
			}
			if len(removed) > 0 {
				logr.Info("expired exports removed", zap.Int("count", len(removed)))
			}
		}
	}
}
