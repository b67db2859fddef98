// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yourusername/docforge/internal/auth"
	"github.com/yourusername/docforge/internal/config"
	"github.com/yourusername/docforge/internal/logging"
	"github.com/yourusername/docforge/internal/middleware"
)

const (
	serviceVersion  = "0.1.0"
	shutdownTimeout = 30 * time.Second
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.GinMode, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}
	defer app.Close()

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(logger))
	if err := setupRoutes(router, cfg, app); err != nil {
		logger.Fatal("failed to set up routes", zap.Error(err))
	}

	app.Start(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("starting api server", zap.String("addr", srv.Addr), zap.String("mode", cfg.GinMode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down api server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "docforge-api",
		"version": serviceVersion,
	})
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, app *application) error {
	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins()
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"X-Request-ID",
		auth.CSRFHeader,
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンとジョブIDを読み取れるように公開
	corsConfig.ExposeHeaders = []string{auth.CSRFHeader, "X-Request-ID", "X-Job-Id", "Content-Disposition"}
	router.Use(cors.New(corsConfig))

	// 誰でも叩けるエンドポイント
	router.GET("/health", handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	var guards []gin.HandlerFunc
	if cfg.AuthEnabled() {
		authManager, err := auth.NewManager(auth.Credentials{
			Username:      cfg.AppUsername,
			PasswordHash:  cfg.AppPasswordHash,
			SessionSecret: cfg.SessionSecret,
		}, auth.Options{Logger: app.logger})
		if err != nil {
			return err
		}
		store := auth.NewSessionStore(cfg.SessionSecret, cfg.GinMode == gin.ReleaseMode)
		api.Use(sessions.Sessions(auth.SessionCookieName, store))

		authManager.RegisterRoutes(api)
		guards = append(guards, authManager.RequireLogin(), authManager.VerifyCSRF())
	} else {
		app.logger.Warn("APP_USERNAME is not set; API is served without authentication")
	}

	// multipart のオーバーヘッド分だけ余裕を持たせる
	guards = append(guards, middleware.BodySizeLimit(int64(cfg.MaxFiles)*cfg.MaxFileSize+1<<20))
	protected := api.Group("", guards...)
	app.handler.RegisterRoutes(protected)
	return nil
}
