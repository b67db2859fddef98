package main

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yourusername/docforge/internal/codec"
	"github.com/yourusername/docforge/internal/config"
	"github.com/yourusername/docforge/internal/document"
	"github.com/yourusername/docforge/internal/jobs"
	"github.com/yourusername/docforge/internal/metrics"
	"github.com/yourusername/docforge/internal/queue"
	"github.com/yourusername/docforge/internal/storage"
)

const sweepInterval = 5 * time.Minute

// application はサーバーが保持する依存関係です。
type application struct {
	cfg     *config.Config
	store   *jobs.Store
	service *document.Service
	handler *document.Handler
	queue   *queue.Manager
	logger  *zap.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*application, error) {
	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store, err := jobs.NewStore(backend, cfg.DataDir, logger)
	if err != nil {
		backend.Close()
		return nil, err
	}
	app := &application{cfg: cfg, store: store, logger: logger}

	engine := codec.NewPDFEngine()
	runner := codec.NewExecRunner(logger)
	var optimizer document.Optimizer = engine
	if gs := lookupTool(logger, "ghostscript", cfg.GhostscriptPath); gs != "" {
		optimizer = codec.NewGhostscript(gs, runner)
	}
	converter := codec.NewDefaultRegistry(codec.Tools{
		Engine:      engine,
		Runner:      runner,
		PDFToPPM:    lookupTool(logger, "pdftoppm", cfg.PDFToPPMPath),
		PDFToText:   lookupTool(logger, "pdftotext", cfg.PDFToTextPath),
		LibreOffice: lookupTool(logger, "libreoffice", cfg.LibreOfficePath),
		DPI:         cfg.RenderDPI,
		Logger:      logger,
	})

	opts := document.Options{
		MaxFileSize:   cfg.MaxFileSize,
		MaxFiles:      cfg.MaxFiles,
		MaxPages:      cfg.MaxPages,
		ResultBaseURL: cfg.JobResultBaseURL,
		Logger:        logger,
	}
	if cfg.S3Bucket != "" {
		publisher, err := storage.NewS3Publisher(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			PresignExpiry:   cfg.PresignExpiry(),
		}, logger)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init s3 publisher: %w", err)
		}
		opts.Publisher = publisher
	}

	app.service, err = document.NewService(store, engine, optimizer, converter, opts)
	if err != nil {
		app.Close()
		return nil, err
	}

	handlerOpts := document.HandlerOptions{
		AsyncThresholdBytes: cfg.AsyncThresholdBytes,
		AsyncThresholdPages: cfg.AsyncThresholdPages,
		AllowedOrigins:      cfg.AllowedOrigins(),
		Logger:              logger,
	}
	if cfg.QueueRedisURL != "" {
		app.queue, err = queue.NewManager(app.service, queue.Options{
			RedisURL:    cfg.QueueRedisURL,
			Concurrency: cfg.QueueConcurrency,
			Logger:      logger,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init queue: %w", err)
		}
		handlerOpts.Scheduler = app.queue
	} else {
		logger.Info("QUEUE_REDIS_URL is not set; all operations run synchronously")
	}
	app.handler = document.NewHandler(app.service, handlerOpts)

	logger.Info("application initialized",
		zap.String("store", cfg.StoreBackend),
		zap.String("data_dir", cfg.DataDir),
		zap.Strings("conversions", converter.Pairs()),
		zap.Bool("queue", app.queue != nil),
		zap.Bool("object_storage", opts.Publisher != nil),
	)
	return app, nil
}

func newBackend(ctx context.Context, cfg *config.Config) (jobs.Backend, error) {
	switch cfg.StoreBackend {
	case config.StoreRedis:
		opt, err := redis.ParseURL(cfg.StoreRedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse STORE_REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("connect redis store: %w", err)
		}
		// 掃除が間に合わなかった場合もレコードが残り続けないようにする
		var ttl time.Duration
		if exp := cfg.JobExpiry(); exp > 0 {
			ttl = 2 * exp
		}
		return jobs.NewRedisBackend(rdb, ttl), nil
	case config.StoreSQLite:
		return jobs.OpenSQLiteBackend(cfg.StoreSQLitePath)
	default:
		return jobs.NewMemoryBackend(), nil
	}
}

// lookupTool は外部コマンドを探します。見つからなければ空文字を返し、対応する処理は無効になります。
func lookupTool(logger *zap.Logger, name, path string) string {
	if path == "" {
		return ""
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		logger.Warn("external tool not found; related operations are disabled",
			zap.String("tool", name), zap.String("path", path))
		return ""
	}
	return resolved
}

// Start はワーカーと期限切れジョブの掃除を開始します。
func (a *application) Start(ctx context.Context) {
	if a.queue != nil {
		a.queue.StartWorkers()
	}
	if expiry := a.cfg.JobExpiry(); expiry > 0 {
		go a.sweepLoop(ctx, expiry)
	}
}

func (a *application) sweepLoop(ctx context.Context, expiry time.Duration) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweep(ctx, expiry)
		}
	}
}

func (a *application) sweep(ctx context.Context, expiry time.Duration) {
	n, err := a.store.Sweep(ctx, expiry)
	if err != nil {
		a.logger.Warn("failed to sweep expired jobs", zap.Error(err))
	}
	if n > 0 {
		metrics.JobsSwept.Add(float64(n))
		a.logger.Info("expired jobs removed", zap.Int("count", n))
	}
}

// Close はワーカーを止めてストアを閉じます。
func (a *application) Close() {
	if a.queue != nil {
		a.queue.Shutdown()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close job store", zap.Error(err))
	}
}
