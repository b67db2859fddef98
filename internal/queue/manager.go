// Package queue は大きな文書操作を asynq で非同期に実行します。
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/yourusername/docforge/internal/document"
	"github.com/yourusername/docforge/internal/jobs"
	"github.com/yourusername/docforge/internal/metrics"
)

const (
	// TaskTypeDocument は文書操作タスクの種別です。
	TaskTypeDocument = "document:run"

	queueName          = "documents"
	defaultConcurrency = 4
	defaultTaskTimeout = 15 * time.Minute
	defaultMaxRetry    = 1
)

// Runner はジョブに対して操作を実行します。document.Service が実装します。
type Runner interface {
	Run(ctx context.Context, jobID string, req document.Request, progress document.ProgressReporter) (*jobs.Job, error)
	MarkQueued(ctx context.Context, jobID string, op document.OperationType) error
}

// Options は Manager の設定です。
type Options struct {
	RedisURL    string
	Concurrency int
	TaskTimeout time.Duration
	MaxRetry    int
	Logger      *zap.Logger
}

// TaskPayload は文書操作タスクのペイロードです。
type TaskPayload struct {
	JobID   string           `json:"jobId"`
	Request document.Request `json:"request"`
}

// Manager はタスクの投入とワーカーの実行を担います。
type Manager struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	runner Runner
	opts   Options
	logger *zap.Logger
}

// NewManager は Manager を初期化します。
func NewManager(runner Runner, opts Options) (*Manager, error) {
	if runner == nil {
		return nil, errors.New("runner is nil")
	}
	redisOpt, err := asynq.ParseRedisURI(opts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	opts = withDefaults(opts)

	m := &Manager{
		client: asynq.NewClient(redisOpt),
		runner: runner,
		opts:   opts,
		logger: opts.Logger,
	}
	m.server = asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: opts.Concurrency,
		Queues: map[string]int{
			queueName: 1,
		},
		Logger:       newLogger(opts.Logger),
		ErrorHandler: asynq.ErrorHandlerFunc(m.handleError),
	})
	m.mux = asynq.NewServeMux()
	m.mux.HandleFunc(TaskTypeDocument, m.handleTask)
	return m, nil
}

func withDefaults(opts Options) Options {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = defaultTaskTimeout
	}
	if opts.MaxRetry <= 0 {
		opts.MaxRetry = defaultMaxRetry
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return opts
}

// StartWorkers は asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logger.Error("asynq server stopped with error", zap.Error(err))
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown() {
	m.server.Shutdown()
	if err := m.client.Close(); err != nil {
		m.logger.Warn("failed to close asynq client", zap.Error(err))
	}
}

// Schedule は操作をキューに投入します。document.Scheduler を実装します。
func (m *Manager) Schedule(ctx context.Context, jobID string, req document.Request) error {
	_, err := m.Enqueue(ctx, &TaskPayload{JobID: jobID, Request: req})
	return err
}

// Enqueue はタスクを投入し、タスクIDを返します。
func (m *Manager) Enqueue(ctx context.Context, payload *TaskPayload) (string, error) {
	task, err := newTask(payload)
	if err != nil {
		return "", err
	}
	info, err := m.client.EnqueueContext(ctx, task,
		asynq.Queue(queueName),
		asynq.MaxRetry(m.opts.MaxRetry),
		asynq.Timeout(m.opts.TaskTimeout),
	)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", payload.JobID, err)
	}
	metrics.QueueEnqueued.WithLabelValues(string(payload.Request.Operation)).Inc()
	m.logger.Info("task enqueued",
		zap.String("job_id", payload.JobID),
		zap.String("operation", string(payload.Request.Operation)),
		zap.String("task_id", info.ID),
	)
	return info.ID, nil
}

func newTask(payload *TaskPayload) (*asynq.Task, error) {
	if payload == nil {
		return nil, errors.New("payload is nil")
	}
	if payload.JobID == "" {
		return nil, errors.New("payload.JobID is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDocument, body), nil
}

// handleTask は操作を実行します。ジョブの状態は Runner が記録するため、
// 要求そのものが不正な場合や操作が失敗として記録済みの場合は再試行しません。
func (m *Manager) handleTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		return fmt.Errorf("missing jobId in payload: %w", asynq.SkipRetry)
	}

	_, err := m.runner.Run(ctx, payload.JobID, payload.Request, nil)
	if err == nil {
		return nil
	}
	if retryable(err) {
		return err
	}
	if !errors.Is(err, document.ErrOperation) {
		// 実行前に拒否されたためジョブには待機中の印だけが残っている
		if clearErr := m.runner.MarkQueued(context.WithoutCancel(ctx), payload.JobID, ""); clearErr != nil {
			m.logger.Warn("failed to clear queued mark", zap.String("job_id", payload.JobID), zap.Error(clearErr))
		}
	}
	return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
}

// retryable は一時的な失敗だけを再試行対象にします。
// 実行中の同一ジョブとの衝突（NotReady）は再試行し、それ以外の document.Error は確定した失敗です。
func retryable(err error) bool {
	var apiErr *document.Error
	if !errors.As(err, &apiErr) {
		return true
	}
	return errors.Is(err, document.ErrNotReady)
}

func (m *Manager) handleError(_ context.Context, task *asynq.Task, err error) {
	var payload TaskPayload
	_ = json.Unmarshal(task.Payload(), &payload)
	m.logger.Warn("task failed",
		zap.String("job_id", payload.JobID),
		zap.String("operation", string(payload.Request.Operation)),
		zap.Error(err),
	)
}
