package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal は操作の実行回数を操作種別と結果ごとに数えます。
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docforge_operations_total",
			Help: "Total number of document operations",
		},
		[]string{"operation", "status"},
	)

	// OperationDuration は操作の所要時間（秒）です。
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docforge_operation_duration_seconds",
			Help:    "Duration of document operations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"operation"},
	)

	// OperationsRunning は実行中の操作数です。
	OperationsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docforge_operations_running",
			Help: "Number of document operations currently running",
		},
	)

	// UploadsTotal はアップロード受付の結果を数えます。
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docforge_uploads_total",
			Help: "Total number of upload requests",
		},
		[]string{"status"},
	)

	// UploadBytes は受け付けたファイルの合計バイト数です。
	UploadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docforge_upload_bytes_total",
			Help: "Total bytes of accepted uploads",
		},
	)

	// JobsSwept は期限切れで削除されたジョブ数です。
	JobsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docforge_jobs_swept_total",
			Help: "Total number of expired jobs removed by the sweeper",
		},
	)

	// QueueEnqueued はキューに投入した操作数です。
	QueueEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docforge_queue_enqueued_total",
			Help: "Total number of operations enqueued for asynchronous processing",
		},
		[]string{"operation"},
	)

	// LoginAttempts はログイン試行の結果を数えます。
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docforge_login_attempts_total",
			Help: "Total number of login attempts by result",
		},
		[]string{"result"},
	)
)
