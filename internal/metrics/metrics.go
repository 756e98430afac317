package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Загрузка вложений
	UploadStrategyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbot_upload_strategy_total",
			Help: "Total number of upload strategy runs",
		},
		[]string{"strategy", "result"},
	)

	UploadStrategyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskbot_upload_strategy_duration_seconds",
			Help:    "Upload strategy duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"strategy", "result"},
	)

	UploadAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbot_upload_attempts_total",
			Help: "Total number of per-file upload attempts",
		},
		[]string{"result"},
	)

	UploadFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbot_upload_files_total",
			Help: "Total number of files processed by the uploader",
		},
		[]string{"result"},
	)

	// Задачи
	TasksCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbot_tasks_created_total",
			Help: "Total number of task creation calls",
		},
		[]string{"result"},
	)

	CreatorFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskbot_task_creator_fallbacks_total",
			Help: "Total number of task creations retried without CREATED_BY",
		},
	)

	// Диалоги
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskbot_sessions_active",
			Help: "Number of dialog sessions held in memory",
		},
	)

	ChatUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbot_chat_updates_total",
			Help: "Total number of chat updates received",
		},
		[]string{"kind"},
	)
)

const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
	ResultRetry   = "retry"
)

// RecordStrategy records one strategy run
func RecordStrategy(strategy, result string, durationSeconds float64) {
	UploadStrategyTotal.WithLabelValues(strategy, result).Inc()
	UploadStrategyDuration.WithLabelValues(strategy, result).Observe(durationSeconds)
}

// RecordFile records the final state of one file
func RecordFile(ok bool) {
	if ok {
		UploadFilesTotal.WithLabelValues(ResultSuccess).Inc()
	} else {
		UploadFilesTotal.WithLabelValues(ResultFailed).Inc()
	}
}
