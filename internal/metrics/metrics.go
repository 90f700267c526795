package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Job Metrics
	JobsStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediabatch_jobs_started_total",
			Help: "Total number of batch jobs started",
		},
		[]string{"mode"},
	)

	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediabatch_jobs_completed_total",
			Help: "Total number of batch jobs that reached a final state",
		},
		[]string{"status"},
	)

	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediabatch_jobs_active",
			Help: "Number of jobs currently being processed (0 or 1)",
		},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediabatch_job_duration_seconds",
			Help:    "Wall-clock duration of batch jobs in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16), // 1s to ~9 hours
		},
		[]string{"status"},
	)

	// File Metrics
	FilesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediabatch_files_processed_total",
			Help: "Total number of file tasks that reached a final state",
		},
		[]string{"status"},
	)

	FileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediabatch_file_duration_seconds",
			Help:    "Time spent transcoding one file in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
		[]string{"status"},
	)

	TranscodingSpeed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mediabatch_transcode_speed_ratio",
			Help:    "Transcoding speed ratio (media duration / processing time)",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 4.0, 8.0, 16.0, 32.0},
		},
	)

	ScannedFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediabatch_scanned_files_total",
			Help: "Total number of files classified by the directory scanner",
		},
		[]string{"classification"},
	)

	// External process Metrics
	ProcessRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediabatch_process_runs_total",
			Help: "Total number of external tool invocations by outcome",
		},
		[]string{"tool", "result"},
	)

	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediabatch_probes_total",
			Help: "Total number of ffprobe invocations",
		},
		[]string{"result"},
	)

	ProbeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mediabatch_probe_duration_seconds",
			Help:    "ffprobe latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Repair Metrics
	RepairAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediabatch_repair_attempts_total",
			Help: "Total number of repair strategy attempts by outcome",
		},
		[]string{"strategy", "outcome"},
	)

	RepairsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediabatch_repairs_total",
			Help: "Total number of repair chain runs by final result",
		},
		[]string{"result"},
	)

	DamagedFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediabatch_damaged_files",
			Help: "Number of entries in the damaged-file registry",
		},
	)

	// Integration Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediabatch_storage_operations_total",
			Help: "Total number of object storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageBytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediabatch_storage_bytes_transferred_total",
			Help: "Total bytes transferred to object storage",
		},
		[]string{"operation"},
	)

	DatabaseOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediabatch_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediabatch_events_published_total",
			Help: "Total number of lifecycle events handed to a notifier",
		},
		[]string{"sink", "status"},
	)

	CacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediabatch_cache_operations_total",
			Help: "Total number of progress mirror operations",
		},
		[]string{"operation", "status"},
	)

	// System Metrics
	SystemCPUPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediabatch_system_cpu_percent",
			Help: "Host CPU utilisation sampled during processing",
		},
	)

	SystemMemoryPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediabatch_system_memory_percent",
			Help: "Host memory utilisation sampled during processing",
		},
	)
)

// RecordJobStarted records a job entering processing
func RecordJobStarted(mode string) {
	JobsStartedTotal.WithLabelValues(mode).Inc()
	JobsActive.Set(1)
}

// RecordJobFinished records a job reaching a final state
func RecordJobFinished(status string, duration float64) {
	JobsCompletedTotal.WithLabelValues(status).Inc()
	JobDuration.WithLabelValues(status).Observe(duration)
	JobsActive.Set(0)
}

// RecordFileFinished records a file task reaching a final state
func RecordFileFinished(status string, duration float64) {
	FilesProcessedTotal.WithLabelValues(status).Inc()
	if duration > 0 {
		FileDuration.WithLabelValues(status).Observe(duration)
	}
}

// RecordTranscodingSpeed records the media-seconds per wall-second ratio
func RecordTranscodingSpeed(speed float64) {
	if speed > 0 {
		TranscodingSpeed.Observe(speed)
	}
}

// RecordScannedFile records a scanner classification
func RecordScannedFile(classification string) {
	ScannedFilesTotal.WithLabelValues(classification).Inc()
}

// RecordProcessRun records an external tool invocation
func RecordProcessRun(tool, result string) {
	ProcessRunsTotal.WithLabelValues(tool, result).Inc()
}

// RecordProbe records an ffprobe invocation
func RecordProbe(result string, duration float64) {
	ProbesTotal.WithLabelValues(result).Inc()
	ProbeDuration.Observe(duration)
}

// RecordRepairAttempt records the outcome of one repair strategy
func RecordRepairAttempt(strategy, outcome string) {
	RepairAttemptsTotal.WithLabelValues(strategy, outcome).Inc()
}

// RecordRepair records the final result of a repair chain run
func RecordRepair(repaired bool) {
	result := "failed"
	if repaired {
		result = "repaired"
	}
	RepairsTotal.WithLabelValues(result).Inc()
}

// SetDamagedFiles updates the damaged registry size
func SetDamagedFiles(n int) {
	DamagedFiles.Set(float64(n))
}

// RecordStorageOperation records storage operation metrics
func RecordStorageOperation(operation, status string, bytesTransferred int64) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	if bytesTransferred > 0 {
		StorageBytesTransferred.WithLabelValues(operation).Add(float64(bytesTransferred))
	}
}

// RecordDatabaseOperation records database operation metrics
func RecordDatabaseOperation(operation, status string) {
	DatabaseOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordEventPublished records a notifier delivery attempt
func RecordEventPublished(sink string, err error) {
	EventsPublishedTotal.WithLabelValues(sink, statusOf(err)).Inc()
}

// RecordCacheOperation records a progress mirror operation
func RecordCacheOperation(operation string, err error) {
	CacheOperationsTotal.WithLabelValues(operation, statusOf(err)).Inc()
}

// UpdateSystemMetrics records a telemetry sample
func UpdateSystemMetrics(cpuPercent, memoryPercent float64) {
	SystemCPUPercent.Set(cpuPercent)
	SystemMemoryPercent.Set(memoryPercent)
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
