package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Monitor error tags reported through MonitorErrorsTotal.
const (
	ErrorTypeMismatch       = "TYPE_MISMATCH"
	ErrorQoSMismatch        = "QOS_MISMATCH"
	ErrorFileCreationFailed = "MCAP_FILE_CREATION_FAILURE"
	ErrorDiskFull           = "DISK_FULL"
)

var (
	MessagesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recorder_messages_received_total",
			Help: "Total number of messages handed to the recorder (count)",
		},
		[]string{"state"},
	)

	MessagesWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "recorder_messages_written_total",
			Help: "Total number of messages written to output files (count)",
		},
	)

	MessagesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recorder_messages_dropped_total",
			Help: "Total number of messages discarded without being written (count)",
		},
		[]string{"reason"},
	)

	FilesOpenedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "recorder_files_opened_total",
			Help: "Total number of output files opened (count)",
		},
	)

	FileRotationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "recorder_file_rotations_total",
			Help: "Total number of file rotations caused by the per-file size limit (count)",
		},
	)

	CurrentFileBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "recorder_current_file_bytes",
			Help: "Estimated size of the output file currently being written (bytes)",
		},
	)

	TotalOutputBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "recorder_output_bytes_total",
			Help: "Aggregate size of all output files, closed and open (bytes)",
		},
	)

	BufferedSamples = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "recorder_buffered_samples",
			Help: "Number of samples currently held in the in-memory buffer (count)",
		},
	)

	PendingSamples = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "recorder_pending_samples",
			Help: "Number of samples waiting for their type schema (count)",
		},
		[]string{"store"},
	)

	SchemasKnown = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "recorder_schemas_known",
			Help: "Number of distinct type schemas received so far (count)",
		},
	)

	EventsTriggeredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "recorder_events_triggered_total",
			Help: "Total number of capture events triggered while paused (count)",
		},
	)

	MonitorErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recorder_monitor_errors_total",
			Help: "Total number of monitored recorder errors by type (count)",
		},
		[]string{"type"},
	)

	SourceMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recorder_source_messages_total",
			Help: "Total number of messages consumed from the sample source (count)",
		},
		[]string{"status"},
	)
)

func Register() {
	prometheus.MustRegister(
		MessagesReceivedTotal,
		MessagesWrittenTotal,
		MessagesDroppedTotal,
		FilesOpenedTotal,
		FileRotationsTotal,
		CurrentFileBytes,
		TotalOutputBytes,
		BufferedSamples,
		PendingSamples,
		SchemasKnown,
		EventsTriggeredTotal,
		MonitorErrorsTotal,
		SourceMessagesTotal,
	)
}

// MonitorError is the monitoring hook for recorder error conditions.
func MonitorError(errorType string) {
	MonitorErrorsTotal.WithLabelValues(errorType).Inc()
}
