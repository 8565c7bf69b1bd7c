package recorder

import (
	"time"

	"ddsrecorder/internal/output"
)

// Config holds the handler options together with the output settings shared
// with the container writer.
type Config struct {
	Output output.Settings

	// BufferSize is the number of buffered messages that triggers a dump to
	// disk while running.
	BufferSize int

	// EventWindow is the interval of past traffic retained while paused.
	EventWindow time.Duration

	// CleanupPeriod is the interval between buffer trims while paused.
	CleanupPeriod time.Duration

	// MaxPendingSamples bounds each per-type pending list. Zero disables
	// pending buffering while running; while paused, samples without a schema
	// are still queued, without a bound.
	MaxPendingSamples int

	// OnlyWithSchema drops samples whose type schema never arrives instead of
	// recording them under the blank schema.
	OnlyWithSchema bool

	// RecordTypes enables the dynamic-types attachment.
	RecordTypes bool

	// Downsampling keeps 1 in N samples per topic. Values below 2 keep all.
	Downsampling int
}
