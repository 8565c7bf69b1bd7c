package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	ShutdownTimeout = 5 * time.Second
)

// Output file naming.
const (
	TmpFileSuffix          = ".tmp"
	McapFileExtension      = ".mcap"
	DefaultTimestampFormat = "2006-01-02T15_04_05Z"
)

// Records present in every output file.
const (
	VersionMetadataName    = "version"
	VersionMetadataRelease = "release"
	VersionMetadataCommit  = "commit"

	DynamicTypesAttachmentName = "dynamic_types"
	DynamicTypesMediaType      = "application/json"
)

// Sentinel schema used for channels whose type is not known yet.
const (
	BlankSchemaName = "__blank__"
)

const (
	MessageEncodingCDR = "cdr"
	QoSMetadataKey     = "qos"
)

// Recorder defaults. The config validator applies the buffer size, event
// window and safety margin when unset; DefaultMaxPending is not applied, as a
// zero max_pending_samples turns pending buffering off.
const (
	DefaultBufferSize    = 100
	DefaultEventWindow   = 20 * time.Second
	DefaultCleanupPeriod = DefaultEventWindow / 2
	DefaultMaxPending    = 5000
	DefaultSafetyMargin  = 1024 * 1024
)
