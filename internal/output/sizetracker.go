package output

import (
	"github.com/foxglove/mcap/go/mcap"

	"ddsrecorder/pkg/errors"
)

// SizeTracker accounts the bytes that will be, and have been, written to the
// current file. Reservations (XToWrite) stage bytes against the per-file
// budget before the underlying write; commits (XWritten) record the bytes once
// the container writer confirmed them. Keeping the two apart lets the file
// tracker publish a conservative size estimate between reserve and commit.
//
// SizeTracker is pure accounting and is not safe for concurrent use; the
// writer serializes access.
type SizeTracker struct {
	limit        uint64
	safetyMargin uint64

	potential uint64
	written   uint64

	// minSize accumulates the writes replayed into every fresh file: the
	// version metadata, the known schemas and channels, and the pending
	// dynamic-types attachment. A new file must fit at least this much.
	minSize uint64
}

// Init sets the per-file budget and the headroom reserved for the footer and
// summary section. It starts accounting for a fresh file.
func (t *SizeTracker) Init(fileLimit, safetyMargin uint64) {
	t.limit = fileLimit
	t.safetyMargin = safetyMargin
	t.potential = fileOverhead
	t.written = fileOverhead
	t.minSize = fileOverhead
}

// Reset clears the per-file counters after a file is closed. The minimum size
// survives so a rotation can size the next file before reopening.
func (t *SizeTracker) Reset() {
	t.potential = 0
	t.written = 0
}

func (t *SizeTracker) reserve(size uint64) error {
	if t.potential+size+t.safetyMargin > t.limit {
		return errors.NewFullFileError(size)
	}
	t.potential += size
	return nil
}

func (t *SizeTracker) MessageToWrite(dataLen uint64) error {
	return t.reserve(messageSize(dataLen))
}

func (t *SizeTracker) MessageWritten(dataLen uint64) {
	t.written += messageSize(dataLen)
}

func (t *SizeTracker) SchemaToWrite(s *mcap.Schema) error {
	return t.reserve(schemaSize(s))
}

func (t *SizeTracker) SchemaWritten(s *mcap.Schema) {
	size := schemaSize(s)
	t.written += size
	t.minSize += size
}

func (t *SizeTracker) ChannelToWrite(c *mcap.Channel) error {
	return t.reserve(channelSize(c))
}

func (t *SizeTracker) ChannelWritten(c *mcap.Channel) {
	size := channelSize(c)
	t.written += size
	t.minSize += size
}

func (t *SizeTracker) MetadataToWrite(m *mcap.Metadata) error {
	return t.reserve(metadataSize(m))
}

func (t *SizeTracker) MetadataWritten(m *mcap.Metadata) {
	size := metadataSize(m)
	t.written += size
	t.minSize += size
}

// AttachmentToWrite reserves space for an attachment of newLen bytes,
// releasing a previous reservation of oldLen bytes first. Pass oldLen 0 for
// the first reservation.
func (t *SizeTracker) AttachmentToWrite(newLen, oldLen uint64, name, mediaType string) error {
	newSize := attachmentSize(name, mediaType, newLen)
	oldSize := uint64(0)
	if oldLen > 0 {
		oldSize = attachmentSize(name, mediaType, oldLen)
	}

	if newSize > oldSize {
		if err := t.reserve(newSize - oldSize); err != nil {
			return err
		}
	} else {
		t.potential -= oldSize - newSize
	}

	t.minSize += newSize
	t.minSize -= oldSize
	return nil
}

func (t *SizeTracker) AttachmentWritten(dataLen uint64, name, mediaType string) {
	t.written += attachmentSize(name, mediaType, dataLen)
}

// MinMCAPSize is the size every fresh file must accommodate: the base file
// overhead plus the records replayed on open and the pending attachment.
func (t *SizeTracker) MinMCAPSize() uint64 {
	if t.minSize < fileOverhead {
		return fileOverhead
	}
	return t.minSize
}

// PotentialSize is the staged plus committed byte estimate.
func (t *SizeTracker) PotentialSize() uint64 {
	return t.potential
}

// WrittenSize is the committed byte estimate.
func (t *SizeTracker) WrittenSize() uint64 {
	return t.written
}
