package output

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/foxglove/mcap/go/mcap"

	"ddsrecorder/internal/constants"
	"ddsrecorder/internal/logger"
	"ddsrecorder/internal/version"
	"ddsrecorder/pkg/errors"
	"ddsrecorder/pkg/metrics"
)

// Message is a sample ready to be written to the container.
type Message struct {
	ChannelID   uint16
	Sequence    uint32
	LogTime     uint64
	PublishTime uint64
	Data        []byte
}

// Writer wraps the MCAP container writer. It owns the open file, enforces the
// per-file and aggregate size limits through the size and file trackers, and
// rotates files when a write does not fit. Schemas and channels are kept
// between files so every produced file is self-contained; channels are cleared
// on Disable, schemas persist.
type Writer struct {
	mtx sync.Mutex

	cfg     Settings
	log     logger.Logger
	tracker *FileTracker
	size    SizeTracker

	enabled bool
	file    *os.File
	mw      *mcap.Writer

	schemas  map[uint16]*mcap.Schema
	channels map[uint16]*mcap.Channel

	nextSchemaID  uint16
	nextChannelID uint16

	dynamicTypes []byte

	// opening is set while a fresh file replays its known records; those
	// writes must not trigger a nested rotation.
	opening bool

	onDiskFull       func()
	diskFullNotified bool
}

func NewWriter(cfg Settings, tracker *FileTracker, log logger.Logger) *Writer {
	return &Writer{
		cfg:           cfg,
		log:           log,
		tracker:       tracker,
		schemas:       make(map[uint16]*mcap.Schema),
		channels:      make(map[uint16]*mcap.Channel),
		nextSchemaID:  1,
		nextChannelID: 1,
	}
}

func (w *Writer) SetOnDiskFullCallback(f func()) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	w.onDiskFull = f
}

// Enable opens a new output file. Idempotent. On FullDisk the disk-full
// callback fires and the writer stays disabled without error; any other open
// failure is an initialization error.
func (w *Writer) Enable() error {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	if w.enabled {
		return nil
	}

	w.log.Infow("Enabling MCAP writer")

	if err := w.openNewFile(w.size.MinMCAPSize() + w.cfg.SafetyMargin); err != nil {
		if errors.IsFullDisk(err) {
			w.log.Errorw("Error opening a new MCAP file", "error", err)
			w.handleDiskFull()
			return nil
		}
		return err
	}

	w.enabled = true
	w.diskFullNotified = false
	return nil
}

// Disable writes the dynamic-types attachment if applicable, closes the
// current file and clears the channel map. Idempotent.
func (w *Writer) Disable() {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	if !w.enabled {
		return
	}

	w.log.Infow("Disabling MCAP writer")

	w.closeCurrentFile()

	// Old channels must not be rewritten into files opened after re-enabling.
	w.channels = make(map[uint16]*mcap.Channel)

	w.enabled = false
}

// Enabled reports whether the writer currently accepts writes.
func (w *Writer) Enabled() bool {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	return w.enabled
}

// CurrentFilename is the in-progress name of the open file, or empty.
func (w *Writer) CurrentFilename() string {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	if !w.enabled {
		return ""
	}
	return w.tracker.CurrentFilename()
}

// AddSchema registers a schema, writes it to the open file, and returns the id
// assigned to it. Ids are monotonic and never reused. When the writer is
// disabled the schema is only registered; it is written once a file opens.
func (w *Writer) AddSchema(name, encoding string, data []byte) (uint16, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	schema := &mcap.Schema{
		ID:       w.nextSchemaID,
		Name:     name,
		Encoding: encoding,
		Data:     data,
	}
	w.nextSchemaID++

	if w.enabled {
		if err := w.writeSchema(schema); err != nil {
			return 0, err
		}
	}

	w.schemas[schema.ID] = schema
	return schema.ID, nil
}

// AddChannel registers a channel bound to schemaID, writes it to the open
// file, and returns the id assigned to it.
func (w *Writer) AddChannel(topic string, schemaID uint16, metadata map[string]string) (uint16, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	channel := &mcap.Channel{
		ID:              w.nextChannelID,
		SchemaID:        schemaID,
		Topic:           topic,
		MessageEncoding: constants.MessageEncodingCDR,
		Metadata:        metadata,
	}
	w.nextChannelID++

	if w.enabled {
		if err := w.writeChannel(channel); err != nil {
			return 0, err
		}
	}

	w.channels[channel.ID] = channel
	return channel.ID, nil
}

// WriteMessage writes a message, rotating the file when it does not fit. On
// disk full the message is dropped and the disk-full callback fires; on an
// underlying container error the message is dropped and recording continues.
func (w *Writer) WriteMessage(msg *Message) {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	if !w.enabled || w.mw == nil {
		w.log.Warnw("Attempting to write a message in a disabled writer")
		metrics.MessagesDroppedTotal.WithLabelValues("writer_disabled").Inc()
		return
	}

	dataLen := uint64(len(msg.Data))

	if err := w.size.MessageToWrite(dataLen); err != nil {
		if !w.recoverFullFile(err) {
			metrics.MessagesDroppedTotal.WithLabelValues("disk_full").Inc()
			return
		}
		if err := w.size.MessageToWrite(dataLen); err != nil {
			w.log.Errorw("Message does not fit in a fresh file", "error", err)
			metrics.MessagesDroppedTotal.WithLabelValues("oversized").Inc()
			return
		}
	}

	if err := w.mw.WriteMessage(&mcap.Message{
		ChannelID:   msg.ChannelID,
		Sequence:    msg.Sequence,
		LogTime:     msg.LogTime,
		PublishTime: msg.PublishTime,
		Data:        msg.Data,
	}); err != nil {
		w.log.Errorw("Error writing message to MCAP", "error", err)
		metrics.MessagesDroppedTotal.WithLabelValues("writer_error").Inc()
		return
	}

	w.size.MessageWritten(dataLen)
	w.tracker.SetCurrentFileSize(w.size.PotentialSize())
	metrics.MessagesWrittenTotal.Inc()
}

// WriteMetadata writes a metadata record to the open file.
func (w *Writer) WriteMetadata(name string, kv map[string]string) {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	if !w.enabled {
		return
	}
	w.writeMetadata(&mcap.Metadata{Name: name, Metadata: kv})
}

// UpdateDynamicTypes replaces the stored dynamic-types payload, adjusting the
// attachment reservation by the length delta. The payload is written as an
// attachment when the current file closes.
func (w *Writer) UpdateDynamicTypes(payload []byte) {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	oldLen := uint64(len(w.dynamicTypes))
	newLen := uint64(len(payload))

	if w.enabled {
		reserve := func() error {
			return w.size.AttachmentToWrite(newLen, oldLen,
				constants.DynamicTypesAttachmentName, constants.DynamicTypesMediaType)
		}
		if err := reserve(); err != nil {
			if !w.recoverFullFile(err) {
				w.dynamicTypes = payload
				return
			}
			// The fresh file reserved the old payload length on open.
			if err := reserve(); err != nil {
				w.log.Errorw("Dynamic types payload does not fit in a fresh file", "error", err)
			}
		}
		w.tracker.SetCurrentFileSize(w.size.PotentialSize())
	}

	w.dynamicTypes = payload
}

// recoverFullFile handles a FullFile error from a reservation: it rotates to a
// fresh file and reports whether the caller may retry. On disk full it fires
// the callback, disables the writer, and returns false.
func (w *Writer) recoverFullFile(err error) bool {
	full, ok := err.(*errors.FullFileError)
	if !ok {
		w.log.Errorw("Unexpected reservation error", "error", err)
		return false
	}

	if w.opening {
		// The minimum size accounts for replayed records; a failure here means
		// the budget is exhausted and rotating again cannot help.
		w.log.Errorw("Replayed record does not fit in a fresh file", "error", err)
		return false
	}

	if rerr := w.rotate(full); rerr != nil {
		if errors.IsFullDisk(rerr) {
			w.log.Errorw("Disk is full", "error", rerr)
			w.handleDiskFull()
		} else {
			w.log.Errorw("Error rotating output file", "error", rerr)
		}
		return false
	}
	return true
}

// rotate closes the current file and opens a fresh one large enough for the
// bytes that did not fit. With rotation disabled (max_file_size == max_size) a
// full file is a full disk.
func (w *Writer) rotate(full *errors.FullFileError) error {
	w.closeCurrentFile()
	w.enabled = false

	if w.cfg.MaxFileSize == w.cfg.MaxSize {
		return errors.ErrFullDisk.WithDetail("message", "rotation disabled and the only file is full")
	}

	minSize := w.size.MinMCAPSize() + w.cfg.SafetyMargin + full.Unfit
	if err := w.openNewFile(minSize); err != nil {
		return err
	}

	w.enabled = true
	metrics.FileRotationsTotal.Inc()
	return nil
}

func (w *Writer) openNewFile(minSize uint64) error {
	if err := w.tracker.NewFile(minSize); err != nil {
		return err
	}

	filename := w.tracker.CurrentFilename()

	f, err := os.Create(filename)
	if err != nil {
		metrics.MonitorError(metrics.ErrorFileCreationFailed)
		return errors.ErrInitialization.
			WithDetail("message", fmt.Sprintf("failed to open MCAP file %s for writing", filename)).
			WithCause(err)
	}

	mw, err := mcap.NewWriter(f, w.writerOptions())
	if err != nil {
		f.Close()
		metrics.MonitorError(metrics.ErrorFileCreationFailed)
		return errors.ErrInitialization.WithCause(err)
	}

	w.file = f
	w.mw = mw

	maxFileSize := w.cfg.MaxFileSize
	if remaining := w.cfg.MaxSize - w.tracker.TotalSize(); remaining < maxFileSize {
		maxFileSize = remaining
	}
	w.size.Init(maxFileSize, w.cfg.SafetyMargin)

	if err := mw.WriteHeader(&mcap.Header{
		Library: "ddsrecorder " + version.Release,
	}); err != nil {
		return errors.ErrInitialization.WithCause(err)
	}

	// These writes never fail the budget: the minimum size accounts for them.
	w.opening = true
	w.writeVersionMetadata()
	w.writeKnownSchemas()
	w.writeKnownChannels()
	w.opening = false

	if w.dynamicTypes != nil && w.cfg.RecordTypes {
		if err := w.size.AttachmentToWrite(uint64(len(w.dynamicTypes)), 0,
			constants.DynamicTypesAttachmentName, constants.DynamicTypesMediaType); err != nil {
			w.log.Errorw("Failed to reserve dynamic types attachment", "error", err)
		}
	}

	w.tracker.SetCurrentFileSize(w.size.PotentialSize())
	metrics.FilesOpenedTotal.Inc()
	return nil
}

func (w *Writer) closeCurrentFile() {
	if w.mw == nil {
		return
	}

	if w.cfg.RecordTypes && w.dynamicTypes != nil {
		w.writeAttachment()
	}

	if err := w.mw.Close(); err != nil {
		w.log.Errorw("Error finalizing MCAP file", "error", err)
	}
	if err := w.file.Close(); err != nil {
		w.log.Errorw("Error closing output file", "error", err)
	}
	w.mw = nil
	w.file = nil

	if st, err := os.Stat(w.tracker.CurrentFilename()); err == nil {
		w.tracker.SetCurrentFileSize(uint64(st.Size()))
	} else {
		w.tracker.SetCurrentFileSize(w.size.WrittenSize())
	}
	w.size.Reset()

	if err := w.tracker.CloseFile(); err != nil {
		w.log.Errorw("Error renaming output file", "error", err)
	}
}

func (w *Writer) writerOptions() *mcap.WriterOptions {
	opts := &mcap.WriterOptions{
		Chunked:   true,
		ChunkSize: 1024 * 1024,
	}
	switch w.cfg.Compression {
	case "zstd":
		opts.Compression = mcap.CompressionZSTD
	case "lz4":
		opts.Compression = mcap.CompressionLZ4
	default:
		opts.Compression = mcap.CompressionNone
	}
	return opts
}

func (w *Writer) writeSchema(schema *mcap.Schema) error {
	if w.mw == nil {
		return nil
	}
	if err := w.size.SchemaToWrite(schema); err != nil {
		if !w.recoverFullFile(err) {
			return nil
		}
		if err := w.size.SchemaToWrite(schema); err != nil {
			return err
		}
	}

	if err := w.mw.WriteSchema(schema); err != nil {
		w.log.Errorw("Error writing schema to MCAP", "error", err, "schema", schema.Name)
		return nil
	}

	w.size.SchemaWritten(schema)
	w.tracker.SetCurrentFileSize(w.size.PotentialSize())
	return nil
}

func (w *Writer) writeChannel(channel *mcap.Channel) error {
	if w.mw == nil {
		return nil
	}
	if err := w.size.ChannelToWrite(channel); err != nil {
		if !w.recoverFullFile(err) {
			return nil
		}
		if err := w.size.ChannelToWrite(channel); err != nil {
			return err
		}
	}

	if err := w.mw.WriteChannel(channel); err != nil {
		w.log.Errorw("Error writing channel to MCAP", "error", err, "topic", channel.Topic)
		return nil
	}

	w.size.ChannelWritten(channel)
	w.tracker.SetCurrentFileSize(w.size.PotentialSize())
	return nil
}

func (w *Writer) writeMetadata(metadata *mcap.Metadata) {
	if w.mw == nil {
		return
	}
	if err := w.size.MetadataToWrite(metadata); err != nil {
		w.log.Errorw("Metadata does not fit in the current file", "error", err, "metadata", metadata.Name)
		return
	}

	if err := w.mw.WriteMetadata(metadata); err != nil {
		w.log.Errorw("Error writing metadata to MCAP", "error", err, "metadata", metadata.Name)
		return
	}

	w.size.MetadataWritten(metadata)
	w.tracker.SetCurrentFileSize(w.size.PotentialSize())
}

func (w *Writer) writeAttachment() {
	// No budget check here: the reservation was taken when the payload was set.
	err := w.mw.WriteAttachment(&mcap.Attachment{
		LogTime:    uint64(time.Now().UnixNano()),
		CreateTime: uint64(time.Now().UnixNano()),
		Name:       constants.DynamicTypesAttachmentName,
		MediaType:  constants.DynamicTypesMediaType,
		DataSize:   uint64(len(w.dynamicTypes)),
		Data:       bytes.NewReader(w.dynamicTypes),
	})
	if err != nil {
		w.log.Errorw("Error writing attachment to MCAP", "error", err)
		return
	}

	w.size.AttachmentWritten(uint64(len(w.dynamicTypes)),
		constants.DynamicTypesAttachmentName, constants.DynamicTypesMediaType)
}

func (w *Writer) writeVersionMetadata() {
	w.writeMetadata(&mcap.Metadata{
		Name: constants.VersionMetadataName,
		Metadata: map[string]string{
			constants.VersionMetadataRelease: version.Release,
			constants.VersionMetadataCommit:  version.Commit,
		},
	})
}

func (w *Writer) writeKnownSchemas() {
	if len(w.schemas) == 0 {
		return
	}

	ids := make([]int, 0, len(w.schemas))
	for id := range w.schemas {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	for _, id := range ids {
		w.writeSchema(w.schemas[uint16(id)])
	}
}

func (w *Writer) writeKnownChannels() {
	if len(w.channels) == 0 {
		return
	}

	ids := make([]int, 0, len(w.channels))
	for id := range w.channels {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	for _, id := range ids {
		w.writeChannel(w.channels[uint16(id)])
	}
}

func (w *Writer) handleDiskFull() {
	w.enabled = false

	if w.diskFullNotified {
		return
	}
	w.diskFullNotified = true

	metrics.MonitorError(metrics.ErrorDiskFull)
	if w.onDiskFull != nil {
		w.onDiskFull()
	}
}
