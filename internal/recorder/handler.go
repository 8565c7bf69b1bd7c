package recorder

import (
	"bytes"
	"sync"
	"time"

	"ddsrecorder/internal/constants"
	"ddsrecorder/internal/logger"
	"ddsrecorder/internal/output"
	"ddsrecorder/internal/payload"
	"ddsrecorder/pkg/errors"
	"ddsrecorder/pkg/metrics"
	"ddsrecorder/pkg/models"
)

type schemaRecord struct {
	id   uint16
	data []byte
}

type channelRecord struct {
	id       uint16
	schemaID uint16
	topic    models.DdsTopic
	blank    bool
}

// Handler is the recording state machine. It receives samples and type
// schemas from the subscription layer, buffers them according to the current
// state, and hands them to the container writer.
//
// Command methods (Start, Pause, Stop, TriggerEvent) are not thread safe among
// themselves; callers execute them sequentially. They are serialized against
// data ingestion by the handler mutex.
type Handler struct {
	cfg     Config
	pool    *payload.Pool
	log     logger.Logger
	writer  *output.Writer
	tracker *output.FileTracker

	mtx   sync.Mutex
	state StateCode

	schemas       map[string]*schemaRecord
	receivedTypes map[string]struct{}
	channels      map[models.TopicKey]*channelRecord
	blankSchemaID uint16

	buffer        []*message
	dynamicTypes  *DynamicTypesCollection
	pending       *pendingStore
	pendingPaused *pendingStore

	topicCounts map[models.TopicKey]uint64
	topicQoS    map[string]string
	sequence    uint32

	eventTrigger chan struct{}
	eventStop    chan struct{}
	eventDone    chan struct{}
}

// NewHandler creates a handler around the given file tracker and moves it to
// initState. An Initialization error from opening the very first file is
// propagated to the caller.
func NewHandler(
	cfg Config,
	pool *payload.Pool,
	tracker *output.FileTracker,
	initState StateCode,
	onDiskFull func(),
	log logger.Logger,
) (*Handler, error) {
	cfg.Output.RecordTypes = cfg.RecordTypes

	h := &Handler{
		cfg:           cfg,
		pool:          pool,
		log:           log,
		writer:        output.NewWriter(cfg.Output, tracker, log),
		tracker:       tracker,
		state:         Stopped,
		schemas:       make(map[string]*schemaRecord),
		receivedTypes: make(map[string]struct{}),
		channels:      make(map[models.TopicKey]*channelRecord),
		dynamicTypes:  NewDynamicTypesCollection(),
		pending:       newPendingStore(cfg.MaxPendingSamples),
		pendingPaused: newPendingStore(cfg.MaxPendingSamples),
		topicCounts:   make(map[models.TopicKey]uint64),
		topicQoS:      make(map[string]string),
	}

	h.writer.SetOnDiskFullCallback(func() {
		if onDiskFull != nil {
			onDiskFull()
		}
	})

	switch initState {
	case Running:
		if err := h.Start(); err != nil {
			return nil, err
		}
	case Paused:
		if err := h.Pause(); err != nil {
			return nil, err
		}
	}

	return h, nil
}

// Start moves the handler to RUNNING.
func (h *Handler) Start() error {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	if h.state == Running {
		return nil
	}
	prev := h.state

	h.log.Infow("Starting recorder", "previous_state", prev.String())

	if prev == Paused {
		h.stopEventThreadLocked()
	}

	h.state = Running

	if prev == Stopped {
		if err := h.writer.Enable(); err != nil {
			h.state = prev
			return err
		}
		if !h.cfg.OnlyWithSchema {
			h.flushPendingLocked()
		}
	}

	return nil
}

// Pause moves the handler to PAUSED and starts the event thread.
func (h *Handler) Pause() error {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	if h.state == Paused {
		return nil
	}
	prev := h.state

	h.log.Infow("Pausing recorder", "previous_state", prev.String())

	if prev == Stopped {
		h.state = Paused
		if err := h.writer.Enable(); err != nil {
			h.state = prev
			return err
		}
	} else {
		// Pending samples are kept: when their schema arrives during the
		// pause they are written straight to the file.
		h.dumpBufferLocked()
		h.state = Paused
	}

	h.startEventThreadLocked()
	return nil
}

// Stop moves the handler to STOPPED, dumping buffered data when leaving
// RUNNING (the event-window buffer of PAUSED is discarded) and flushing
// pending samples as the configuration allows, then closes the current file.
// With onDestruction the handler additionally releases every retained payload.
func (h *Handler) Stop(onDestruction bool) error {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	if h.state == Stopped && !onDestruction {
		return nil
	}
	prev := h.state

	h.log.Infow("Stopping recorder", "previous_state", prev.String(), "on_destruction", onDestruction)

	if prev == Paused {
		h.stopEventThreadLocked()
	}
	h.state = Stopped

	if prev == Running {
		h.dumpBufferLocked()
	}

	if !h.cfg.OnlyWithSchema {
		h.flushPendingLocked()
	} else if onDestruction {
		h.pending.clear()
	}

	if onDestruction {
		for _, msg := range h.buffer {
			msg.release()
		}
		h.buffer = nil
	}

	h.writer.Disable()

	// Channels do not survive a disable/enable cycle; schemas do.
	h.channels = make(map[models.TopicKey]*channelRecord)

	return nil
}

// Close is the destruction path: it stops the handler and finalizes the last
// file. It never panics out of a failing writer.
func (h *Handler) Close() error {
	return h.Stop(true)
}

// TriggerEvent requests a dump of the event-window buffer. It has effect only
// in PAUSED.
func (h *Handler) TriggerEvent() {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	if h.state != Paused {
		return
	}

	metrics.EventsTriggeredTotal.Inc()
	select {
	case h.eventTrigger <- struct{}{}:
	default:
	}
}

// AddData ingests one sample for the given topic. Ownership of the sample's
// payload reference passes to the handler.
func (h *Handler) AddData(topic models.DdsTopic, sample *Sample) {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	metrics.MessagesReceivedTotal.WithLabelValues(h.state.String()).Inc()

	if h.state == Stopped {
		sample.Payload.Release()
		metrics.MessagesDroppedTotal.WithLabelValues("stopped").Inc()
		return
	}

	h.checkQoSLocked(topic)

	key := topic.Key()
	count := h.topicCounts[key]
	h.topicCounts[key] = count + 1
	if h.cfg.Downsampling > 1 && count%uint64(h.cfg.Downsampling) != 0 {
		sample.Payload.Release()
		metrics.MessagesDroppedTotal.WithLabelValues("downsampled").Inc()
		return
	}

	h.sequence++
	msg := &message{
		sequence:    h.sequence,
		logTime:     uint64(sample.ReceptionTime.UnixNano()),
		publishTime: uint64(sample.PublishTime.UnixNano()),
		payload:     sample.Payload,
	}

	// Channel already bound to a real schema.
	if ch, ok := h.channels[key]; ok && !ch.blank {
		msg.channelID = ch.id
		h.addToBufferLocked(msg, false)
		return
	}

	// Schema known but channel missing or still blank.
	if sc, ok := h.schemas[topic.TypeName]; ok {
		ch, err := h.bindChannelLocked(topic, sc.id)
		if err != nil {
			msg.release()
			return
		}
		msg.channelID = ch.id
		h.addToBufferLocked(msg, false)
		return
	}

	// No schema yet.
	if h.state == Paused {
		h.addToPendingLocked(h.pendingPaused, topic, msg)
		return
	}

	if h.cfg.MaxPendingSamples == 0 {
		if h.cfg.OnlyWithSchema {
			h.log.Warnw("Discarding sample with unknown type", "topic", topic.Name, "type", topic.TypeName)
			metrics.MonitorError(metrics.ErrorTypeMismatch)
			metrics.MessagesDroppedTotal.WithLabelValues("no_schema").Inc()
			msg.release()
			return
		}
		if !h.writeBlankLocked(topic, msg, false) {
			msg.release()
		}
		return
	}

	h.addToPendingLocked(h.pending, topic, msg)
}

// AddSchema registers the schema of a newly discovered type, promotes pending
// samples of that type, and rebinds channels previously created with the blank
// schema.
func (h *Handler) AddSchema(announcement *models.TypeAnnouncement) error {
	if err := models.ValidateTypeAnnouncement(announcement); err != nil {
		return errors.ErrInconsistency.WithCause(err)
	}

	h.mtx.Lock()
	defer h.mtx.Unlock()

	name := announcement.Name

	if existing, ok := h.schemas[name]; ok {
		// Type evolution is not supported: keep the original binding.
		if !bytes.Equal(existing.data, announcement.Schema) {
			h.log.Warnw("Schema received for already known type with different definition, keeping original",
				"type", name)
			metrics.MonitorError(metrics.ErrorTypeMismatch)
		}
		return nil
	}

	h.log.Infow("Adding schema", "type", name, "encoding", announcement.Encoding)

	id, err := h.writer.AddSchema(name, announcement.Encoding, announcement.Schema)
	if err != nil {
		return err
	}
	h.schemas[name] = &schemaRecord{id: id, data: announcement.Schema}
	metrics.SchemasKnown.Set(float64(len(h.schemas)))

	if _, seen := h.receivedTypes[name]; !seen {
		h.receivedTypes[name] = struct{}{}
		h.dynamicTypes.Add(name, announcement.TypeIdentifier, announcement.TypeObject)

		if h.cfg.RecordTypes {
			payloadBytes, err := h.dynamicTypes.Serialize()
			if err != nil {
				h.log.Errorw("Failed to serialize dynamic types", "error", err)
			} else {
				h.writer.UpdateDynamicTypes(payloadBytes)
			}
		}
	}

	// Rebind channels created with the blank schema for this type.
	for key, ch := range h.channels {
		if !ch.blank || key.TypeName != name {
			continue
		}
		rebound, err := h.createChannelLocked(ch.topic, id, false)
		if err != nil {
			continue
		}
		h.channels[key] = rebound
	}

	// Samples received in RUNNING predate any pause; when paused they are
	// written straight to the file so the event window cannot trim them.
	direct := h.state == Paused
	for _, ps := range h.pending.take(name) {
		ch, err := h.bindChannelLocked(ps.topic, id)
		if err != nil {
			ps.msg.release()
			continue
		}
		ps.msg.channelID = ch.id
		h.addToBufferLocked(ps.msg, direct)
	}

	for _, ps := range h.pendingPaused.take(name) {
		ch, err := h.bindChannelLocked(ps.topic, id)
		if err != nil {
			ps.msg.release()
			continue
		}
		ps.msg.channelID = ch.id
		h.addToBufferLocked(ps.msg, false)
	}

	h.updatePendingGauges()
	return nil
}

// State returns the current handler state.
func (h *Handler) State() StateCode {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	return h.state
}

// Status describes the handler for the control surface.
type Status struct {
	State           string `json:"state"`
	CurrentFile     string `json:"current_file,omitempty"`
	TotalBytes      uint64 `json:"total_bytes"`
	BufferedSamples int    `json:"buffered_samples"`
	PendingSamples  int    `json:"pending_samples"`
	KnownTypes      int    `json:"known_types"`
	Sequence        uint32 `json:"sequence"`
}

func (h *Handler) Status() Status {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	return Status{
		State:           h.state.String(),
		CurrentFile:     h.writer.CurrentFilename(),
		TotalBytes:      h.tracker.TotalSize(),
		BufferedSamples: len(h.buffer),
		PendingSamples:  h.pending.size() + h.pendingPaused.size(),
		KnownTypes:      len(h.schemas),
		Sequence:        h.sequence,
	}
}

// WriterEnabled reports whether the container writer accepts writes.
func (h *Handler) WriterEnabled() bool {
	return h.writer.Enabled()
}

func (h *Handler) checkQoSLocked(topic models.DdsTopic) {
	nameType := topic.Name + "\x00" + topic.TypeName
	qos := topic.QoS.Serialize()
	if prev, ok := h.topicQoS[nameType]; ok {
		if prev != qos {
			h.log.Warnw("Topic seen with conflicting QoS, recording both", "topic", topic.Name)
			metrics.MonitorError(metrics.ErrorQoSMismatch)
		}
		return
	}
	h.topicQoS[nameType] = qos
}

// bindChannelLocked returns the channel for the topic bound to schemaID,
// creating it if needed.
func (h *Handler) bindChannelLocked(topic models.DdsTopic, schemaID uint16) (*channelRecord, error) {
	key := topic.Key()
	if ch, ok := h.channels[key]; ok && !ch.blank && ch.schemaID == schemaID {
		return ch, nil
	}

	ch, err := h.createChannelLocked(topic, schemaID, false)
	if err != nil {
		return nil, err
	}
	h.channels[key] = ch
	return ch, nil
}

func (h *Handler) createChannelLocked(topic models.DdsTopic, schemaID uint16, blank bool) (*channelRecord, error) {
	id, err := h.writer.AddChannel(topic.Name, schemaID, map[string]string{
		constants.QoSMetadataKey: topic.QoS.Serialize(),
	})
	if err != nil {
		return nil, err
	}
	return &channelRecord{id: id, schemaID: schemaID, topic: topic, blank: blank}, nil
}

// blankChannelLocked returns the blank-schema channel for the topic, creating
// the blank schema on first use.
func (h *Handler) blankChannelLocked(topic models.DdsTopic) (*channelRecord, error) {
	key := topic.Key()
	if ch, ok := h.channels[key]; ok {
		return ch, nil
	}

	if h.blankSchemaID == 0 {
		id, err := h.writer.AddSchema(constants.BlankSchemaName, "", nil)
		if err != nil {
			return nil, err
		}
		h.blankSchemaID = id
	}

	ch, err := h.createChannelLocked(topic, h.blankSchemaID, true)
	if err != nil {
		return nil, err
	}
	h.channels[key] = ch
	return ch, nil
}

// writeBlankLocked binds msg to the blank-schema channel of the topic and
// either buffers it or writes it straight to the file.
func (h *Handler) writeBlankLocked(topic models.DdsTopic, msg *message, direct bool) bool {
	ch, err := h.blankChannelLocked(topic)
	if err != nil {
		return false
	}
	msg.channelID = ch.id
	h.addToBufferLocked(msg, direct)
	return true
}

func (h *Handler) addToPendingLocked(store *pendingStore, topic models.DdsTopic, msg *message) {
	evicted := store.add(topic.TypeName, topic, msg)
	if evicted != nil {
		if h.cfg.OnlyWithSchema {
			evicted.msg.release()
			metrics.MessagesDroppedTotal.WithLabelValues("pending_overflow").Inc()
		} else if !h.writeBlankLocked(evicted.topic, evicted.msg, false) {
			evicted.msg.release()
		}
	}
	h.updatePendingGauges()
}

// addToBufferLocked appends msg to the buffer, or writes it directly to the
// file. A full buffer is dumped while running.
func (h *Handler) addToBufferLocked(msg *message, directWrite bool) {
	if directWrite {
		h.writeMessageLocked(msg)
		return
	}

	h.buffer = append(h.buffer, msg)
	metrics.BufferedSamples.Set(float64(len(h.buffer)))

	if h.state == Running && h.cfg.BufferSize > 0 && len(h.buffer) >= h.cfg.BufferSize {
		h.dumpBufferLocked()
	}
}

func (h *Handler) writeMessageLocked(msg *message) {
	h.writer.WriteMessage(&output.Message{
		ChannelID:   msg.channelID,
		Sequence:    msg.sequence,
		LogTime:     msg.logTime,
		PublishTime: msg.publishTime,
		Data:        msg.payload.Bytes(),
	})
	msg.release()
}

// dumpBufferLocked writes every buffered message to the file in receive order.
func (h *Handler) dumpBufferLocked() {
	for _, msg := range h.buffer {
		h.writeMessageLocked(msg)
	}
	h.buffer = nil
	metrics.BufferedSamples.Set(0)
}

// flushPendingLocked writes all pending samples under the blank schema.
func (h *Handler) flushPendingLocked() {
	for _, list := range h.pending.takeAll() {
		for _, ps := range list {
			if !h.writeBlankLocked(ps.topic, ps.msg, true) {
				ps.msg.release()
			}
		}
	}
	h.updatePendingGauges()
}

func (h *Handler) updatePendingGauges() {
	metrics.PendingSamples.WithLabelValues("running").Set(float64(h.pending.size()))
	metrics.PendingSamples.WithLabelValues("paused").Set(float64(h.pendingPaused.size()))
}

// startEventThreadLocked launches the goroutine that trims the buffer to the
// event window and dumps it on trigger.
func (h *Handler) startEventThreadLocked() {
	h.eventTrigger = make(chan struct{}, 1)
	h.eventStop = make(chan struct{})
	h.eventDone = make(chan struct{})

	go h.eventThreadRoutine(h.eventTrigger, h.eventStop, h.eventDone)
}

// stopEventThreadLocked joins the event thread and clears the buffer and the
// paused pending store. The handler mutex is released around the join so the
// routine can finish an in-progress trim.
func (h *Handler) stopEventThreadLocked() {
	if h.eventDone == nil {
		return
	}

	h.log.Infow("Stopping event thread")

	close(h.eventStop)
	h.mtx.Unlock()
	<-h.eventDone
	h.mtx.Lock()

	h.eventTrigger = nil
	h.eventStop = nil
	h.eventDone = nil

	for _, msg := range h.buffer {
		msg.release()
	}
	h.buffer = nil
	metrics.BufferedSamples.Set(0)

	h.pendingPaused.clear()
	h.updatePendingGauges()
}

func (h *Handler) eventThreadRoutine(trigger, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer func() {
		if err := errors.RecoverPanic(recover()); err != nil {
			h.log.Errorw("Event thread panicked", "error", err)
		}
	}()

	period := h.cfg.CleanupPeriod
	if period <= 0 {
		period = constants.DefaultCleanupPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return

		case <-ticker.C:
			h.mtx.Lock()
			if h.state == Paused {
				h.removeOutdatedLocked()
			}
			h.mtx.Unlock()

		case <-trigger:
			h.mtx.Lock()
			if h.state == Paused {
				h.log.Infow("Event triggered, dumping buffer", "samples", len(h.buffer))
				h.removeOutdatedLocked()
				h.dumpBufferLocked()
			}
			h.mtx.Unlock()
		}
	}
}

// removeOutdatedLocked drops buffered samples older than now minus the event
// window.
func (h *Handler) removeOutdatedLocked() {
	cutoff := uint64(time.Now().Add(-h.cfg.EventWindow).UnixNano())

	kept := h.buffer[:0]
	for _, msg := range h.buffer {
		if msg.logTime < cutoff {
			msg.release()
			continue
		}
		kept = append(kept, msg)
	}
	if len(kept) < len(h.buffer) {
		h.buffer = kept
		metrics.BufferedSamples.Set(float64(len(h.buffer)))
	}
}
