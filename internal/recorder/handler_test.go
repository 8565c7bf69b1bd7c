package recorder

import (
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/foxglove/mcap/go/mcap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ddsrecorder/internal/constants"
	"ddsrecorder/internal/logger"
	"ddsrecorder/internal/output"
	"ddsrecorder/internal/payload"
	"ddsrecorder/pkg/models"
)

func newTestHandler(t *testing.T, initState StateCode, mutate func(*Config)) (*Handler, *output.FileTracker, *payload.Pool) {
	t.Helper()

	cfg := Config{
		Output: output.Settings{
			Path:         t.TempDir(),
			Prefix:       "rec",
			MaxFileSize:  1 << 20,
			MaxSize:      1 << 22,
			SafetyMargin: 4096,
		},
		BufferSize:        100,
		EventWindow:       time.Second,
		CleanupPeriod:     50 * time.Millisecond,
		MaxPendingSamples: 10,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	tracker := output.NewFileTracker(cfg.Output, logger.NopLogger())
	tracker.SetFreeSpaceProbe(func(string) (uint64, error) {
		return 1 << 40, nil
	})

	pool := payload.NewPool()
	h, err := NewHandler(cfg, pool, tracker, initState, nil, logger.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	return h, tracker, pool
}

func testTopic(name, typeName string) models.DdsTopic {
	return models.DdsTopic{
		Name:     name,
		TypeName: typeName,
		QoS:      models.TopicQoS{Reliability: models.ReliabilityReliable},
	}
}

func addSample(h *Handler, pool *payload.Pool, topic models.DdsTopic, data []byte, at time.Time) {
	h.AddData(topic, &Sample{
		Payload:       pool.Wrap(data),
		PublishTime:   at,
		ReceptionTime: at,
	})
}

func announce(typeName string) *models.TypeAnnouncement {
	return &models.TypeAnnouncement{
		Name:           typeName,
		Encoding:       models.SchemaEncodingIDL,
		Schema:         []byte("struct " + typeName + " {};"),
		TypeIdentifier: []byte{0x01},
		TypeObject:     []byte{0x02},
	}
}

type recordedMessage struct {
	schema  string
	topic   string
	seq     uint32
	payload []byte
}

func readRecorded(t *testing.T, path string) []recordedMessage {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	reader, err := mcap.NewReader(f)
	require.NoError(t, err)
	defer reader.Close()

	it, err := reader.Messages()
	require.NoError(t, err)

	var out []recordedMessage
	for {
		schema, channel, msg, err := it.Next(nil)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		rec := recordedMessage{
			topic:   channel.Topic,
			seq:     msg.Sequence,
			payload: append([]byte(nil), msg.Data...),
		}
		if schema != nil {
			rec.schema = schema.Name
		}
		out = append(out, rec)
	}
	return out
}

func lastClosedFile(t *testing.T, tracker *output.FileTracker) string {
	t.Helper()
	files := tracker.ClosedFiles()
	require.NotEmpty(t, files)
	return files[len(files)-1]
}

func TestRoundTripWithSchemaFirst(t *testing.T) {
	h, tracker, pool := newTestHandler(t, Running, nil)
	topic := testTopic("rt/pose", "pkg/Pose")

	require.NoError(t, h.AddSchema(announce("pkg/Pose")))

	base := time.Now()
	const total = 20
	for i := 0; i < total; i++ {
		addSample(h, pool, topic, []byte(fmt.Sprintf("payload-%02d", i)), base.Add(time.Duration(i)*time.Millisecond))
	}

	require.NoError(t, h.Stop(false))

	msgs := readRecorded(t, lastClosedFile(t, tracker))
	require.Len(t, msgs, total)
	for i, m := range msgs {
		assert.Equal(t, "pkg/Pose", m.schema)
		assert.Equal(t, "rt/pose", m.topic)
		assert.Equal(t, []byte(fmt.Sprintf("payload-%02d", i)), m.payload, "payloads must round-trip bit-identical")
		if i > 0 {
			assert.Greater(t, m.seq, msgs[i-1].seq, "sequence numbers must be strictly increasing")
		}
	}

	assert.Equal(t, int64(0), pool.Live(), "every payload reference must be released")
}

func TestSchemaAfterMessages(t *testing.T) {
	h, tracker, pool := newTestHandler(t, Running, nil)
	topic := testTopic("rt/imu", "pkg/Imu")

	base := time.Now()
	for i := 0; i < 10; i++ {
		addSample(h, pool, topic, []byte(fmt.Sprintf("m-%02d", i)), base.Add(time.Duration(i)*time.Millisecond))
	}
	assert.Equal(t, 10, h.Status().PendingSamples)

	require.NoError(t, h.AddSchema(announce("pkg/Imu")))
	assert.Equal(t, 0, h.Status().PendingSamples)

	require.NoError(t, h.Stop(false))

	msgs := readRecorded(t, lastClosedFile(t, tracker))
	require.Len(t, msgs, 10)
	for i, m := range msgs {
		assert.Equal(t, "pkg/Imu", m.schema, "promoted samples must be bound to the real schema")
		assert.Equal(t, []byte(fmt.Sprintf("m-%02d", i)), m.payload, "original order must be preserved")
	}
}

func TestCommandIdempotence(t *testing.T) {
	h, tracker, _ := newTestHandler(t, Running, nil)

	firstFile := h.Status().CurrentFile
	require.NoError(t, h.Start())
	assert.Equal(t, firstFile, h.Status().CurrentFile, "start in RUNNING must have no file-level side effects")

	require.NoError(t, h.Stop(false))
	require.NoError(t, h.Stop(false))
	assert.Len(t, tracker.ClosedFiles(), 1)

	require.NoError(t, h.Pause())
	require.NoError(t, h.Pause())
	assert.Equal(t, Paused, h.State())
	require.NoError(t, h.Stop(false))
}

func TestOnlyWithSchemaDropsUnknownTypes(t *testing.T) {
	h, tracker, pool := newTestHandler(t, Running, func(cfg *Config) {
		cfg.OnlyWithSchema = true
		cfg.MaxPendingSamples = 0
	})
	topic := testTopic("rt/unknown", "pkg/Unknown")

	base := time.Now()
	for i := 0; i < 5; i++ {
		addSample(h, pool, topic, []byte("x"), base)
	}

	require.NoError(t, h.Stop(false))

	file := lastClosedFile(t, tracker)
	assert.Empty(t, readRecorded(t, file))

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.NotContains(t, string(data), constants.BlankSchemaName,
		"no blank-schema channel may appear with only_with_schema enabled")
	assert.Equal(t, int64(0), pool.Live())
}

func TestPendingOverflowWritesOldestUnderBlankSchema(t *testing.T) {
	h, tracker, pool := newTestHandler(t, Running, func(cfg *Config) {
		cfg.MaxPendingSamples = 3
	})
	topic := testTopic("rt/late", "pkg/Late")

	base := time.Now()
	for i := 0; i < 5; i++ {
		addSample(h, pool, topic, []byte(fmt.Sprintf("p-%d", i)), base.Add(time.Duration(i)*time.Millisecond))
	}

	status := h.Status()
	assert.Equal(t, 3, status.PendingSamples, "last 3 samples stay pending")
	assert.Equal(t, 2, status.BufferedSamples, "oldest 2 overflowed to the blank-schema buffer")

	require.NoError(t, h.Stop(false))

	msgs := readRecorded(t, lastClosedFile(t, tracker))
	require.Len(t, msgs, 5, "remaining pending samples are flushed under the blank schema on stop")
	for _, m := range msgs {
		assert.Equal(t, constants.BlankSchemaName, m.schema)
	}
}

func TestPausedStopClearsPendingPaused(t *testing.T) {
	h, tracker, pool := newTestHandler(t, Paused, nil)
	topic := testTopic("rt/ghost", "pkg/Ghost")

	base := time.Now()
	for i := 0; i < 4; i++ {
		addSample(h, pool, topic, []byte("g"), base)
	}
	assert.Equal(t, 4, h.Status().PendingSamples)

	require.NoError(t, h.Stop(false))

	assert.Empty(t, readRecorded(t, lastClosedFile(t, tracker)),
		"paused pending samples must be dropped on stop")
	assert.Equal(t, int64(0), pool.Live())
}

func TestEventWindowTrigger(t *testing.T) {
	h, tracker, pool := newTestHandler(t, Paused, func(cfg *Config) {
		cfg.EventWindow = time.Second
		cfg.CleanupPeriod = 20 * time.Millisecond
	})
	topic := testTopic("rt/scan", "pkg/Scan")

	require.NoError(t, h.AddSchema(announce("pkg/Scan")))

	now := time.Now()
	for i := 0; i < 10; i++ {
		addSample(h, pool, topic, []byte(fmt.Sprintf("old-%d", i)), now.Add(-2*time.Second))
	}
	for i := 0; i < 5; i++ {
		addSample(h, pool, topic, []byte(fmt.Sprintf("new-%d", i)), now)
	}

	h.TriggerEvent()

	require.Eventually(t, func() bool {
		return h.Status().BufferedSamples == 0
	}, 2*time.Second, 10*time.Millisecond, "trigger must dump the buffer")

	require.NoError(t, h.Stop(false))

	msgs := readRecorded(t, lastClosedFile(t, tracker))
	require.Len(t, msgs, 5, "only samples within the event window survive")

	var payloads []string
	for _, m := range msgs {
		payloads = append(payloads, string(m.payload))
	}
	assert.ElementsMatch(t, []string{"new-0", "new-1", "new-2", "new-3", "new-4"}, payloads)
}

func TestSchemaDuringPauseWritesOldPendingDirectly(t *testing.T) {
	h, tracker, pool := newTestHandler(t, Running, nil)
	topic := testTopic("rt/gps", "pkg/Gps")

	base := time.Now()
	for i := 0; i < 3; i++ {
		addSample(h, pool, topic, []byte(fmt.Sprintf("r-%d", i)), base)
	}
	require.NoError(t, h.Pause())

	// Samples that predate the pause must reach the file even without a
	// trigger; the event window must not trim them.
	require.NoError(t, h.AddSchema(announce("pkg/Gps")))
	require.NoError(t, h.Stop(false))

	msgs := readRecorded(t, lastClosedFile(t, tracker))
	require.Len(t, msgs, 3)
	for _, m := range msgs {
		assert.Equal(t, "pkg/Gps", m.schema)
	}
}

func TestDownsamplingKeepsOneInN(t *testing.T) {
	h, tracker, pool := newTestHandler(t, Running, func(cfg *Config) {
		cfg.Downsampling = 3
	})
	topic := testTopic("rt/cam", "pkg/Image")

	require.NoError(t, h.AddSchema(announce("pkg/Image")))

	base := time.Now()
	for i := 0; i < 9; i++ {
		addSample(h, pool, topic, []byte(fmt.Sprintf("f-%d", i)), base.Add(time.Duration(i)*time.Millisecond))
	}

	require.NoError(t, h.Stop(false))

	msgs := readRecorded(t, lastClosedFile(t, tracker))
	require.Len(t, msgs, 3)
	assert.Equal(t, []byte("f-0"), msgs[0].payload)
	assert.Equal(t, []byte("f-3"), msgs[1].payload)
	assert.Equal(t, []byte("f-6"), msgs[2].payload)
}

func TestStoppedDiscardsData(t *testing.T) {
	h, _, pool := newTestHandler(t, Stopped, nil)
	topic := testTopic("rt/x", "pkg/X")

	addSample(h, pool, topic, []byte("x"), time.Now())

	status := h.Status()
	assert.Equal(t, "STOPPED", status.State)
	assert.Equal(t, uint32(0), status.Sequence)
	assert.Equal(t, 0, status.PendingSamples)
	assert.Equal(t, int64(0), pool.Live(), "discarded payloads must be released")
}

func TestDynamicTypesAttachmentOnClose(t *testing.T) {
	h, tracker, pool := newTestHandler(t, Running, func(cfg *Config) {
		cfg.RecordTypes = true
		cfg.Output.RecordTypes = true
	})
	topic := testTopic("rt/pose", "pkg/Pose")

	require.NoError(t, h.AddSchema(announce("pkg/Pose")))
	addSample(h, pool, topic, []byte("p"), time.Now())

	require.NoError(t, h.Stop(false))

	data, err := os.ReadFile(lastClosedFile(t, tracker))
	require.NoError(t, err)
	assert.Contains(t, string(data), constants.DynamicTypesAttachmentName)
	assert.Contains(t, string(data), "pkg/Pose")
}

func TestSchemaForKnownTypeKeepsOriginalBinding(t *testing.T) {
	h, tracker, pool := newTestHandler(t, Running, nil)
	topic := testTopic("rt/pose", "pkg/Pose")

	require.NoError(t, h.AddSchema(announce("pkg/Pose")))

	evolved := announce("pkg/Pose")
	evolved.Schema = []byte("struct Pose { double x; };")
	require.NoError(t, h.AddSchema(evolved), "a conflicting schema is rejected, not an error")

	addSample(h, pool, topic, []byte("p"), time.Now())
	require.NoError(t, h.Stop(false))

	msgs := readRecorded(t, lastClosedFile(t, tracker))
	require.Len(t, msgs, 1)
	assert.Equal(t, "pkg/Pose", msgs[0].schema)
}

func TestBufferDumpOnSize(t *testing.T) {
	h, _, pool := newTestHandler(t, Running, func(cfg *Config) {
		cfg.BufferSize = 5
	})
	topic := testTopic("rt/pose", "pkg/Pose")

	require.NoError(t, h.AddSchema(announce("pkg/Pose")))

	base := time.Now()
	for i := 0; i < 5; i++ {
		addSample(h, pool, topic, []byte("p"), base.Add(time.Duration(i)*time.Millisecond))
	}

	assert.Equal(t, 0, h.Status().BufferedSamples, "reaching buffer_size must dump the buffer")
	assert.Equal(t, int64(0), pool.Live())
}
