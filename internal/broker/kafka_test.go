package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ddsrecorder/internal/config"
	"ddsrecorder/internal/logger"
	"ddsrecorder/pkg/models"
)

func newTestSource(onSample SampleHandler, onSchema SchemaHandler) *KafkaSource {
	return NewKafkaSource(config.KafkaConfig{
		Brokers:     []string{"localhost:9092"},
		DataTopic:   "dds.samples",
		SchemaTopic: "dds.schemas",
	}, onSample, onSchema, logger.NopLogger())
}

func TestHandleSampleDecodesEnvelope(t *testing.T) {
	var received *models.SampleEnvelope
	source := newTestSource(
		func(ctx context.Context, envelope *models.SampleEnvelope) error {
			received = envelope
			return nil
		},
		nil,
	)

	envelope := models.SampleEnvelope{
		Topic:       models.DdsTopic{Name: "rt/pose", TypeName: "pkg/Pose"},
		PublishTime: time.Now(),
		Data:        []byte{1, 2, 3},
	}
	value, err := json.Marshal(envelope)
	require.NoError(t, err)

	require.NoError(t, source.handleSample(context.Background(), kafka.Message{Value: value}))
	require.NotNil(t, received)
	assert.Equal(t, "rt/pose", received.Topic.Name)
	assert.Equal(t, []byte{1, 2, 3}, received.Data)
	assert.NotEmpty(t, received.ID, "an envelope id is assigned when missing")
}

func TestHandleSampleSkipsMalformedPayload(t *testing.T) {
	called := false
	source := newTestSource(
		func(ctx context.Context, envelope *models.SampleEnvelope) error {
			called = true
			return nil
		},
		nil,
	)

	err := source.handleSample(context.Background(), kafka.Message{Value: []byte("not json")})
	assert.NoError(t, err, "malformed messages are skipped, not retried")
	assert.False(t, called)
}

func TestHandleSampleSkipsInvalidEnvelope(t *testing.T) {
	called := false
	source := newTestSource(
		func(ctx context.Context, envelope *models.SampleEnvelope) error {
			called = true
			return nil
		},
		nil,
	)

	value, err := json.Marshal(models.SampleEnvelope{
		Topic: models.DdsTopic{Name: "rt/pose"},
	})
	require.NoError(t, err)

	require.NoError(t, source.handleSample(context.Background(), kafka.Message{Value: value}))
	assert.False(t, called)
}

func TestHandleSchemaDecodesAnnouncement(t *testing.T) {
	var received *models.TypeAnnouncement
	source := newTestSource(
		nil,
		func(ctx context.Context, announcement *models.TypeAnnouncement) error {
			received = announcement
			return nil
		},
	)

	value, err := json.Marshal(models.TypeAnnouncement{
		Name:     "pkg/Pose",
		Encoding: models.SchemaEncodingIDL,
		Schema:   []byte("struct Pose {};"),
	})
	require.NoError(t, err)

	require.NoError(t, source.handleSchema(context.Background(), kafka.Message{Value: value}))
	require.NotNil(t, received)
	assert.Equal(t, "pkg/Pose", received.Name)
}

func TestHandleSchemaSkipsInvalidAnnouncement(t *testing.T) {
	called := false
	source := newTestSource(
		nil,
		func(ctx context.Context, announcement *models.TypeAnnouncement) error {
			called = true
			return nil
		},
	)

	value, err := json.Marshal(models.TypeAnnouncement{Name: "pkg/NoEncoding"})
	require.NoError(t, err)

	require.NoError(t, source.handleSchema(context.Background(), kafka.Message{Value: value}))
	assert.False(t, called)
}
