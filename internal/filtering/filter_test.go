package filtering

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ddsrecorder/internal/logger"
	"ddsrecorder/pkg/models"
)

func topic(name, typeName string) models.DdsTopic {
	return models.DdsTopic{Name: name, TypeName: typeName}
}

func TestEmptyExpressionAllowsEverything(t *testing.T) {
	f, err := NewTopicFilter("", logger.NopLogger())
	require.NoError(t, err)

	assert.True(t, f.Allows(context.Background(), topic("rt/anything", "pkg/Any")))
}

func TestFilterByTopicName(t *testing.T) {
	f, err := NewTopicFilter(`name.startsWith("rt/")`, logger.NopLogger())
	require.NoError(t, err)

	ctx := context.Background()
	assert.True(t, f.Allows(ctx, topic("rt/pose", "pkg/Pose")))
	assert.False(t, f.Allows(ctx, topic("internal/status", "pkg/Status")))
}

func TestFilterByTypeName(t *testing.T) {
	f, err := NewTopicFilter(`type_name != "pkg/Image"`, logger.NopLogger())
	require.NoError(t, err)

	ctx := context.Background()
	assert.True(t, f.Allows(ctx, topic("rt/pose", "pkg/Pose")))
	assert.False(t, f.Allows(ctx, topic("rt/camera", "pkg/Image")))
}

func TestFilterByQoS(t *testing.T) {
	f, err := NewTopicFilter(`qos.reliability == "reliable"`, logger.NopLogger())
	require.NoError(t, err)

	reliable := models.DdsTopic{
		Name:     "rt/cmd",
		TypeName: "pkg/Cmd",
		QoS:      models.TopicQoS{Reliability: models.ReliabilityReliable},
	}
	bestEffort := models.DdsTopic{
		Name:     "rt/lidar",
		TypeName: "pkg/Scan",
		QoS:      models.TopicQoS{Reliability: models.ReliabilityBestEffort},
	}

	ctx := context.Background()
	assert.True(t, f.Allows(ctx, reliable))
	assert.False(t, f.Allows(ctx, bestEffort))
}

func TestInvalidExpressionFailsConstruction(t *testing.T) {
	_, err := NewTopicFilter(`not valid cel!!!`, logger.NopLogger())
	assert.Error(t, err)
}

func TestNonBoolExpressionFailsConstruction(t *testing.T) {
	_, err := NewTopicFilter(`name`, logger.NopLogger())
	assert.Error(t, err)
}

func TestDecisionsAreCachedPerTopic(t *testing.T) {
	f, err := NewTopicFilter(`name == "rt/once"`, logger.NopLogger())
	require.NoError(t, err)

	ctx := context.Background()
	tp := topic("rt/once", "pkg/Once")
	assert.True(t, f.Allows(ctx, tp))
	assert.True(t, f.Allows(ctx, tp))
	assert.Len(t, f.decisions, 1)
}
