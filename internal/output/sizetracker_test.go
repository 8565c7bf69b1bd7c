package output

import (
	"testing"

	"github.com/foxglove/mcap/go/mcap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ddsrecorder/pkg/errors"
)

func TestReserveAndCommitMessage(t *testing.T) {
	var tr SizeTracker
	tr.Init(1024*1024, 0)

	require.NoError(t, tr.MessageToWrite(100))
	assert.Equal(t, uint64(fileOverhead)+messageSize(100), tr.PotentialSize())
	assert.Equal(t, uint64(fileOverhead), tr.WrittenSize())

	tr.MessageWritten(100)
	assert.Equal(t, tr.PotentialSize(), tr.WrittenSize())
}

func TestReserveFailsWhenBudgetExceeded(t *testing.T) {
	var tr SizeTracker
	tr.Init(fileOverhead+200, 0)

	err := tr.MessageToWrite(500)
	require.Error(t, err)
	require.True(t, errors.IsFullFile(err))

	full := err.(*errors.FullFileError)
	assert.Equal(t, messageSize(500), full.Unfit, "error must report the bytes that did not fit")
}

func TestSafetyMarginShrinksBudget(t *testing.T) {
	var tr SizeTracker
	tr.Init(fileOverhead+1000, 900)

	err := tr.MessageToWrite(200)
	require.Error(t, err)
	assert.True(t, errors.IsFullFile(err))

	require.NoError(t, tr.MessageToWrite(10))
}

func TestMinSizeGrowsWithReplayedRecords(t *testing.T) {
	var tr SizeTracker
	tr.Init(1024*1024, 0)

	base := tr.MinMCAPSize()

	schema := &mcap.Schema{ID: 1, Name: "pkg/Type", Encoding: "omgidl", Data: []byte("struct Type {};")}
	require.NoError(t, tr.SchemaToWrite(schema))
	tr.SchemaWritten(schema)

	channel := &mcap.Channel{ID: 1, SchemaID: 1, Topic: "rt/topic", MessageEncoding: "cdr"}
	require.NoError(t, tr.ChannelToWrite(channel))
	tr.ChannelWritten(channel)

	assert.Equal(t, base+schemaSize(schema)+channelSize(channel), tr.MinMCAPSize())

	// Messages are not replayed into fresh files and must not grow the minimum.
	require.NoError(t, tr.MessageToWrite(1000))
	tr.MessageWritten(1000)
	assert.Equal(t, base+schemaSize(schema)+channelSize(channel), tr.MinMCAPSize())
}

func TestAttachmentDeltaReservation(t *testing.T) {
	var tr SizeTracker
	tr.Init(1024*1024, 0)

	require.NoError(t, tr.AttachmentToWrite(100, 0, "dynamic_types", "application/json"))
	afterFirst := tr.PotentialSize()

	// Growing the payload reserves only the delta.
	require.NoError(t, tr.AttachmentToWrite(250, 100, "dynamic_types", "application/json"))
	assert.Equal(t, afterFirst+150, tr.PotentialSize())

	// Shrinking releases the difference.
	require.NoError(t, tr.AttachmentToWrite(50, 250, "dynamic_types", "application/json"))
	assert.Equal(t, afterFirst-50, tr.PotentialSize())
}

func TestResetKeepsMinSizeForRotation(t *testing.T) {
	var tr SizeTracker
	tr.Init(1024*1024, 0)

	schema := &mcap.Schema{ID: 1, Name: "pkg/Type", Encoding: "omgidl", Data: []byte("x")}
	require.NoError(t, tr.SchemaToWrite(schema))
	tr.SchemaWritten(schema)
	min := tr.MinMCAPSize()

	tr.Reset()
	assert.Equal(t, uint64(0), tr.PotentialSize())
	assert.Equal(t, uint64(0), tr.WrittenSize())
	assert.Equal(t, min, tr.MinMCAPSize(), "minimum size must survive the close/reopen window")
}
