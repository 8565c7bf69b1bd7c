package recorder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ddsrecorder/internal/payload"
	"ddsrecorder/pkg/models"
)

func pendingMsg(pool *payload.Pool, seq uint32) *message {
	return &message{sequence: seq, payload: pool.Wrap([]byte{byte(seq)})}
}

func TestPendingAddAndTake(t *testing.T) {
	pool := payload.NewPool()
	store := newPendingStore(5)
	topic := models.DdsTopic{Name: "rt/a", TypeName: "pkg/A"}

	for i := 1; i <= 3; i++ {
		evicted := store.add("pkg/A", topic, pendingMsg(pool, uint32(i)))
		assert.Nil(t, evicted)
	}
	assert.Equal(t, 3, store.size())

	taken := store.take("pkg/A")
	require.Len(t, taken, 3)
	assert.Equal(t, uint32(1), taken[0].msg.sequence, "take must return oldest first")
	assert.Equal(t, 0, store.size())
	assert.Empty(t, store.take("pkg/A"))
}

func TestPendingOverflowEvictsOldest(t *testing.T) {
	pool := payload.NewPool()
	store := newPendingStore(3)
	topic := models.DdsTopic{Name: "rt/a", TypeName: "pkg/A"}

	for i := 1; i <= 3; i++ {
		require.Nil(t, store.add("pkg/A", topic, pendingMsg(pool, uint32(i))))
	}

	evicted := store.add("pkg/A", topic, pendingMsg(pool, 4))
	require.NotNil(t, evicted)
	assert.Equal(t, uint32(1), evicted.msg.sequence)

	taken := store.take("pkg/A")
	require.Len(t, taken, 3)
	assert.Equal(t, uint32(2), taken[0].msg.sequence)
	assert.Equal(t, uint32(4), taken[2].msg.sequence)
}

func TestPendingTypesAreIndependent(t *testing.T) {
	pool := payload.NewPool()
	store := newPendingStore(2)
	topicA := models.DdsTopic{Name: "rt/a", TypeName: "pkg/A"}
	topicB := models.DdsTopic{Name: "rt/b", TypeName: "pkg/B"}

	require.Nil(t, store.add("pkg/A", topicA, pendingMsg(pool, 1)))
	require.Nil(t, store.add("pkg/A", topicA, pendingMsg(pool, 2)))
	require.Nil(t, store.add("pkg/B", topicB, pendingMsg(pool, 3)), "per-type bound must not affect other types")

	assert.Len(t, store.take("pkg/A"), 2)
	assert.Len(t, store.take("pkg/B"), 1)
}

func TestPendingClearReleasesPayloads(t *testing.T) {
	pool := payload.NewPool()
	store := newPendingStore(5)
	topic := models.DdsTopic{Name: "rt/a", TypeName: "pkg/A"}

	for i := 1; i <= 4; i++ {
		store.add("pkg/A", topic, pendingMsg(pool, uint32(i)))
	}
	require.Equal(t, int64(4), pool.Live())

	store.clear()
	assert.Equal(t, 0, store.size())
	assert.Equal(t, int64(0), pool.Live())
}

func TestPendingZeroMaxIsUnbounded(t *testing.T) {
	pool := payload.NewPool()
	store := newPendingStore(0)
	topic := models.DdsTopic{Name: "rt/a", TypeName: "pkg/A"}

	for i := 1; i <= 100; i++ {
		require.Nil(t, store.add("pkg/A", topic, pendingMsg(pool, uint32(i))))
	}
	assert.Equal(t, 100, store.size())
}
