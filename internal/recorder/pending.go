package recorder

import (
	"ddsrecorder/pkg/models"
)

// pendingSample is a message waiting for its type schema, together with the
// topic it arrived on.
type pendingSample struct {
	topic models.DdsTopic
	msg   *message
}

// pendingStore holds messages received before their schema arrived, indexed by
// type name. Each per-type list is bounded by maxPerType; on overflow the
// oldest sample is popped and returned so the caller can apply the configured
// policy (drop it, or write it under the blank schema).
type pendingStore struct {
	maxPerType int
	byType     map[string][]pendingSample
}

func newPendingStore(maxPerType int) *pendingStore {
	return &pendingStore{
		maxPerType: maxPerType,
		byType:     make(map[string][]pendingSample),
	}
}

// add queues a sample under its type name. The returned sample is the evicted
// oldest entry when the per-type list was full, nil otherwise.
func (s *pendingStore) add(typeName string, topic models.DdsTopic, msg *message) *pendingSample {
	list := s.byType[typeName]

	var evicted *pendingSample
	if s.maxPerType > 0 && len(list) >= s.maxPerType {
		oldest := list[0]
		list = list[1:]
		evicted = &oldest
	}

	s.byType[typeName] = append(list, pendingSample{topic: topic, msg: msg})
	return evicted
}

// take removes and returns all samples pending for the given type, oldest
// first.
func (s *pendingStore) take(typeName string) []pendingSample {
	list := s.byType[typeName]
	delete(s.byType, typeName)
	return list
}

// takeAll removes and returns all pending samples grouped by type.
func (s *pendingStore) takeAll() map[string][]pendingSample {
	all := s.byType
	s.byType = make(map[string][]pendingSample)
	return all
}

func (s *pendingStore) size() int {
	total := 0
	for _, list := range s.byType {
		total += len(list)
	}
	return total
}

// clear releases every queued payload and empties the store.
func (s *pendingStore) clear() {
	for _, list := range s.byType {
		for i := range list {
			list[i].msg.release()
		}
	}
	s.byType = make(map[string][]pendingSample)
}
