package filtering

import (
	"context"
	"sync"

	celgo "github.com/google/cel-go/cel"

	"ddsrecorder/internal/logger"
	"ddsrecorder/pkg/cel"
	"ddsrecorder/pkg/models"
)

// TopicFilter decides which topics are recorded. With an empty expression
// every topic is allowed. Decisions are cached per topic key, so the
// expression is evaluated once per discovered topic.
type TopicFilter struct {
	program celgo.Program
	logger  logger.Logger

	mu        sync.RWMutex
	decisions map[models.TopicKey]bool
}

func NewTopicFilter(expression string, log logger.Logger) (*TopicFilter, error) {
	f := &TopicFilter{
		logger:    log,
		decisions: make(map[models.TopicKey]bool),
	}

	if expression == "" {
		return f, nil
	}

	eval, err := cel.NewEvaluator()
	if err != nil {
		return nil, err
	}

	program, err := eval.Compile(expression)
	if err != nil {
		return nil, err
	}
	f.program = program

	return f, nil
}

// Allows reports whether samples of the given topic should be recorded.
// Evaluation errors deny the topic: a misbehaving expression must not flood
// the recording with unwanted traffic.
func (f *TopicFilter) Allows(ctx context.Context, topic models.DdsTopic) bool {
	if f.program == nil {
		return true
	}

	key := topic.Key()

	f.mu.RLock()
	decision, ok := f.decisions[key]
	f.mu.RUnlock()
	if ok {
		return decision
	}

	allowed, err := cel.EvaluateFilter(ctx, f.program, topic)
	if err != nil {
		f.logger.Warnw("Topic filter evaluation failed, denying topic",
			"topic", topic.Name, "error", err)
		allowed = false
	}

	f.mu.Lock()
	f.decisions[key] = allowed
	f.mu.Unlock()

	if !allowed {
		f.logger.Infow("Topic excluded by filter", "topic", topic.Name, "type", topic.TypeName)
	}
	return allowed
}
