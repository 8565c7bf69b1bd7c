package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"ddsrecorder/internal/config"
	"ddsrecorder/internal/logger"
	"ddsrecorder/pkg/logging"
	"ddsrecorder/pkg/metrics"
	"ddsrecorder/pkg/models"
	"ddsrecorder/pkg/retry"
)

// KafkaSource bridges serialized DDS samples and type announcements from
// Kafka topics into the recorder. It is the concrete message and schema
// source; the recorder itself never sees the bus.
type KafkaSource struct {
	cfg      config.KafkaConfig
	logger   logger.Logger
	onSample SampleHandler
	onSchema SchemaHandler
	limiter  *rate.Limiter

	dataReader   *kafka.Reader
	schemaReader *kafka.Reader
}

func NewKafkaSource(cfg config.KafkaConfig, onSample SampleHandler, onSchema SchemaHandler, log logger.Logger) *KafkaSource {
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RateLimit)
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &KafkaSource{
		cfg:      cfg,
		logger:   log,
		onSample: onSample,
		onSchema: onSchema,
		limiter:  limiter,
	}
}

// Run consumes the data and schema topics until the context is canceled.
func (s *KafkaSource) Run(ctx context.Context) error {
	s.logger.Infow("Starting Kafka sample source",
		"brokers", s.cfg.Brokers,
		"group_id", s.cfg.GroupID,
		"data_topic", s.cfg.DataTopic,
		"schema_topic", s.cfg.SchemaTopic,
	)

	s.dataReader = s.newReader(s.cfg.DataTopic)
	s.schemaReader = s.newReader(s.cfg.SchemaTopic)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.consume(ctx, s.dataReader, s.handleSample) })
	g.Go(func() error { return s.consume(ctx, s.schemaReader, s.handleSchema) })
	return g.Wait()
}

func (s *KafkaSource) Close() error {
	var err error
	if s.dataReader != nil {
		err = s.dataReader.Close()
	}
	if s.schemaReader != nil {
		if cerr := s.schemaReader.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (s *KafkaSource) newReader(topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  s.cfg.Brokers,
		GroupID:  s.cfg.GroupID,
		Topic:    topic,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
}

func (s *KafkaSource) consume(ctx context.Context, reader *kafka.Reader, handle func(context.Context, kafka.Message) error) error {
	topic := reader.Config().Topic
	consumeCtx := logging.WithComponent(ctx, "kafka_source")
	s.logger.InfowCtx(consumeCtx, "Started consuming", "topic", topic)

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.InfowCtx(consumeCtx, "Stopped consuming", "topic", topic, "reason", "context canceled")
				return ctx.Err()
			}
			s.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message", "error", err, "topic", topic)
			time.Sleep(time.Second)
			continue
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		if err := s.processWithRetry(ctx, m, handle); err != nil {
			s.logger.Errorw("Failed to process message after retries",
				"error", err, "topic", topic)
			metrics.SourceMessagesTotal.WithLabelValues("failed").Inc()
		} else {
			metrics.SourceMessagesTotal.WithLabelValues("processed").Inc()
		}

		if err := reader.CommitMessages(ctx, m); err != nil {
			s.logger.Errorw("Failed to commit message", "error", err, "topic", topic)
		}
	}
}

func (s *KafkaSource) processWithRetry(ctx context.Context, m kafka.Message, handle func(context.Context, kafka.Message) error) error {
	policy := retry.Policy{
		MaxAttempts:     s.cfg.Retry.MaxAttempts,
		InitialInterval: s.cfg.Retry.InitialInterval,
		MaxInterval:     s.cfg.Retry.MaxInterval,
		Multiplier:      s.cfg.Retry.Multiplier,
		MaxElapsedTime:  s.cfg.Retry.MaxElapsedTime,
	}
	if policy.MaxAttempts <= 0 {
		policy = retry.DefaultPolicy()
	}

	return retry.Retry(ctx, policy, func() error {
		return handle(ctx, m)
	})
}

func (s *KafkaSource) handleSample(ctx context.Context, m kafka.Message) error {
	var envelope models.SampleEnvelope
	if err := json.Unmarshal(m.Value, &envelope); err != nil {
		s.logger.Errorw("Failed to unmarshal sample envelope", "error", err)
		metrics.SourceMessagesTotal.WithLabelValues("malformed").Inc()
		return nil
	}

	if envelope.ID == "" {
		envelope.ID = uuid.NewString()
	}

	if err := models.ValidateSampleEnvelope(&envelope); err != nil {
		s.logger.Warnw("Discarding invalid sample envelope", "error", err)
		metrics.SourceMessagesTotal.WithLabelValues("invalid").Inc()
		return nil
	}

	return s.onSample(ctx, &envelope)
}

func (s *KafkaSource) handleSchema(ctx context.Context, m kafka.Message) error {
	var announcement models.TypeAnnouncement
	if err := json.Unmarshal(m.Value, &announcement); err != nil {
		s.logger.Errorw("Failed to unmarshal type announcement", "error", err)
		metrics.SourceMessagesTotal.WithLabelValues("malformed").Inc()
		return nil
	}

	if err := models.ValidateTypeAnnouncement(&announcement); err != nil {
		s.logger.Warnw("Discarding invalid type announcement", "error", err)
		metrics.SourceMessagesTotal.WithLabelValues("invalid").Inc()
		return nil
	}

	return s.onSchema(ctx, &announcement)
}
