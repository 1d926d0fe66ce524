package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/KenjiPcx/magneto/internal/config"
)

const defaultJobsTopic = "magneto.sessions.jobs"

func jobsTopic(cfg config.KafkaConfig) string {
	if t := cfg.Topics["jobs"]; t != "" {
		return t
	}
	return defaultJobsTopic
}

// KafkaScheduler publishes jobs, keyed by session id so replays of one
// session land on one partition in order.
type KafkaScheduler struct {
	writer *kafka.Writer
}

func NewKafkaScheduler(cfg config.KafkaConfig) *KafkaScheduler {
	return &KafkaScheduler{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        jobsTopic(cfg),
			Balancer:     &kafka.LeastBytes{},
			BatchSize:    100,
			BatchTimeout: time.Millisecond * 100,
		},
	}
}

func (s *KafkaScheduler) Enqueue(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(job.SessionID),
		Value: data,
	})
}

func (s *KafkaScheduler) Close() error {
	return s.writer.Close()
}

// KafkaRunner consumes jobs and feeds them to the processor. Poison
// messages are logged and committed; the lease keeps a crashed-and-
// redelivered job from double-processing.
type KafkaRunner struct {
	reader    *kafka.Reader
	processor *Processor
}

func NewKafkaRunner(cfg config.KafkaConfig, processor *Processor) *KafkaRunner {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          jobsTopic(cfg),
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1e3,  // 1KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})
	return &KafkaRunner{reader: reader, processor: processor}
}

// Start consumes until the context is cancelled.
func (r *KafkaRunner) Start(ctx context.Context) {
	log.Info().
		Str("topic", r.reader.Config().Topic).
		Str("group", r.reader.Config().GroupID).
		Msg("Starting job consumer")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Job consumer stopped")
			return
		default:
			msg, err := r.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error().Err(err).Msg("Failed to fetch message")
				continue
			}

			var job Job
			if err := json.Unmarshal(msg.Value, &job); err != nil {
				log.Error().
					Err(err).
					Str("value", string(msg.Value)).
					Msg("Failed to parse job")
				// Still commit to avoid getting stuck
				if err := r.reader.CommitMessages(ctx, msg); err != nil {
					log.Error().Err(err).Msg("Failed to commit message")
				}
				continue
			}

			if err := r.processor.Process(ctx, job); err != nil {
				log.Error().
					Err(err).
					Str("session_id", job.SessionID).
					Msg("Job failed")
			}

			if err := r.reader.CommitMessages(ctx, msg); err != nil {
				log.Error().Err(err).Msg("Failed to commit message")
			}
		}
	}
}

func (r *KafkaRunner) Close() error {
	log.Info().Msg("Closing job consumer")
	return r.reader.Close()
}
