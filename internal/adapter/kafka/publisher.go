package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/weather-measures-etl/internal/config"
	"github.com/couchcryptid/weather-measures-etl/internal/domain"
	"github.com/couchcryptid/weather-measures-etl/internal/observability"
	kafkago "github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafkago.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// MeasurePublisher announces persisted measure rows on a Kafka topic.
// It implements pipeline.MeasurePublisher.
type MeasurePublisher struct {
	writer  messageWriter
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewMeasurePublisher creates a producer for the configured measures topic.
func NewMeasurePublisher(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *MeasurePublisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaMeasuresTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return newMeasurePublisher(w, metrics, logger)
}

func newMeasurePublisher(w messageWriter, metrics *observability.Metrics, logger *slog.Logger) *MeasurePublisher {
	return &MeasurePublisher{writer: w, metrics: metrics, logger: logger}
}

// PublishMeasure writes one message for a persisted row. The row is already
// durable, so failures are logged and counted and never returned.
func (p *MeasurePublisher) PublishMeasure(ctx context.Context, run domain.Run, rec domain.MeasureRecord) {
	msg, err := serializeToMessage(run, rec)
	if err == nil {
		err = p.writer.WriteMessages(ctx, msg)
	}
	if err != nil {
		p.metrics.PublishErrors.Inc()
		p.logger.Warn("publish measure failed",
			"run_id", run.ID,
			"city", rec.City,
			"timestamp", rec.Timestamp,
			"error", err,
		)
		return
	}
	p.logger.Debug("measure published", "run_id", run.ID, "key", string(msg.Key))
}

func (p *MeasurePublisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals a MeasureRecord into a Kafka message keyed by city and timestamp.
func serializeToMessage(run domain.Run, rec domain.MeasureRecord) (kafkago.Message, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize measure: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(rec.City + ":" + strconv.FormatInt(rec.Timestamp, 10)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(run.ID)},
			{Key: "logical_date", Value: []byte(run.LogicalDate.UTC().Format(time.DateOnly))},
		},
	}, nil
}
