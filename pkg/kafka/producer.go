package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mike-walpole/d2g/pkg/metrics"
	"github.com/mike-walpole/d2g/pkg/tracing"
)

const (
	EventSchemaCreated      = "schema.created"
	EventSchemaUpdated      = "schema.updated"
	EventSchemaDeleted      = "schema.deleted"
	EventSubmissionReceived = "submission.received"
)

// Config holds Kafka configuration
type Config struct {
	Brokers         []string
	SchemaTopic     string
	SubmissionTopic string
}

// ParseConfig parses a comma-separated broker string
func ParseConfig(brokers string, schemaTopic string, submissionTopic string) Config {
	brokerList := strings.Split(brokers, ",")
	for i := range brokerList {
		brokerList[i] = strings.TrimSpace(brokerList[i])
	}

	return Config{
		Brokers:         brokerList,
		SchemaTopic:     schemaTopic,
		SubmissionTopic: submissionTopic,
	}
}

// MessageWriter is the part of kafka.Writer the producer uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SchemaEvent announces a change to a schema record
type SchemaEvent struct {
	Type      string    `json:"type"`
	FormID    string    `json:"form_id"`
	Version   string    `json:"version"`
	IsActive  bool      `json:"is_active"`
	Timestamp time.Time `json:"timestamp"`

	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// SubmissionEvent announces a stored submission
type SubmissionEvent struct {
	Type          string    `json:"type"`
	SubmissionID  string    `json:"submission_id"`
	FormID        string    `json:"form_id"`
	SchemaVersion string    `json:"schema_version"`
	CompanyName   string    `json:"company_name"`
	CargoTypeName string    `json:"cargo_type_name"`
	Timestamp     time.Time `json:"timestamp"`

	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// Producer publishes domain events to Kafka
type Producer struct {
	schemaWriter     MessageWriter
	submissionWriter MessageWriter
	logger           ectologger.Logger
	schemaTopic      string
	submissionTopic  string
}

// NewProducer creates a producer with one writer per topic
func NewProducer(cfg Config, logger ectologger.Logger) *Producer {
	return NewProducerWithWriters(newWriter(cfg.Brokers, cfg.SchemaTopic), cfg.SchemaTopic,
		newWriter(cfg.Brokers, cfg.SubmissionTopic), cfg.SubmissionTopic, logger)
}

func NewProducerWithWriters(schemaWriter MessageWriter, schemaTopic string, submissionWriter MessageWriter, submissionTopic string, logger ectologger.Logger) *Producer {
	return &Producer{
		schemaWriter:     schemaWriter,
		submissionWriter: submissionWriter,
		logger:           logger,
		schemaTopic:      schemaTopic,
		submissionTopic:  submissionTopic,
	}
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		// dev brokers may not have the topics yet
		AllowAutoTopicCreation: true,
	}
}

func (p *Producer) Close() error {
	var firstErr error
	if err := p.schemaWriter.Close(); err != nil {
		firstErr = err
	}
	if err := p.submissionWriter.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (p *Producer) PublishSchemaEvent(ctx context.Context, evt *SchemaEvent) error {
	if evt == nil {
		return fmt.Errorf("schema event is nil")
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.TraceID = tracing.GetTraceID(ctx)
	evt.SpanID = tracing.GetSpanID(ctx)

	return p.publish(ctx, p.schemaWriter, p.schemaTopic, evt.Type, evt.FormID, evt)
}

func (p *Producer) PublishSubmissionEvent(ctx context.Context, evt *SubmissionEvent) error {
	if evt == nil {
		return fmt.Errorf("submission event is nil")
	}
	if evt.Type == "" {
		evt.Type = EventSubmissionReceived
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.TraceID = tracing.GetTraceID(ctx)
	evt.SpanID = tracing.GetSpanID(ctx)

	return p.publish(ctx, p.submissionWriter, p.submissionTopic, evt.Type, evt.FormID, evt)
}

func (p *Producer) publish(ctx context.Context, writer MessageWriter, topic string, eventType string, formID string, payload any) error {
	ctx, span := tracing.StartSpan(ctx, "Kafka.Publish")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", topic),
		attribute.String("messaging.operation", "publish"),
		attribute.String("event_type", eventType),
		attribute.String("form_id", formID),
	)

	data, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal message")
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	headers := []kafka.Header{
		{Key: "type", Value: []byte(eventType)},
		{Key: "form_id", Value: []byte(formID)},
	}
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}
	if tracestate := tracing.GetTraceState(ctx); tracestate != "" {
		headers = append(headers, kafka.Header{Key: "tracestate", Value: []byte(tracestate)})
	}

	start := time.Now()
	err = writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(formID),
		Value:   data,
		Headers: headers,
	})
	if err != nil {
		metrics.RecordKafkaPublish(topic, "error", time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish message")
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish %s to Kafka topic %s", eventType, topic)
		return err
	}

	metrics.RecordKafkaPublish(topic, "success", time.Since(start).Seconds())
	span.SetStatus(codes.Ok, "message published")
	p.logger.WithContext(ctx).Debugf("Published %s to Kafka topic %s: form=%s", eventType, topic, formID)
	return nil
}

// NoopPublisher drops every event. It stands in when Kafka is disabled.
type NoopPublisher struct{}

func (NoopPublisher) PublishSchemaEvent(context.Context, *SchemaEvent) error { return nil }

func (NoopPublisher) PublishSubmissionEvent(context.Context, *SubmissionEvent) error { return nil }

func (NoopPublisher) Close() error { return nil }
