package kafka_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mike-walpole/d2g/pkg/kafka"
)

type recordingWriter struct {
	messages []kafkago.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func header(msg kafkago.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func newTestProducer() (*kafka.Producer, *recordingWriter, *recordingWriter) {
	schemaWriter := &recordingWriter{}
	submissionWriter := &recordingWriter{}
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return kafka.NewProducerWithWriters(schemaWriter, "d2g.schemas", submissionWriter, "d2g.submissions", logger),
		schemaWriter, submissionWriter
}

func TestProducer_PublishSchemaEvent(t *testing.T) {
	t.Run("should key the message by form id", func(t *testing.T) {
		producer, schemaWriter, submissionWriter := newTestProducer()

		err := producer.PublishSchemaEvent(context.Background(), &kafka.SchemaEvent{
			Type:     kafka.EventSchemaCreated,
			FormID:   "orderForm",
			Version:  "1.0.0",
			IsActive: true,
		})

		require.NoError(t, err)
		require.Len(t, schemaWriter.messages, 1)
		assert.Empty(t, submissionWriter.messages)

		msg := schemaWriter.messages[0]
		assert.Equal(t, "orderForm", string(msg.Key))
		assert.Equal(t, kafka.EventSchemaCreated, header(msg, "type"))

		var evt kafka.SchemaEvent
		require.NoError(t, json.Unmarshal(msg.Value, &evt))
		assert.Equal(t, "1.0.0", evt.Version)
		assert.False(t, evt.Timestamp.IsZero())
	})

	t.Run("should return writer errors", func(t *testing.T) {
		producer, schemaWriter, _ := newTestProducer()
		schemaWriter.err = errors.New("broker down")

		err := producer.PublishSchemaEvent(context.Background(), &kafka.SchemaEvent{Type: kafka.EventSchemaDeleted, FormID: "orderForm"})

		assert.Error(t, err)
	})

	t.Run("should reject a nil event", func(t *testing.T) {
		producer, _, _ := newTestProducer()
		assert.Error(t, producer.PublishSchemaEvent(context.Background(), nil))
	})
}

func TestProducer_PublishSubmissionEvent(t *testing.T) {
	producer, _, submissionWriter := newTestProducer()

	err := producer.PublishSubmissionEvent(context.Background(), &kafka.SubmissionEvent{
		SubmissionID: "abc",
		FormID:       "dock2gdansk-main",
	})

	require.NoError(t, err)
	require.Len(t, submissionWriter.messages, 1)
	assert.Equal(t, kafka.EventSubmissionReceived, header(submissionWriter.messages[0], "type"))
}

func TestProducer_Close(t *testing.T) {
	producer, schemaWriter, submissionWriter := newTestProducer()

	require.NoError(t, producer.Close())
	assert.True(t, schemaWriter.closed)
	assert.True(t, submissionWriter.closed)
}

func TestParseConfig(t *testing.T) {
	cfg := kafka.ParseConfig("a:9092, b:9092", "s", "u")
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Brokers)
}
