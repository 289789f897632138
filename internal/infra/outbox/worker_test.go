package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	chatsvc "clinix/internal/app/services/chat"
)

// The chat service records events through this type; Record lives on the
// pointer receiver, so only *Recorder satisfies the contract.
var _ chatsvc.Recorder = (*Recorder)(nil)

type stubQueue struct {
	records []*EventRecord
	added   []EventRecord
	sent    []string
	failed  []struct {
		id   string
		next time.Time
		msg  string
	}
}

func (q *stubQueue) Add(_ context.Context, record EventRecord) error {
	q.added = append(q.added, record)
	return nil
}

func (q *stubQueue) Claim(_ context.Context, _ string) (*EventRecord, error) {
	if len(q.records) == 0 {
		return nil, nil
	}
	record := q.records[0]
	q.records = q.records[1:]
	return record, nil
}

func (q *stubQueue) MarkSent(_ context.Context, id string) error {
	q.sent = append(q.sent, id)
	return nil
}

func (q *stubQueue) MarkFailed(_ context.Context, id string, next time.Time, msg string) error {
	q.failed = append(q.failed, struct {
		id   string
		next time.Time
		msg  string
	}{id, next, msg})
	return nil
}

type stubProducer struct {
	err     error
	topic   string
	key     string
	payload []byte
	headers map[string]string
	calls   int
}

func (p *stubProducer) Publish(_ context.Context, topic, key string, payload []byte, headers map[string]string) error {
	p.calls++
	if p.err != nil {
		return p.err
	}
	p.topic = topic
	p.key = key
	p.payload = payload
	p.headers = headers
	return nil
}

func sampleRecord() *EventRecord {
	return &EventRecord{
		ID:         "rec-1",
		Name:       "chat.message.sent",
		Payload:    []byte(`{"message_id":"m1","text":"hello"}`),
		OccurredAt: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
		Aggregate:  "conv-1",
		Headers:    map[string]string{"traceparent": "00-abc-def-01"},
	}
}

func TestWorkerPublishesCloudEvent(t *testing.T) {
	queue := &stubQueue{records: []*EventRecord{sampleRecord()}}
	producer := &stubProducer{}
	worker := &Worker{Queue: queue, Producer: producer, Source: "app://clinix/w1", ID: "w1"}

	require.NoError(t, worker.processOnce(context.Background()))
	require.Equal(t, []string{"rec-1"}, queue.sent)
	require.Empty(t, queue.failed)

	require.Equal(t, "chat.events.v1", producer.topic)
	require.Equal(t, "conv-1", producer.key)
	require.Equal(t, "application/cloudevents+json", producer.headers["content-type"])
	require.Equal(t, "00-abc-def-01", producer.headers["traceparent"])

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(producer.payload, &envelope))
	require.Equal(t, "1.0", envelope["specversion"])
	require.Equal(t, "chat.message.sent.v1", envelope["type"])
	require.Equal(t, "app://clinix/w1", envelope["source"])
	require.Equal(t, "00-abc-def-01", envelope["traceparent"])
	require.NotEmpty(t, envelope["id"])
	data, ok := envelope["data"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "hello", data["text"])
}

func TestWorkerTopicPrefix(t *testing.T) {
	record := sampleRecord()
	record.Name = "user.created"
	queue := &stubQueue{records: []*EventRecord{record}}
	producer := &stubProducer{}
	worker := &Worker{Queue: queue, Producer: producer, TopicPrefix: "clinix."}

	require.NoError(t, worker.processOnce(context.Background()))
	require.Equal(t, "clinix.user.events.v1", producer.topic)
}

func TestWorkerRetriesWithBackoff(t *testing.T) {
	record := sampleRecord()
	record.Attempts = 1
	queue := &stubQueue{records: []*EventRecord{record}}
	producer := &stubProducer{err: errors.New("broker down")}
	worker := &Worker{
		Queue:    queue,
		Producer: producer,
		Backoff:  []time.Duration{time.Second, time.Minute, time.Hour},
	}

	before := time.Now()
	require.NoError(t, worker.processOnce(context.Background()))
	require.Empty(t, queue.sent)
	require.Len(t, queue.failed, 1)
	require.Equal(t, "rec-1", queue.failed[0].id)
	require.Equal(t, "broker down", queue.failed[0].msg)
	// Second attempt indexes the second backoff step.
	require.WithinDuration(t, before.Add(time.Minute), queue.failed[0].next, 2*time.Second)
}

func TestWorkerBackoffFallsBackToLastStep(t *testing.T) {
	record := sampleRecord()
	record.Attempts = 10
	queue := &stubQueue{records: []*EventRecord{record}}
	producer := &stubProducer{err: errors.New("still down")}
	worker := &Worker{Queue: queue, Producer: producer, Backoff: []time.Duration{time.Second, time.Minute}}

	before := time.Now()
	require.NoError(t, worker.processOnce(context.Background()))
	require.Len(t, queue.failed, 1)
	require.WithinDuration(t, before.Add(time.Minute), queue.failed[0].next, 2*time.Second)
}

func TestWorkerFailsBadPayloadWithoutPublishing(t *testing.T) {
	record := sampleRecord()
	record.Payload = []byte("not json")
	queue := &stubQueue{records: []*EventRecord{record}}
	producer := &stubProducer{}
	worker := &Worker{Queue: queue, Producer: producer}

	require.NoError(t, worker.processOnce(context.Background()))
	require.Zero(t, producer.calls)
	require.Len(t, queue.failed, 1)
}

func TestWorkerIdleOnEmptyQueue(t *testing.T) {
	queue := &stubQueue{}
	producer := &stubProducer{}
	worker := &Worker{Queue: queue, Producer: producer}

	require.NoError(t, worker.processOnce(context.Background()))
	require.Zero(t, producer.calls)
	require.Empty(t, queue.sent)
}

func TestWorkerRunRequiresDependencies(t *testing.T) {
	worker := &Worker{}
	require.ErrorIs(t, worker.Run(context.Background()), ErrWorkerNotConfigured)
}

func TestRecorderWrapsPayload(t *testing.T) {
	queue := &stubQueue{}
	recorder := &Recorder{Queue: queue}

	err := recorder.Record(context.Background(), "chat.message.sent", "conv-1", map[string]any{"text": "hi"})
	require.NoError(t, err)
	require.Len(t, queue.added, 1)

	record := queue.added[0]
	require.NotEmpty(t, record.ID)
	require.Equal(t, "chat.message.sent", record.Name)
	require.Equal(t, "conv-1", record.Aggregate)
	require.False(t, record.OccurredAt.IsZero())
	var payload map[string]any
	require.NoError(t, json.Unmarshal(record.Payload, &payload))
	require.Equal(t, "hi", payload["text"])
}

func TestRecorderWithoutQueueIsNoop(t *testing.T) {
	var recorder *Recorder
	require.NoError(t, recorder.Record(context.Background(), "chat.message.sent", "conv-1", nil))
}
