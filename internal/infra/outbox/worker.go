package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrWorkerNotConfigured = errors.New("outbox: worker missing dependencies")

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultRetryDelay   = 5 * time.Second
)

type Producer interface {
	Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error
}

// Worker drains the queue and publishes each record as a CloudEvents
// envelope. A record that fails to encode or publish is rescheduled with the
// backoff step matching its attempt count; MarkSent is only reached after the
// broker accepted the message.
type Worker struct {
	Queue       Queue
	Producer    Producer
	Interval    time.Duration
	TopicPrefix string
	Source      string
	ID          string
	Backoff     []time.Duration
}

func (w *Worker) Run(ctx context.Context) error {
	if w.Queue == nil || w.Producer == nil {
		return ErrWorkerNotConfigured
	}
	interval := w.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.processOnce(ctx); err != nil {
				return err
			}
		}
	}
}

func (w *Worker) processOnce(ctx context.Context) error {
	record, err := w.Queue.Claim(ctx, w.workerID())
	if err != nil || record == nil {
		return err
	}
	payload, headers, encodeErr := w.envelope(record)
	if encodeErr != nil {
		return w.reschedule(ctx, record, encodeErr)
	}
	if pubErr := w.Producer.Publish(ctx, w.topicFor(record.Name), record.Aggregate, payload, headers); pubErr != nil {
		return w.reschedule(ctx, record, pubErr)
	}
	return w.Queue.MarkSent(ctx, record.ID)
}

func (w *Worker) reschedule(ctx context.Context, record *EventRecord, cause error) error {
	delay := defaultRetryDelay
	switch {
	case record.Attempts < len(w.Backoff):
		delay = w.Backoff[record.Attempts]
	case len(w.Backoff) > 0:
		delay = w.Backoff[len(w.Backoff)-1]
	}
	_ = w.Queue.MarkFailed(ctx, record.ID, time.Now().Add(delay), cause.Error())
	return nil
}

// envelope wraps the stored payload in a CloudEvents 1.0 envelope. The
// traceparent header, when present, is promoted into the envelope so
// consumers can continue the trace.
func (w *Worker) envelope(record *EventRecord) ([]byte, map[string]string, error) {
	var data map[string]any
	if err := json.Unmarshal(record.Payload, &data); err != nil {
		return nil, nil, err
	}
	source := w.Source
	if source == "" {
		source = "app://clinix"
	}
	evt := map[string]any{
		"specversion":     "1.0",
		"id":              uuid.NewString(),
		"type":            record.Name + ".v1",
		"source":          source,
		"time":            record.OccurredAt,
		"datacontenttype": "application/json",
		"data":            data,
	}
	if trace, ok := record.Headers["traceparent"]; ok {
		evt["traceparent"] = trace
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, nil, err
	}
	headers := map[string]string{"content-type": "application/cloudevents+json"}
	for k, v := range record.Headers {
		headers[k] = v
	}
	return payload, headers, nil
}

// topicFor maps an event name to its topic: the segment before the first dot
// names the stream, so chat.message.sent lands on chat.events.v1.
func (w *Worker) topicFor(name string) string {
	stream := name
	if idx := strings.IndexRune(name, '.'); idx > 0 {
		stream = name[:idx]
	}
	return w.TopicPrefix + stream + ".events.v1"
}

func (w *Worker) workerID() string {
	if w.ID != "" {
		return w.ID
	}
	return uuid.NewString()
}
