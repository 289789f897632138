package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventRecord is a pending integration event awaiting publication.
type EventRecord struct {
	ID         string
	Name       string
	Payload    []byte
	OccurredAt time.Time
	Aggregate  string
	Headers    map[string]string
	Attempts   int
}

// Queue persists records until a worker publishes them. Claim hands out at
// most one record per call and returns nil when nothing is due.
type Queue interface {
	Add(ctx context.Context, record EventRecord) error
	Claim(ctx context.Context, workerID string) (*EventRecord, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error
}

// Recorder appends application events to a queue. It satisfies the chat
// service's recorder contract.
type Recorder struct {
	Queue Queue
}

func (r *Recorder) Record(ctx context.Context, name, aggregate string, payload any) error {
	if r == nil || r.Queue == nil {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return r.Queue.Add(ctx, EventRecord{
		ID:         uuid.NewString(),
		Name:       name,
		Payload:    body,
		OccurredAt: time.Now().UTC(),
		Aggregate:  aggregate,
		Headers:    map[string]string{},
	})
}
