package memory

import (
	"context"
	"sync"
	"time"

	"clinix/internal/infra/outbox"
)

const (
	outboxStateNew     = "NEW"
	outboxStateClaimed = "CLAIMED"
	outboxStateSent    = "SENT"
	outboxStateFailed  = "FAILED"
)

type outboxEntry struct {
	record      outbox.EventRecord
	state       string
	nextAttempt time.Time
	claimedBy   string
	lastError   string
}

// Outbox keeps pending events in memory, in insertion order.
type Outbox struct {
	mu      sync.Mutex
	entries []*outboxEntry
	index   map[string]*outboxEntry
}

func NewOutbox() *Outbox {
	return &Outbox{index: make(map[string]*outboxEntry)}
}

func (o *Outbox) Add(ctx context.Context, record outbox.EventRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry := &outboxEntry{record: record, state: outboxStateNew, nextAttempt: time.Now().UTC()}
	o.entries = append(o.entries, entry)
	o.index[record.ID] = entry
	return nil
}

func (o *Outbox) Claim(ctx context.Context, workerID string) (*outbox.EventRecord, error) {
	now := time.Now().UTC()
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, entry := range o.entries {
		if entry.state != outboxStateNew && entry.state != outboxStateFailed {
			continue
		}
		if entry.nextAttempt.After(now) {
			continue
		}
		entry.state = outboxStateClaimed
		entry.claimedBy = workerID
		record := entry.record
		return &record, nil
	}
	return nil, nil
}

func (o *Outbox) MarkSent(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if entry, ok := o.index[id]; ok {
		entry.state = outboxStateSent
	}
	return nil
}

func (o *Outbox) MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if entry, ok := o.index[id]; ok {
		entry.state = outboxStateFailed
		entry.nextAttempt = next
		entry.lastError = errMsg
		entry.record.Attempts++
	}
	return nil
}

// Pending reports how many records have not been sent yet.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	count := 0
	for _, entry := range o.entries {
		if entry.state != outboxStateSent {
			count++
		}
	}
	return count
}

var _ outbox.Queue = (*Outbox)(nil)
