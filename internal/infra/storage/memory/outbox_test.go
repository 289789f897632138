package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"clinix/internal/infra/outbox"
)

func testRecord(id string) outbox.EventRecord {
	return outbox.EventRecord{
		ID:         id,
		Name:       "chat.message.sent",
		Payload:    []byte(`{"text":"hi"}`),
		OccurredAt: time.Now().UTC(),
		Aggregate:  "conv-1",
	}
}

func TestOutboxClaimOrderAndRetry(t *testing.T) {
	queue := NewOutbox()
	ctx := context.Background()

	require.NoError(t, queue.Add(ctx, testRecord("e1")))
	require.NoError(t, queue.Add(ctx, testRecord("e2")))
	require.Equal(t, 2, queue.Pending())

	first, err := queue.Claim(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, "e1", first.ID, "claims follow insertion order")

	// A claimed record is invisible to other workers.
	second, err := queue.Claim(ctx, "w2")
	require.NoError(t, err)
	require.Equal(t, "e2", second.ID)
	third, err := queue.Claim(ctx, "w3")
	require.NoError(t, err)
	require.Nil(t, third)

	require.NoError(t, queue.MarkSent(ctx, "e2"))
	require.Equal(t, 1, queue.Pending())

	// A failed record comes back once its backoff elapses, with the attempt
	// counted.
	require.NoError(t, queue.MarkFailed(ctx, "e1", time.Now().Add(-time.Second), "broker down"))
	retried, err := queue.Claim(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, "e1", retried.ID)
	require.Equal(t, 1, retried.Attempts)
}

func TestOutboxRespectsBackoffWindow(t *testing.T) {
	queue := NewOutbox()
	ctx := context.Background()

	require.NoError(t, queue.Add(ctx, testRecord("e1")))
	claimed, err := queue.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	require.NoError(t, queue.MarkFailed(ctx, "e1", time.Now().Add(time.Hour), "later"))
	blocked, err := queue.Claim(ctx, "w1")
	require.NoError(t, err)
	require.Nil(t, blocked, "a record inside its backoff window is not claimable")
}
