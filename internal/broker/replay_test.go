package broker

import (
	"testing"
	"time"

	"github.com/socratic-shell/symposium-sub004/internal/envelope"
)

func TestReplayBufferSnapshotOrdersBySeq(t *testing.T) {
	rb := newReplayBuffer(8, time.Hour)

	rb.Record(&envelope.Envelope{ID: "c", Type: envelope.TagLogProgress, Seq: 3})
	rb.Record(&envelope.Envelope{ID: "a", Type: envelope.TagLogProgress, Seq: 1})
	rb.Record(&envelope.Envelope{ID: "b", Type: envelope.TagTaskspaceUpdated, Seq: 2})

	snap := rb.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("Snapshot() returned %d envelopes, want 3", len(snap))
	}
	for i, want := range []string{"a", "b", "c"} {
		if snap[i].ID != want {
			t.Errorf("Snapshot()[%d].ID = %q, want %q", i, snap[i].ID, want)
		}
	}
}

func TestReplayBufferExpiresOldEntries(t *testing.T) {
	rb := newReplayBuffer(8, 10*time.Minute)
	now := time.Now()
	rb.now = func() time.Time { return now }

	rb.Record(&envelope.Envelope{ID: "stale", Type: envelope.TagLogProgress, Seq: 1})

	rb.now = func() time.Time { return now.Add(20 * time.Minute) }
	rb.Record(&envelope.Envelope{ID: "fresh", Type: envelope.TagLogProgress, Seq: 2})

	snap := rb.Snapshot()
	if len(snap) != 1 || snap[0].ID != "fresh" {
		t.Errorf("Snapshot() = %+v, want only the fresh entry", snap)
	}
}

func TestReplayBufferBoundsPerType(t *testing.T) {
	rb := newReplayBuffer(2, time.Hour)
	for i := uint64(1); i <= 5; i++ {
		rb.Record(&envelope.Envelope{ID: "x", Type: envelope.TagLogProgress, Seq: i})
	}
	if got := rb.Size(); got != 2 {
		t.Errorf("Size() = %d, want 2 (bounded per type)", got)
	}
}
