package broker

import (
	"testing"

	"github.com/socratic-shell/symposium-sub004/internal/envelope"
)

func TestOutboundQueueDropsOldestWhenFull(t *testing.T) {
	q := newOutboundQueue(2)

	first := &envelope.Envelope{ID: "1"}
	second := &envelope.Envelope{ID: "2"}
	third := &envelope.Envelope{ID: "3"}

	if dropped := q.Push(first); dropped {
		t.Fatal("Push() on an empty queue reported a drop")
	}
	if dropped := q.Push(second); dropped {
		t.Fatal("Push() filling the queue reported a drop")
	}
	if dropped := q.Push(third); !dropped {
		t.Fatal("Push() past capacity did not report a drop")
	}

	items := q.Drain()
	if len(items) != 2 {
		t.Fatalf("Drain() returned %d items, want 2", len(items))
	}
	if items[0].ID != "2" || items[1].ID != "3" {
		t.Errorf("Drain() = %+v, want [2, 3] (oldest dropped)", items)
	}
	if got := q.DroppedCount(); got != 1 {
		t.Errorf("DroppedCount() = %d, want 1", got)
	}
}

func TestOutboundQueueDrainEmptiesQueue(t *testing.T) {
	q := newOutboundQueue(4)
	q.Push(&envelope.Envelope{ID: "1"})

	if got := q.Len(); got != 1 {
		t.Fatalf("Len() before Drain = %d, want 1", got)
	}
	q.Drain()
	if got := q.Len(); got != 0 {
		t.Errorf("Len() after Drain = %d, want 0", got)
	}
	if items := q.Drain(); items != nil {
		t.Errorf("Drain() on an empty queue = %v, want nil", items)
	}
}
