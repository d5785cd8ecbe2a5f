package broadcast

import (
	"testing"

	"github.com/model-satellite/flightcore/internal/telemetry"
)

func rec(packet uint32) *telemetry.Record {
	return &telemetry.Record{Packet: packet}
}

func TestQueue_Ordering(t *testing.T) {
	q, err := NewQueue(5)
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}

	for i := uint32(0); i < 5; i++ {
		if q.Push(rec(i)) {
			t.Errorf("Push %d reported a drop before the queue was full", i)
		}
	}

	for want := uint32(0); want < 5; want++ {
		got := q.Pop()
		if got == nil {
			t.Fatalf("Pop returned nil, want packet %d", want)
		}
		if got.Packet != want {
			t.Errorf("Pop = packet %d, want %d", got.Packet, want)
		}
	}
	if q.Pop() != nil {
		t.Error("Pop on empty queue returned a record")
	}
}

func TestQueue_DropOldest(t *testing.T) {
	q, err := NewQueue(3)
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}

	for i := uint32(0); i < 5; i++ {
		q.Push(rec(i))
	}

	if q.Len() != 3 {
		t.Errorf("Len = %d, want 3", q.Len())
	}
	if q.Dropped() != 2 {
		t.Errorf("Dropped = %d, want 2", q.Dropped())
	}

	// The two oldest records are gone; the rest stay in order.
	for want := uint32(2); want < 5; want++ {
		got := q.Pop()
		if got == nil || got.Packet != want {
			t.Fatalf("Pop = %v, want packet %d", got, want)
		}
	}
}

func TestQueue_Drain(t *testing.T) {
	q, err := NewQueue(4)
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}

	if q.Drain() != nil {
		t.Error("Drain on empty queue returned records")
	}

	for i := uint32(0); i < 3; i++ {
		q.Push(rec(i))
	}

	records := q.Drain()
	if len(records) != 3 {
		t.Fatalf("Drain returned %d records, want 3", len(records))
	}
	for i, r := range records {
		if r.Packet != uint32(i) {
			t.Errorf("Drain[%d] = packet %d, want %d", i, r.Packet, i)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len after drain = %d, want 0", q.Len())
	}
}

func TestNewQueue_RejectsInvalidCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1} {
		if _, err := NewQueue(capacity); err == nil {
			t.Errorf("NewQueue(%d) accepted invalid capacity", capacity)
		}
	}
}
