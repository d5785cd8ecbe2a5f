package broadcast

import (
	"fmt"
	"sync"

	"github.com/model-satellite/flightcore/internal/telemetry"
)

// node is an internal linked list node for the record queue.
type node struct {
	rec  *telemetry.Record
	next *node
}

// Queue is a thread-safe bounded FIFO of telemetry records. When a push
// would exceed capacity the oldest queued record is dropped first, so a
// stalled consumer always finds the most recent records and a producer
// never blocks. Records come out in the order they went in; the drop
// policy removes from the head only, so relative order is preserved.
type Queue struct {
	capacity int

	mu      sync.Mutex
	head    *node
	tail    *node
	size    int
	dropped uint64
}

// NewQueue creates a queue holding up to capacity records.
func NewQueue(capacity int) (*Queue, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid queue capacity: %d", capacity)
	}
	return &Queue{capacity: capacity}, nil
}

// Push appends a record, dropping the oldest first when full. It reports
// whether a record was dropped to make room.
func (q *Queue) Push(rec *telemetry.Record) (dropped bool) {
	if rec == nil {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size >= q.capacity {
		q.head = q.head.next
		if q.head == nil {
			q.tail = nil
		}
		q.size--
		q.dropped++
		dropped = true
	}

	n := &node{rec: rec}
	if q.tail == nil {
		q.head = n
		q.tail = n
	} else {
		q.tail.next = n
		q.tail = n
	}
	q.size++

	return dropped
}

// Pop removes and returns the oldest record, or nil when empty.
func (q *Queue) Pop() *telemetry.Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == nil {
		return nil
	}

	n := q.head
	q.head = n.next
	if q.head == nil {
		q.tail = nil
	}
	q.size--

	return n.rec
}

// Drain removes and returns all queued records in order. Returns nil when
// the queue is empty.
func (q *Queue) Drain() []*telemetry.Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == nil || q.size == 0 {
		return nil
	}

	results := make([]*telemetry.Record, 0, q.size)
	for current := q.head; current != nil; current = current.next {
		results = append(results, current.rec)
	}

	q.head = nil
	q.tail = nil
	q.size = 0
	return results
}

// Len returns the current number of queued records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Dropped returns the total number of records discarded by backpressure.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
