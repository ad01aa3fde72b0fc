package outbox

import "sync"

// Ring is a thread-safe bounded FIFO that drops the oldest item on overflow.
type Ring[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int

	// OnDrop is called (without the lock held) for every evicted item.
	OnDrop func(item T)

	// Stats
	totalPushed  int64
	totalDrained int64
	totalDropped int64
}

// NewRing creates a ring with the given capacity (minimum 1).
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends an item. If the ring is full the oldest item is evicted and
// returned with dropped=true.
func (r *Ring[T]) Push(item T) (evicted T, dropped bool) {
	r.mu.Lock()

	if r.count == r.capacity {
		evicted = r.buf[r.head]
		var zero T
		r.buf[r.head] = zero
		r.head = (r.head + 1) % r.capacity
		r.count--
		r.totalDropped++
		dropped = true
	}

	r.buf[r.tail] = item
	r.tail = (r.tail + 1) % r.capacity
	r.count++
	r.totalPushed++

	onDrop := r.OnDrop
	r.mu.Unlock()

	if dropped && onDrop != nil {
		onDrop(evicted)
	}
	return evicted, dropped
}

// Pop removes and returns the oldest item.
func (r *Ring[T]) Pop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.count == 0 {
		return zero, false
	}

	item := r.buf[r.head]
	r.buf[r.head] = zero // Clear reference for GC
	r.head = (r.head + 1) % r.capacity
	r.count--
	r.totalDrained++

	return item, true
}

// Drain removes up to max items (all when max <= 0) in insertion order.
func (r *Ring[T]) Drain(max int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return nil
	}

	n := r.count
	if max > 0 && max < n {
		n = max
	}

	result := make([]T, n)
	var zero T
	for i := 0; i < n; i++ {
		result[i] = r.buf[r.head]
		r.buf[r.head] = zero
		r.head = (r.head + 1) % r.capacity
		r.count--
		r.totalDrained++
	}

	return result
}

// Len returns the current number of queued items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return r.capacity
}

// Stats returns ring statistics.
func (r *Ring[T]) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Count:        r.count,
		Capacity:     r.capacity,
		TotalPushed:  r.totalPushed,
		TotalDrained: r.totalDrained,
		TotalDropped: r.totalDropped,
	}
}

// Stats contains ring statistics.
type Stats struct {
	Count        int
	Capacity     int
	TotalPushed  int64
	TotalDrained int64
	TotalDropped int64
}
