package venue

// Ring is a bounded single-producer/single-consumer queue backed by a
// buffered channel. The venue's read loop is the sole producer and
// one driver goroutine is the sole consumer; the driver's own state is
// guarded separately by its mutex.
type Ring[T any] struct {
	ch chan T
}

// NewRing constructs a Ring with the given bounded capacity.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{ch: make(chan T, capacity)}
}

// TryPush attempts a non-blocking send, returning false and dropping
// the item if the ring is full. The producer is expected to count
// drops and surface them via health/alerts rather than block.
func (r *Ring[T]) TryPush(v T) bool {
	select {
	case r.ch <- v:
		return true
	default:
		return false
	}
}

// Chan exposes the underlying receive channel for the consumer to
// range over or select on alongside a context's Done channel.
func (r *Ring[T]) Chan() <-chan T {
	return r.ch
}

// Close closes the ring's channel. Only the producer may call this.
func (r *Ring[T]) Close() {
	close(r.ch)
}

// Len reports the number of items currently buffered.
func (r *Ring[T]) Len() int {
	return len(r.ch)
}

// Cap reports the ring's fixed capacity.
func (r *Ring[T]) Cap() int {
	return cap(r.ch)
}

// DefaultFillRingCapacity is the spec's default SPSC ring capacity for
// the WS consumer's normalized fill stream.
const DefaultFillRingCapacity = 20000
