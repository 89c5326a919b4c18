package statistic

// Number is the set of scalar types a SlidingBuffer can average.
type Number interface {
	~int | ~int32 | ~int64 | ~float32 | ~float64
}

// SlidingBuffer is a fixed-capacity FIFO window backed by a ring. Once full,
// each Push evicts the oldest value.
type SlidingBuffer[T Number] struct {
	data  []T
	start int
	size  int
}

// NewSlidingBuffer constructs a buffer holding at most capacity values.
func NewSlidingBuffer[T Number](capacity int) (*SlidingBuffer[T], error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &SlidingBuffer[T]{data: make([]T, capacity)}, nil
}

// Push appends a value, evicting the oldest when full.
func (b *SlidingBuffer[T]) Push(v T) {
	capacity := len(b.data)
	if b.size < capacity {
		b.data[(b.start+b.size)%capacity] = v
		b.size++
		return
	}
	b.data[b.start] = v
	b.start = (b.start + 1) % capacity
}

// Len returns the number of buffered values.
func (b *SlidingBuffer[T]) Len() int { return b.size }

// Cap returns the buffer capacity.
func (b *SlidingBuffer[T]) Cap() int { return len(b.data) }

// Values returns a copy of the buffered values, oldest first.
func (b *SlidingBuffer[T]) Values() []T {
	out := make([]T, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.data[(b.start+i)%len(b.data)]
	}
	return out
}

// Oldest returns the earliest buffered value.
func (b *SlidingBuffer[T]) Oldest() (T, bool) {
	var zero T
	if b.size == 0 {
		return zero, false
	}
	return b.data[b.start], true
}

// Newest returns the most recently pushed value.
func (b *SlidingBuffer[T]) Newest() (T, bool) {
	var zero T
	if b.size == 0 {
		return zero, false
	}
	return b.data[(b.start+b.size-1)%len(b.data)], true
}

// Mean returns the arithmetic mean of the buffered values.
func (b *SlidingBuffer[T]) Mean() (float64, bool) {
	if b.size == 0 {
		return 0, false
	}
	var sum float64
	for i := 0; i < b.size; i++ {
		sum += float64(b.data[(b.start+i)%len(b.data)])
	}
	return sum / float64(b.size), true
}
