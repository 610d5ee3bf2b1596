// Package ringbuf provides a fixed-capacity, mutex-guarded FIFO of recent
// values, with support for resizing and for removing arbitrary values.
package ringbuf

import (
	"sync"
)

// RingBuffer is a fixed-size collection of recent items. Once full, each Add
// overwrites the oldest item.
type RingBuffer[T any] struct {
	mtx sync.Mutex
	buf []T // fully allocated at construction
	cur int // index for next write, walk backwards to read
	len int // count of actual values
}

// NewRingBuffer returns an empty ring buffer of items, pre-allocated with the
// given capacity.
func NewRingBuffer[T any](cap int) *RingBuffer[T] {
	if cap < 0 {
		cap = 0
	}
	return &RingBuffer[T]{
		buf: make([]T, cap),
	}
}

// Add the value to the ring buffer. If the ring buffer was full and an item was
// overwritten by this add, return that item and true, otherwise return a zero
// value item and false.
func (rb *RingBuffer[T]) Add(val T) (dropped T, ok bool) {
	rb.mtx.Lock()
	defer rb.mtx.Unlock()

	// Safety first.
	if len(rb.buf) <= 0 {
		var zero T
		return zero, false
	}

	// Capture any overwritten value so it can be returned.
	if rb.len >= len(rb.buf) {
		dropped, ok = rb.buf[rb.cur], true
	}

	rb.buf[rb.cur] = val

	if rb.len < len(rb.buf) {
		rb.len += 1
	}

	rb.cur += 1
	if rb.cur >= len(rb.buf) {
		rb.cur -= len(rb.buf)
	}

	return dropped, ok
}

// Walk calls the given function for each value in the ring buffer, starting
// with the most recent value, and ending with the oldest value. If fn returns
// an error, the walk stops and that error is returned. Walk takes an exclusive
// lock on the ring buffer, which blocks other calls like Add.
func (rb *RingBuffer[T]) Walk(fn func(T) error) error {
	rb.mtx.Lock()
	defer rb.mtx.Unlock()

	for i := 0; i < rb.len; i++ {
		// Reads go backwards from one before the write cursor.
		cur := rb.cur - 1 - i
		if cur < 0 {
			cur += len(rb.buf)
		}

		if err := fn(rb.buf[cur]); err != nil {
			return err
		}
	}

	return nil
}

// Len returns the number of values currently in the ring buffer.
func (rb *RingBuffer[T]) Len() int {
	rb.mtx.Lock()
	defer rb.mtx.Unlock()
	return rb.len
}

// Cap returns the capacity of the ring buffer.
func (rb *RingBuffer[T]) Cap() int {
	rb.mtx.Lock()
	defer rb.mtx.Unlock()
	return len(rb.buf)
}

// RemoveIf deletes every value for which fn returns true, preserving the
// relative order of the survivors, and returns the removed values oldest
// first. The capacity is unchanged.
func (rb *RingBuffer[T]) RemoveIf(fn func(T) bool) (removed []T) {
	rb.mtx.Lock()
	defer rb.mtx.Unlock()

	if rb.len == 0 {
		return nil
	}

	// Read cursor for the oldest value.
	rdcur := rb.cur - rb.len
	if rdcur < 0 {
		rdcur += len(rb.buf)
	}

	// Survivors are compacted to the front of a fresh buffer, oldest first.
	buf := make([]T, len(rb.buf))
	fill := 0
	for i := 0; i < rb.len; i++ {
		val := rb.buf[rdcur]
		if fn(val) {
			removed = append(removed, val)
		} else {
			buf[fill] = val
			fill++
		}

		rdcur++
		if rdcur >= len(rb.buf) {
			rdcur -= len(rb.buf)
		}
	}

	if len(removed) <= 0 {
		return nil
	}

	cur := fill
	if cur >= len(buf) {
		cur -= len(buf)
	}

	rb.buf = buf
	rb.cur = cur
	rb.len = fill

	return removed
}

// Resize changes the capacity of the ring buffer to the given value. If the new
// capacity is smaller than the existing capacity, resize will drop the older
// items as necessary, and return those dropped items.
func (rb *RingBuffer[T]) Resize(cap int) (dropped []T) {
	// Safety first.
	if cap <= 0 {
		return
	}

	rb.mtx.Lock()
	defer rb.mtx.Unlock()

	// Calculate how many values to fill from the old buffer to the new one.
	fill := rb.len
	if fill > cap {
		fill = cap
	}

	// Calculate the read cursor for the old buffer.
	rdcur := rb.cur - 1
	if rdcur < 0 {
		rdcur += len(rb.buf)
	}

	// Construct the new buffer with the given capacity. As fill is guaranteed
	// to be less than or equal to cap, we calculate the write cursor as simply
	// fill, and will copy values by walking both cursors backwards.
	buf := make([]T, cap)
	wrcur := fill - 1

	for wrcur >= 0 {
		buf[wrcur] = rb.buf[rdcur]

		rdcur = rdcur - 1
		if rdcur < 0 {
			rdcur += len(rb.buf)
		}

		wrcur = wrcur - 1
	}

	// If we resized smaller, and the old buffer has more values than the new
	// capacity, then capture the values from the old buffer which are dropped.
	for i := cap; i < rb.len; i++ {
		dropped = append(dropped, rb.buf[rdcur])

		rdcur = rdcur - 1
		if rdcur < 0 {
			rdcur += len(rb.buf)
		}
	}

	// Calculate the next write cursor for the new buffer. If we resized
	// smaller, then fill will equal cap, and we need to wrap around.
	cur := fill
	if cur >= cap {
		cur -= cap
	}

	rb.buf = buf
	rb.cur = cur
	rb.len = fill

	return dropped
}
