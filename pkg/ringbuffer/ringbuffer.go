// Package ringbuffer contains a bounded queue with many producers and one consumer.
package ringbuffer

import (
	"fmt"
	"sync"
)

// RingBuffer is a bounded queue.
// Push never blocks: when the buffer is full, data is refused.
type RingBuffer struct {
	mutex  sync.Mutex
	buffer []interface{}
	head   int
	count  int
	closed bool
	notify notifier
}

// New allocates a RingBuffer.
func New(size int) (*RingBuffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("size must be greater than zero")
	}

	return &RingBuffer{
		buffer: make([]interface{}, size),
		notify: newNotifier(),
	}, nil
}

// Size returns the capacity of the buffer.
func (r *RingBuffer) Size() int {
	return len(r.buffer)
}

// Len returns the number of queued elements.
func (r *RingBuffer) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.count
}

// Close makes Pull() return false and Push() refuse data.
func (r *RingBuffer) Close() {
	r.mutex.Lock()
	r.closed = true
	r.mutex.Unlock()

	r.notify.signal()
}

// Reset empties the buffer and restores its behavior after a Close().
func (r *RingBuffer) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for i := range r.buffer {
		r.buffer[i] = nil
	}
	r.head = 0
	r.count = 0
	r.closed = false
}

// Push appends data at the end of the buffer.
// It returns false if the buffer is full or closed.
func (r *RingBuffer) Push(data interface{}) bool {
	r.mutex.Lock()

	if r.closed || r.count == len(r.buffer) {
		r.mutex.Unlock()
		return false
	}

	r.buffer[(r.head+r.count)%len(r.buffer)] = data
	r.count++
	r.mutex.Unlock()

	r.notify.signal()
	return true
}

// Pull extracts data from the beginning of the buffer,
// waiting until data is available.
// It returns false when the buffer has been closed.
func (r *RingBuffer) Pull() (interface{}, bool) {
	for {
		r.mutex.Lock()

		if r.closed {
			r.mutex.Unlock()
			return nil, false
		}

		if r.count > 0 {
			data := r.buffer[r.head]
			r.buffer[r.head] = nil
			r.head = (r.head + 1) % len(r.buffer)
			r.count--
			r.mutex.Unlock()
			return data, true
		}

		r.mutex.Unlock()
		r.notify.wait()
	}
}
