// Package asyncprocessor contains an asynchronous processor.
package asyncprocessor

import (
	"context"
	"fmt"
	"sync"

	"github.com/bluenviron/rtsprelay/pkg/ringbuffer"
)

// Processor is an asynchronous queue processor
// that allows to detach the routine that is relaying a stream
// from the routine that is writing it to a connection.
type Processor struct {
	// size of the queue.
	BufferSize int

	// called once when a callback fails or panics.
	OnError func(context.Context, error)

	running   bool
	buffer    *ringbuffer.RingBuffer
	ctx       context.Context
	ctxCancel func()
	closeOnce sync.Once

	done chan struct{}
}

// Initialize initializes the processor.
func (w *Processor) Initialize() error {
	var err error
	w.buffer, err = ringbuffer.New(w.BufferSize)
	if err != nil {
		return err
	}

	w.ctx, w.ctxCancel = context.WithCancel(context.Background())
	w.done = make(chan struct{})
	return nil
}

// Close closes the processor and waits for the routine to exit.
// It must not be called from inside a callback.
func (w *Processor) Close() {
	w.closeOnce.Do(func() {
		w.ctxCancel()
		w.buffer.Close()

		if w.running {
			<-w.done
		}
	})
}

// Start starts the processor.
func (w *Processor) Start() {
	w.running = true
	go w.run()
}

func (w *Processor) run() {
	defer close(w.done)

	err := w.runInner()
	if err != nil && w.OnError != nil {
		w.OnError(w.ctx, err)
	}
}

func (w *Processor) runInner() error {
	for {
		tmp, ok := w.buffer.Pull()
		if !ok {
			return nil
		}

		err := call(tmp.(func() error))
		if err != nil {
			return err
		}
	}
}

func call(cb func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return cb()
}

// Push pushes a callback to the queue.
// It returns false when the queue is full or closed.
func (w *Processor) Push(cb func() error) bool {
	return w.buffer.Push(cb)
}

// Queued returns the number of callbacks waiting to be processed.
func (w *Processor) Queued() int {
	return w.buffer.Len()
}
