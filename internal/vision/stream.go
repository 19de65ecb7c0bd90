// ABOUTME: Bounded fragment stream connecting provider adapters to consumers
// ABOUTME: Producers block once one fragment is unconsumed, pacing them to the reader

package vision

import (
	"context"
	"errors"
	"sync"
)

// ErrStreamClosed indicates the stream has already been closed.
var ErrStreamClosed = errors.New("stream closed")

// Fragment is one incremental piece of model output.
type Fragment struct {
	Text string
}

// StreamMeta captures final metadata once the upstream response completes.
type StreamMeta struct {
	Model    string
	Provider string
	Usage    Usage
}

// Stream carries model output fragments from an adapter goroutine to a
// consumer. The fragment channel holds at most one unconsumed fragment, so
// a producer can run at most one fragment ahead of its reader; a stalled
// consumer applies backpressure all the way to the upstream socket.
//
// The producing adapter owns the terminal transition: it calls Close after
// the upstream response ends, or Fail if it ends in error. Consumers abandon
// a stream by cancelling the context it was created with.
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	fragments chan Fragment
	err       error
	closed    bool
	meta      StreamMeta
}

// NewStream constructs a Stream bound to ctx.
func NewStream(ctx context.Context) *Stream {
	c, cancel := context.WithCancel(ctx)
	return &Stream{
		ctx:       c,
		cancel:    cancel,
		fragments: make(chan Fragment, 1),
	}
}

// Push appends a fragment, blocking until the consumer has room or the
// stream's context is cancelled.
func (s *Stream) Push(f Fragment) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return
	}

	select {
	case s.fragments <- f:
	case <-s.ctx.Done():
	}
}

// Close ends the stream successfully and releases the consumer.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	s.closed = true
	close(s.fragments)
	s.cancel()
	return nil
}

// Fail records the terminal error and closes the stream.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	alreadyClosed := s.closed
	s.mu.Unlock()

	if !alreadyClosed {
		_ = s.Close()
	}
}

// Fragments returns the read-only fragment channel. It is closed when the
// stream ends; check Err afterwards to distinguish success from failure.
func (s *Stream) Fragments() <-chan Fragment {
	return s.fragments
}

// Err returns the terminal error, if any.
func (s *Stream) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// SetMeta records final metadata; adapters call this before Close.
func (s *Stream) SetMeta(meta StreamMeta) {
	s.mu.Lock()
	s.meta = meta
	s.mu.Unlock()
}

// Meta returns metadata recorded by the adapter.
func (s *Stream) Meta() StreamMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta
}
