// ABOUTME: Tests for the bounded fragment stream
// ABOUTME: Covers ordering, single-fragment backpressure, and terminal transitions

package vision

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStream_PushAndConsume(t *testing.T) {
	s := NewStream(context.Background())

	go func() {
		s.Push(Fragment{Text: "The "})
		s.Push(Fragment{Text: "cat "})
		s.Push(Fragment{Text: "sat"})
		s.SetMeta(StreamMeta{Model: "gpt-4o", Provider: "openai", Usage: Usage{TotalTokens: 9}})
		s.Close()
	}()

	var got string
	for f := range s.Fragments() {
		got += f.Text
	}
	if got != "The cat sat" {
		t.Fatalf("unexpected assembled text: %q", got)
	}
	if err := s.Err(); err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	meta := s.Meta()
	if meta.Model != "gpt-4o" || meta.Usage.TotalTokens != 9 {
		t.Fatalf("unexpected meta: %+v", meta)
	}
}

func TestStream_ProducerBlocksOneAhead(t *testing.T) {
	s := NewStream(context.Background())

	second := make(chan struct{})
	go func() {
		s.Push(Fragment{Text: "one"})
		s.Push(Fragment{Text: "two"}) // must block until "one" is consumed
		close(second)
		s.Close()
	}()

	select {
	case <-second:
		t.Fatal("second push completed before first fragment was consumed")
	case <-time.After(20 * time.Millisecond):
	}

	if f := <-s.Fragments(); f.Text != "one" {
		t.Fatalf("expected fragment 'one', got %q", f.Text)
	}

	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("second push did not complete after consuming first fragment")
	}
}

func TestStream_Fail(t *testing.T) {
	s := NewStream(context.Background())
	wantErr := errors.New("upstream hung up")

	go func() {
		s.Push(Fragment{Text: "partial"})
		s.Fail(wantErr)
	}()

	var got string
	for f := range s.Fragments() {
		got += f.Text
	}
	if got != "partial" {
		t.Fatalf("unexpected text before failure: %q", got)
	}
	if !errors.Is(s.Err(), wantErr) {
		t.Fatalf("expected terminal error %v, got %v", wantErr, s.Err())
	}
}

func TestStream_CloseTwice(t *testing.T) {
	s := NewStream(context.Background())
	if err := s.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := s.Close(); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
}

func TestStream_PushAfterCloseIsNoop(t *testing.T) {
	s := NewStream(context.Background())
	s.Close()
	// Must not panic or block.
	s.Push(Fragment{Text: "late"})
}

func TestStream_ContextCancelReleasesProducer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewStream(ctx)

	done := make(chan struct{})
	go func() {
		s.Push(Fragment{Text: "one"})
		s.Push(Fragment{Text: "two"}) // blocks: nobody consumes
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("producer still blocked after context cancellation")
	}
}
