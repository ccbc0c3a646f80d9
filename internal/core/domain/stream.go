package domain

import (
	"context"
	"sync"
)

// StreamEventType tags a streamed frame
type StreamEventType string

const (
	StreamEventDelta StreamEventType = "delta"
	StreamEventEnd   StreamEventType = "end"
	StreamEventError StreamEventType = "error"
)

// StreamEvent is one frame of a streamed answer. A stream carries any
// number of deltas followed by exactly one end or error frame.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Text    string          `json:"text,omitempty"`
	Result  *QueryResult    `json:"result,omitempty"`
	Kind    ErrorKind       `json:"kind,omitempty"`
	Message string          `json:"message,omitempty"`
}

// AnswerStream is a lazy, finite, non-restartable sequence of frames
// produced by a dedicated goroutine. Close cancels the producer and
// waits until it has finished its bookkeeping.
type AnswerStream struct {
	QueryID string

	events <-chan StreamEvent
	cancel context.CancelFunc
	done   <-chan struct{}
	once   sync.Once
}

// NewAnswerStream wraps a producer's channels
func NewAnswerStream(queryID string, events <-chan StreamEvent, cancel context.CancelFunc, done <-chan struct{}) *AnswerStream {
	return &AnswerStream{QueryID: queryID, events: events, cancel: cancel, done: done}
}

// Events returns the frame channel; it is closed after the terminal frame
func (s *AnswerStream) Events() <-chan StreamEvent {
	return s.events
}

// Close stops the producer. Safe to call more than once.
func (s *AnswerStream) Close() {
	s.once.Do(func() {
		s.cancel()
		// Drain so a producer blocked on send can observe cancellation.
		go func() {
			for range s.events {
			}
		}()
		<-s.done
	})
}

// Done is closed once the producer has exited
func (s *AnswerStream) Done() <-chan struct{} {
	return s.done
}
