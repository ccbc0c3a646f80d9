package domain

import (
	"context"
	"testing"
	"time"
)

func TestAnswerStreamClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan StreamEvent)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(events)
		for {
			select {
			case events <- StreamEvent{Type: StreamEventDelta, Text: "x"}:
			case <-ctx.Done():
				return
			}
		}
	}()

	s := NewAnswerStream("q1", events, cancel, done)
	if ev := <-s.Events(); ev.Type != StreamEventDelta {
		t.Fatalf("unexpected frame: %+v", ev)
	}

	closed := make(chan struct{})
	go func() {
		s.Close()
		s.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	select {
	case <-s.Done():
	default:
		t.Error("producer should have exited")
	}
}
