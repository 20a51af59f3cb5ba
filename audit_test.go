package gateward

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

type collectSink struct {
	mu     sync.Mutex
	events []AuditEvent
	block  chan struct{}
}

func (s *collectSink) Emit(_ context.Context, event AuditEvent) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *collectSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherDeliversAndDrains(t *testing.T) {
	sink := &collectSink{}
	d := newAuditDispatcher(AuditConfig{BufferSize: 8}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: "test"})
	}
	d.Close()

	if got := sink.len(); got != 5 {
		t.Fatalf("delivered = %d, want 5", got)
	}
	if d.Dropped() != 0 {
		t.Fatalf("dropped = %d, want 0", d.Dropped())
	}
}

func TestDispatcherShedsWhenFull(t *testing.T) {
	sink := &collectSink{block: make(chan struct{})}
	d := newAuditDispatcher(AuditConfig{BufferSize: 1}, sink)

	// First event occupies the worker, the rest fill and overflow the
	// one-slot buffer.
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: "test"})
	}

	if d.Dropped() == 0 {
		t.Fatal("expected shed events with a full buffer")
	}

	close(sink.block)
	d.Close()
}

func TestDispatcherBlockWhenFullHonorsContext(t *testing.T) {
	sink := &collectSink{block: make(chan struct{})}
	d := newAuditDispatcher(AuditConfig{BufferSize: 1, BlockWhenFull: true}, sink)

	d.Emit(context.Background(), AuditEvent{EventType: "first"})
	d.Emit(context.Background(), AuditEvent{EventType: "second"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		d.Emit(ctx, AuditEvent{EventType: "third"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocked emit ignored context cancellation")
	}

	close(sink.block)
	d.Close()
}

func TestDispatcherIgnoresEmitAfterClose(t *testing.T) {
	sink := &collectSink{}
	d := newAuditDispatcher(AuditConfig{BufferSize: 4}, sink)
	d.Close()

	d.Emit(context.Background(), AuditEvent{EventType: "late"})
	if got := sink.len(); got != 0 {
		t.Fatalf("post-close emit delivered %d events", got)
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{
		EventType: "token_pair_issued",
		SubjectID: "user-1",
		Success:   true,
	})

	line := strings.TrimSpace(buf.String())
	var decoded map[string]any
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("sink wrote invalid JSON: %v", err)
	}
	if decoded["event_type"] != "token_pair_issued" {
		t.Fatalf("event_type = %v", decoded["event_type"])
	}
	if decoded["subject_id"] != "user-1" {
		t.Fatalf("subject_id = %v", decoded["subject_id"])
	}
}
