package usercore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestChannelSinkDeliversEvents(t *testing.T) {
	sink := NewChannelSink(4)
	ctx := context.Background()

	sink.Emit(ctx, AuditEvent{EventType: auditEventSignup, Success: true})

	select {
	case event := <-sink.Events():
		if event.EventType != auditEventSignup || !event.Success {
			t.Fatalf("unexpected event %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	ctx := context.Background()

	sink.Emit(ctx, AuditEvent{EventType: auditEventTokenCreate, UserID: "u1", Success: true})
	sink.Emit(ctx, AuditEvent{EventType: auditEventTokenRemove, UserID: "u1", Success: false, Error: "invalid token"})

	scanner := bufio.NewScanner(&buf)
	var lines int
	for scanner.Scan() {
		lines++
		var event AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lines, err)
		}
		if event.UserID != "u1" {
			t.Fatalf("unexpected user %q", event.UserID)
		}
	}
	if lines != 2 {
		t.Fatalf("expected 2 lines, got %d", lines)
	}
}

func TestAuditDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	sink := NewChannelSink(16)
	dispatcher := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 16}, sink)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		dispatcher.Emit(ctx, AuditEvent{EventType: auditEventSignup})
	}
	dispatcher.Close()

	var received int
	for {
		select {
		case <-sink.Events():
			received++
			if received == 5 {
				return
			}
		case <-time.After(time.Second):
			t.Fatalf("expected 5 events, got %d", received)
		}
	}
}

func TestAuditDispatcherDropsWhenFull(t *testing.T) {
	// A sink that never drains, with a one-slot buffer and DropIfFull.
	blocked := make(chan struct{})
	sink := blockingSink{release: blocked}
	dispatcher := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		dispatcher.Emit(ctx, AuditEvent{EventType: auditEventSignup})
	}

	if dispatcher.Dropped() == 0 {
		t.Fatal("expected dropped events under backpressure")
	}

	close(blocked)
	dispatcher.Close()
}

func TestAuditDispatcherDisabled(t *testing.T) {
	dispatcher := newAuditDispatcher(AuditConfig{Enabled: false}, NewChannelSink(1))
	if dispatcher != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	// Nil dispatcher must be safe to use.
	dispatcher.Emit(context.Background(), AuditEvent{})
	dispatcher.Close()
	if dispatcher.Dropped() != 0 {
		t.Fatal("expected zero drops from nil dispatcher")
	}
}

type blockingSink struct {
	release chan struct{}
}

func (s blockingSink) Emit(context.Context, AuditEvent) {
	<-s.release
}
