package network

import (
	"errors"
	"testing"

	"github.com/gamelink-project/gamelink/internal/protocol"
)

func TestSendQueueFIFO(t *testing.T) {
	q := NewSendQueue(0)
	for _, op := range []string{"first", "second", "third"} {
		q.Enqueue(protocol.NewRequest("gs-1", op, nil))
	}

	var got []string
	err := q.Flush(func(m *protocol.Message) error {
		got = append(got, m.Op)
		return nil
	})
	if err != nil {
		t.Fatalf("flush: %v", err)
	}

	want := []string{"first", "second", "third"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("flush order %v, want %v", got, want)
		}
	}
	if q.Len() != 0 {
		t.Errorf("queue depth %d after flush, want 0", q.Len())
	}
}

func TestSendQueueLimit(t *testing.T) {
	q := NewSendQueue(2)
	if !q.Enqueue(protocol.NewRequest("gs-1", "a", nil)) {
		t.Fatal("first enqueue rejected")
	}
	if !q.Enqueue(protocol.NewRequest("gs-1", "b", nil)) {
		t.Fatal("second enqueue rejected")
	}
	if q.Enqueue(protocol.NewRequest("gs-1", "c", nil)) {
		t.Fatal("enqueue past limit accepted")
	}
	if q.Len() != 2 {
		t.Errorf("queue depth %d, want 2", q.Len())
	}
}

func TestSendQueueFlushRequeuesFailedAtHead(t *testing.T) {
	q := NewSendQueue(0)
	for _, op := range []string{"a", "b", "c"} {
		q.Enqueue(protocol.NewRequest("gs-1", op, nil))
	}

	writeErr := errors.New("socket gone")
	calls := 0
	err := q.Flush(func(m *protocol.Message) error {
		calls++
		if m.Op == "b" {
			return writeErr
		}
		return nil
	})
	if !errors.Is(err, writeErr) {
		t.Fatalf("flush error = %v, want %v", err, writeErr)
	}
	if calls != 2 {
		t.Errorf("write called %d times, want 2", calls)
	}

	// The failed message heads the queue; order of the rest preserved.
	var got []string
	q.Flush(func(m *protocol.Message) error {
		got = append(got, m.Op)
		return nil
	})
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("remaining order %v, want [b c]", got)
	}
}

func TestSendQueueDrain(t *testing.T) {
	q := NewSendQueue(0)
	q.Enqueue(protocol.NewRequest("gs-1", "a", nil))
	q.Enqueue(protocol.NewRequest("gs-1", "b", nil))

	dropped := q.Drain()
	if len(dropped) != 2 {
		t.Fatalf("drained %d messages, want 2", len(dropped))
	}
	if q.Len() != 0 {
		t.Errorf("queue depth %d after drain, want 0", q.Len())
	}
}
