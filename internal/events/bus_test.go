package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestEmitReachesAllHandlers(t *testing.T) {
	eb := NewEventBus()
	var calls atomic.Int32

	eb.Subscribe(EventConnectionLost, "a", func(ctx context.Context, e Event) error {
		calls.Add(1)
		return nil
	})
	eb.Subscribe(EventConnectionLost, "b", func(ctx context.Context, e Event) error {
		calls.Add(1)
		return nil
	})

	eb.Emit(context.Background(), Event{Type: EventConnectionLost, Source: "test"})
	eb.Stop()

	if calls.Load() != 2 {
		t.Fatalf("handlers called %d times, want 2", calls.Load())
	}
}

func TestEmitSyncReturnsFirstError(t *testing.T) {
	eb := NewEventBus()
	want := errors.New("publish failed")

	eb.Subscribe(EventNotifyMQTT, "failing", func(ctx context.Context, e Event) error {
		return want
	})

	err := eb.EmitSync(context.Background(), Event{Type: EventNotifyMQTT})
	if !errors.Is(err, want) {
		t.Fatalf("error = %v, want %v", err, want)
	}
}

func TestUnsubscribe(t *testing.T) {
	eb := NewEventBus()
	var calls atomic.Int32

	eb.Subscribe(EventShutdown, "listener", func(ctx context.Context, e Event) error {
		calls.Add(1)
		return nil
	})
	eb.Unsubscribe(EventShutdown, "listener")

	if eb.HandlerCount(EventShutdown) != 0 {
		t.Fatal("handler still registered after unsubscribe")
	}

	eb.Emit(context.Background(), Event{Type: EventShutdown})
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatal("unsubscribed handler was invoked")
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	eb := NewEventBus()
	var after atomic.Int32

	eb.Subscribe(EventHeartbeatFailure, "panicky", func(ctx context.Context, e Event) error {
		panic("boom")
	})
	eb.Subscribe(EventHeartbeatFailure, "steady", func(ctx context.Context, e Event) error {
		after.Add(1)
		return nil
	})

	if err := eb.EmitSync(context.Background(), Event{Type: EventHeartbeatFailure}); err != nil {
		t.Fatalf("panic leaked as error: %v", err)
	}
	if after.Load() != 1 {
		t.Fatal("sibling handler not invoked after panic")
	}
}

func TestEmitAfterStopIsNoop(t *testing.T) {
	eb := NewEventBus()
	var calls atomic.Int32

	eb.Subscribe(EventRemoteEvent, "h", func(ctx context.Context, e Event) error {
		calls.Add(1)
		return nil
	})

	eb.Stop()
	eb.Emit(context.Background(), Event{Type: EventRemoteEvent})
	time.Sleep(20 * time.Millisecond)

	if calls.Load() != 0 {
		t.Fatal("handler invoked after Stop")
	}

	select {
	case <-eb.StopCh():
	default:
		t.Fatal("stop channel not closed")
	}
}
