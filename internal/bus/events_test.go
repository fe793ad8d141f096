package bus

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
)

func testEBLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var got Event
	eb.On(EventDelivered, func(e Event) {
		got = e
	})

	eb.Emit(Event{Type: EventDelivered, MessageID: "m1", StatusCode: 200})

	if got.MessageID != "m1" || got.StatusCode != 200 {
		t.Errorf("unexpected event: %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Error("expected timestamp to be filled in")
	}
}

func TestEventBus_WildcardHandler(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var count int32
	eb.On("*", func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	eb.Emit(Event{Type: EventTriggered})
	eb.Emit(Event{Type: EventDeliveryFailed})

	if atomic.LoadInt32(&count) != 2 {
		t.Errorf("expected 2, got %d", count)
	}
}

func TestEventBus_Off(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var count int32
	id := eb.On(EventTriggered, func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	eb.Emit(Event{Type: EventTriggered})
	eb.Off(EventTriggered, id)
	eb.Emit(Event{Type: EventTriggered})

	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("expected 1 after unsubscribe, got %d", count)
	}
	if n := eb.HandlerCount(EventTriggered); n != 0 {
		t.Errorf("expected no handlers left, got %d", n)
	}
}

func TestEventBus_OffKeepsOtherHandlers(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var a, b int32
	idA := eb.On(EventDelivered, func(e Event) { atomic.AddInt32(&a, 1) })
	eb.On(EventDelivered, func(e Event) { atomic.AddInt32(&b, 1) })

	eb.Off(EventDelivered, idA)
	eb.Emit(Event{Type: EventDelivered})

	if atomic.LoadInt32(&a) != 0 || atomic.LoadInt32(&b) != 1 {
		t.Errorf("expected a=0 b=1, got a=%d b=%d", a, b)
	}
}

func TestEventBus_PanicRecovery(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var afterPanic int32
	eb.On(EventDeliveryFailed, func(e Event) {
		panic("handler exploded")
	})
	eb.On(EventDeliveryFailed, func(e Event) {
		atomic.AddInt32(&afterPanic, 1)
	})

	eb.Emit(Event{Type: EventDeliveryFailed})

	if atomic.LoadInt32(&afterPanic) != 1 {
		t.Error("handler after a panicking one should still run")
	}
}

func TestEventBus_NoHandlers(t *testing.T) {
	eb := NewEventBus(testEBLogger())
	eb.Emit(Event{Type: EventMessageIgnored})
}
