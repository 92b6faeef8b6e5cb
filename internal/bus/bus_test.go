package bus

import (
	"log/slog"
	"testing"
	"time"
)

func TestPublishReachesSubscribers(t *testing.T) {
	b := New(slog.Default())
	defer b.Close()

	sub := b.Subscribe("a", "b")
	b.Publish("a", 1)
	b.Publish("b", "two")

	for _, want := range []any{1, "two"} {
		select {
		case got := <-sub:
			if got != want {
				t.Fatalf("unexpected payload %v want %v", got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %v", want)
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewWithCapacity(nil, 0)
	defer b.Close()

	sub := b.Subscribe("a")
	b.Unsubscribe(sub)

	select {
	case _, ok := <-sub:
		if ok {
			t.Fatalf("expected closed subscription")
		}
	case <-time.After(time.Second):
		t.Fatalf("subscription was not closed")
	}
}

func TestPayloadType(t *testing.T) {
	if got := payloadType(nil); got != "<nil>" {
		t.Fatalf("unexpected nil payload type %q", got)
	}
	if got := payloadType(struct{}{}); got != "struct {}" {
		t.Fatalf("unexpected payload type %q", got)
	}
}
