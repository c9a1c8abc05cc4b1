package engine

import (
	"context"
	"testing"
	"time"

	"impactkit/core"
)

func TestEventBusSync(t *testing.T) {
	bus := NewEventBus(DispatchSync)
	count := 0
	bus.Subscribe(core.EventPointsAwarded, func(ctx context.Context, e core.Event) { count++ })
	bus.Publish(context.Background(), core.NewPointsAwarded(core.UserID("u"), core.ActionRateOfficial, 10, 10))
	if count != 1 {
		t.Fatalf("want 1 got %d", count)
	}
}

func TestEventBusAsync(t *testing.T) {
	bus := NewEventBus(DispatchAsync)
	defer bus.Close()
	ch := make(chan struct{})
	bus.Subscribe(core.EventPointsAwarded, func(ctx context.Context, e core.Event) { close(ch) })
	bus.Publish(context.Background(), core.NewPointsAwarded(core.UserID("u"), core.ActionRateOfficial, 10, 10))
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}

func TestEventBusUnsubscribeAndSubscribeAll(t *testing.T) {
	bus := NewEventBus(DispatchSync)
	var got []core.EventType
	unsub := bus.SubscribeAll(func(ctx context.Context, e core.Event) { got = append(got, e.Type) })
	bus.Publish(context.Background(), core.NewLevelUp("u", core.LevelAdvocate, 100))
	bus.Publish(context.Background(), core.Event{Type: core.EventBadgeEarned, UserID: "u"})
	unsub()
	bus.Publish(context.Background(), core.NewLevelUp("u", core.LevelLeader, 500))
	if len(got) != 2 || got[0] != core.EventLevelUp || got[1] != core.EventBadgeEarned {
		t.Fatalf("unexpected deliveries: %v", got)
	}
}
