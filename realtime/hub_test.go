package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"impactkit/core"
	"impactkit/engine"
)

func TestHubSubscribeBroadcastUnsubscribe(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe(1, "")

	ev := core.NewPointsAwarded("bob", core.ActionRateOfficial, 10, 10)
	h.Broadcast(context.Background(), ev)

	received := <-ch
	if received.UserID != "bob" || received.Type != core.EventPointsAwarded {
		t.Fatalf("unexpected event: %+v", received)
	}

	h.Unsubscribe(id)
	_, ok := <-ch
	if ok {
		t.Fatal("expected channel closed after unsubscribe")
	}
	if h.Len() != 0 {
		t.Fatalf("expected no subscribers, got %d", h.Len())
	}
}

func TestHubUserFilterAndDrops(t *testing.T) {
	h := NewHub()
	_, mine := h.Subscribe(1, "alice")

	h.Broadcast(context.Background(), core.NewLevelUp("bob", core.LevelAdvocate, 100))
	h.Broadcast(context.Background(), core.NewLevelUp("alice", core.LevelAdvocate, 100))
	h.Broadcast(context.Background(), core.NewLevelUp("alice", core.LevelLeader, 500))

	got := <-mine
	if got.UserID != "alice" || got.Level != core.LevelAdvocate {
		t.Fatalf("unexpected event: %+v", got)
	}
	if h.Dropped() != 1 {
		t.Fatalf("expected 1 dropped event, got %d", h.Dropped())
	}
}

func TestHubAttachToBus(t *testing.T) {
	h := NewHub()
	bus := engine.NewEventBus(engine.DispatchSync)
	detach := h.Attach(bus)
	_, ch := h.Subscribe(4, "")

	bus.Publish(context.Background(), core.NewBadgeEarned("carol", core.BadgeDefinition{Code: "first-rating"}, 0))
	if ev := <-ch; ev.Badge != "first-rating" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	detach()
	bus.Publish(context.Background(), core.NewBadgeEarned("carol", core.BadgeDefinition{Code: "quiz-ace"}, 0))
	select {
	case ev := <-ch:
		t.Fatalf("event after detach: %+v", ev)
	default:
	}
}

func TestMarshalJSON(t *testing.T) {
	ev := core.NewBadgeEarned("alice", core.BadgeDefinition{Code: "onboarded", Description: "Joined"}, 0)
	b := MarshalJSON(ev)
	var out core.Event
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Badge != "onboarded" || out.Message != "Joined" {
		t.Fatalf("unexpected event: %+v", out)
	}
}
