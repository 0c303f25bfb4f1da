package eventbridge

import (
	"testing"

	"github.com/kingrea/tollgate/internal/pipeline"
)

func push(id, ref string) Event {
	return Event{EventID: id, Kind: pipeline.EventPush, Ref: ref}
}

func TestRouterBuffersAndFlushes(t *testing.T) {
	router := NewRouter(RouterWithSubscriberCapacity(4))
	first := push("evt-1", "main")
	second := push("evt-2", "dev")
	router.Route(first)
	router.Route(second)
	sub := router.Subscribe(pipeline.EventPush)
	defer sub.Close()
	got1 := <-sub.Events
	if got1.EventID != first.EventID {
		t.Fatalf("expected first buffered event, got %s", got1.EventID)
	}
	got2 := <-sub.Events
	if got2.EventID != second.EventID {
		t.Fatalf("expected second buffered event, got %s", got2.EventID)
	}
}

func TestRouterDedupeByEventID(t *testing.T) {
	router := NewRouter()
	sub := router.Subscribe()
	defer sub.Close()
	event := push("evt-1", "main")
	router.Route(event)
	router.Route(event)
	select {
	case got := <-sub.Events:
		if got.EventID != event.EventID {
			t.Fatalf("unexpected event: %s", got.EventID)
		}
	default:
		t.Fatalf("expected first delivery")
	}
	select {
	case <-sub.Events:
		t.Fatalf("duplicate event delivered")
	default:
	}
}

func TestRouterRoutesByKind(t *testing.T) {
	router := NewRouter()
	pushes := router.Subscribe(pipeline.EventPush)
	defer pushes.Close()
	router.Route(Event{EventID: "nightly", Kind: pipeline.EventSchedule, Schedule: "0 3 * * *"})
	router.Route(push("evt-1", "main"))
	if got := <-pushes.Events; got.EventID != "evt-1" {
		t.Fatalf("expected push event, got %s", got.EventID)
	}
	schedules := router.Subscribe(pipeline.EventSchedule)
	defer schedules.Close()
	if got := <-schedules.Events; got.EventID != "nightly" {
		t.Fatalf("expected buffered schedule event, got %s", got.EventID)
	}
}

func TestRouterDropsSupersededEventOnOverflow(t *testing.T) {
	router := NewRouter(RouterWithSubscriberCapacity(1))
	sub := router.Subscribe()
	defer sub.Close()
	router.Route(push("evt-1", "main"))
	router.Route(push("evt-2", "main"))
	if got := <-sub.Events; got.EventID != "evt-2" {
		t.Fatalf("expected newer push on the same ref to replace the older one, got %s", got.EventID)
	}
}

func TestRouterDropsIncomingScheduleWhenFull(t *testing.T) {
	router := NewRouter(RouterWithSubscriberCapacity(1))
	sub := router.Subscribe()
	defer sub.Close()
	router.Route(push("evt-1", "main"))
	router.Route(Event{EventID: "evt-2", Kind: pipeline.EventSchedule, Schedule: "0 3 * * *"})
	if got := <-sub.Events; got.EventID != "evt-1" {
		t.Fatalf("expected push to survive over a scheduled event, got %s", got.EventID)
	}
	select {
	case <-sub.Events:
		t.Fatalf("unexpected extra event")
	default:
	}
}

func TestRouterClosedSubscriptionIgnoresEvents(t *testing.T) {
	router := NewRouter()
	sub := router.Subscribe(pipeline.EventPush)
	sub.Close()
	router.Route(push("evt-1", "main"))
	if _, ok := <-sub.Events; ok {
		t.Fatalf("expected closed channel")
	}
}
