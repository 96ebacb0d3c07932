package services

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type stubPublisher struct {
	mu        sync.Mutex
	published []OrderNotification
	publishFn func(context.Context, OrderNotification) error
}

func (s *stubPublisher) PublishNotification(ctx context.Context, event OrderNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, event)
	if s.publishFn != nil {
		return s.publishFn(ctx, event)
	}
	return nil
}

func (s *stubPublisher) events() []OrderNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OrderNotification, len(s.published))
	copy(out, s.published)
	return out
}

func TestAsyncDispatcherDeliversQueuedEvents(t *testing.T) {
	ctx := context.Background()
	publisher := &stubPublisher{}
	dispatcher := NewAsyncNotificationDispatcher(publisher, nil, 8)

	dispatcher.Dispatch(ctx, OrderNotification{Event: EventShipped, OrderID: "ord_1"})
	dispatcher.Dispatch(ctx, OrderNotification{Event: EventDelivered, OrderID: "ord_1"})
	dispatcher.Close()

	events := publisher.events()
	if len(events) != 2 {
		t.Fatalf("expected 2 published events, got %d", len(events))
	}
	if events[0].Event != EventShipped || events[1].Event != EventDelivered {
		t.Fatalf("events delivered out of order: %+v", events)
	}
}

func TestAsyncDispatcherSurvivesPublishFailure(t *testing.T) {
	ctx := context.Background()
	publisher := &stubPublisher{
		publishFn: func(_ context.Context, event OrderNotification) error {
			if event.OrderID == "ord_bad" {
				return errors.New("topic unavailable")
			}
			return nil
		},
	}
	dispatcher := NewAsyncNotificationDispatcher(publisher, nil, 8)

	dispatcher.Dispatch(ctx, OrderNotification{Event: EventShipped, OrderID: "ord_bad"})
	dispatcher.Dispatch(ctx, OrderNotification{Event: EventShipped, OrderID: "ord_ok"})
	dispatcher.Close()

	events := publisher.events()
	if len(events) != 2 {
		t.Fatalf("a failed publish must not stop the worker, got %d events", len(events))
	}
}

func TestAsyncDispatcherNilPublisherDropsQuietly(t *testing.T) {
	ctx := context.Background()
	dispatcher := NewAsyncNotificationDispatcher(nil, nil, 2)

	dispatcher.Dispatch(ctx, OrderNotification{Event: EventCancelled, OrderID: "ord_1"})
	dispatcher.Close()
}

func TestAsyncDispatcherCloseIsIdempotent(t *testing.T) {
	dispatcher := NewAsyncNotificationDispatcher(&stubPublisher{}, nil, 2)
	dispatcher.Close()
	dispatcher.Close()
}

func TestAsyncDispatcherDropsAfterClose(t *testing.T) {
	ctx := context.Background()
	publisher := &stubPublisher{}
	dispatcher := NewAsyncNotificationDispatcher(publisher, nil, 2)
	dispatcher.Close()

	dispatcher.Dispatch(ctx, OrderNotification{Event: EventShipped, OrderID: "ord_late"})

	if events := publisher.events(); len(events) != 0 {
		t.Fatalf("events after close must be dropped, got %+v", events)
	}
}
