package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const publishTimeout = 10 * time.Second

// AsyncNotificationDispatcher decouples notification delivery from the
// request cycle: Dispatch enqueues without blocking and a background worker
// drains the queue through the publisher. Delivery failures and overflow
// drops are logged, never surfaced to callers.
type AsyncNotificationDispatcher struct {
	publisher NotificationPublisher
	logger    *zap.Logger

	queue chan OrderNotification
	done  chan struct{}

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewAsyncNotificationDispatcher starts the worker goroutine. A buffer of
// zero falls back to a small default.
func NewAsyncNotificationDispatcher(publisher NotificationPublisher, logger *zap.Logger, buffer int) *AsyncNotificationDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 64
	}
	d := &AsyncNotificationDispatcher{
		publisher: publisher,
		logger:    logger,
		queue:     make(chan OrderNotification, buffer),
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

// Dispatch enqueues the event. When the queue is full or the dispatcher has
// been closed the event is dropped and logged; order state must never wait
// on the mailer.
func (d *AsyncNotificationDispatcher) Dispatch(_ context.Context, event OrderNotification) {
	if d == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("notification dispatcher closed, dropping event",
			zap.String("event", string(event.Event)),
			zap.String("order_id", event.OrderID))
		return
	}
	select {
	case d.queue <- event:
	default:
		d.logger.Warn("notification queue full, dropping event",
			zap.String("event", string(event.Event)),
			zap.String("order_id", event.OrderID))
	}
}

// Close stops accepting events and waits for the queue to drain. The closed
// flag is flipped under the write lock before the channel closes, so no
// Dispatch in flight can send on a closed queue.
func (d *AsyncNotificationDispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.queue)
		<-d.done
	})
}

func (d *AsyncNotificationDispatcher) run() {
	defer close(d.done)
	for event := range d.queue {
		if d.publisher == nil {
			continue
		}
		// Detached from the request context: the request may long be over.
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := d.publisher.PublishNotification(ctx, event); err != nil {
			d.logger.Error("notification publish failed",
				zap.String("event", string(event.Event)),
				zap.String("order_id", event.OrderID),
				zap.Error(err))
		}
		cancel()
	}
}

var _ NotificationDispatcher = (*AsyncNotificationDispatcher)(nil)
