package eventbus

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/orchestra-run/controlplane/internal/platform/logger"
)

// subscriberBufferSize bounds how many undelivered events accumulate per
// subscriber before the bus starts evicting the oldest buffered event to
// admit the newest one. This is the drop-oldest, never-block-the-publisher
// backpressure policy the context event bus owes every subscriber, shared by
// both the memory and NATS backends rather than left to callers to reinvent.
const subscriberBufferSize = 256

// boundedDelivery serializes delivery to a single handler through a bounded,
// drop-oldest queue. offer never blocks the publisher: once the queue is
// full it discards the oldest buffered event to make room for the newest,
// so a slow subscriber falls behind on history rather than stalling
// publication or reordering the events it does receive.
type boundedDelivery struct {
	queue   chan *Event
	handler EventHandler
	logger  *logger.Logger
	subject string

	closeOnce sync.Once
	done      chan struct{}
}

func newBoundedDelivery(subject string, handler EventHandler, log *logger.Logger) *boundedDelivery {
	d := &boundedDelivery{
		queue:   make(chan *Event, subscriberBufferSize),
		handler: handler,
		logger:  log,
		subject: subject,
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *boundedDelivery) run() {
	for {
		select {
		case event, ok := <-d.queue:
			if !ok {
				return
			}
			if err := d.handler(context.Background(), event); err != nil {
				d.logger.Error("eventbus: handler error",
					zap.String("subject", d.subject),
					zap.Error(err))
			}
		case <-d.done:
			return
		}
	}
}

// offer enqueues event, dropping the oldest buffered event for this
// subscriber if the queue is already full.
func (d *boundedDelivery) offer(event *Event) {
	select {
	case d.queue <- event:
		return
	default:
	}

	select {
	case <-d.queue:
		d.logger.Warn("eventbus: dropping oldest buffered event for slow subscriber",
			zap.String("subject", d.subject))
	default:
	}

	select {
	case d.queue <- event:
	default:
		// A concurrent offer refilled the queue between the drain and this
		// send; drop this event rather than block the publisher.
	}
}

func (d *boundedDelivery) close() {
	d.closeOnce.Do(func() {
		close(d.done)
	})
}
