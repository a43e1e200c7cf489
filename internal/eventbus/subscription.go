package eventbus

import "github.com/nats-io/nats.go"

// natsSubscription wraps a NATS subscription to implement the Subscription interface
type natsSubscription struct {
	sub      *nats.Subscription
	delivery *boundedDelivery
}

// Unsubscribe removes the subscription from the server and stops its
// delivery goroutine.
func (s *natsSubscription) Unsubscribe() error {
	if s.delivery != nil {
		s.delivery.close()
	}
	if s.sub == nil {
		return nil
	}
	return s.sub.Unsubscribe()
}

// IsValid returns whether the subscription is still active
func (s *natsSubscription) IsValid() bool {
	if s.sub == nil {
		return false
	}
	return s.sub.IsValid()
}

