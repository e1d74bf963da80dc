package realtime

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/lumina-health/portalsync/pkg/logger"
)

// subjectFor builds the per-table, per-user subject for row changes
func subjectFor(table, key string) string {
	return fmt.Sprintf("rowchange.%s.%s", table, key)
}

// NATSChannel implements Channel and Publisher over a NATS connection
type NATSChannel struct {
	nc  *nats.Conn
	log *logger.Logger
}

// NewNATSChannel wraps an established NATS connection
func NewNATSChannel(nc *nats.Conn, log *logger.Logger) *NATSChannel {
	return &NATSChannel{nc: nc, log: log}
}

// Publish sends a row-change event for the given table and owner key
func (c *NATSChannel) Publish(table, key string, ev ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode change event: %w", err)
	}

	if err := c.nc.Publish(subjectFor(table, key), payload); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}

	return nil
}

// Subscribe delivers change events for table/key to fn. A single
// dispatch goroutine drains the subscription channel, so fn observes
// events in publish order.
func (c *NATSChannel) Subscribe(table, key string, fn func(ChangeEvent)) (Subscription, error) {
	msgChan := make(chan *nats.Msg, 64)
	sub, err := c.nc.ChanSubscribe(subjectFor(table, key), msgChan)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s changes: %w", table, err)
	}

	s := &natsSubscription{
		sub:  sub,
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		for {
			select {
			case <-s.quit:
				return
			case msg := <-msgChan:
				var ev ChangeEvent
				if err := json.Unmarshal(msg.Data, &ev); err != nil {
					c.log.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropping malformed change event")
					continue
				}
				fn(ev)
			}
		}
	}()

	return s, nil
}

type natsSubscription struct {
	sub  *nats.Subscription
	quit chan struct{}
	done chan struct{}
	once sync.Once
	err  error
}

// Unsubscribe stops delivery and waits for the dispatch goroutine to
// exit, so no callback runs after it returns
func (s *natsSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.err = s.sub.Unsubscribe()
		close(s.quit)
		<-s.done
	})
	return s.err
}
