package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/swarmd/internal/logging"
)

// ErrBusClosed is returned by Publish and Subscribe after Close.
var ErrBusClosed = errors.New("bus: closed")

// subscriberBuffer is the per-subscription channel depth. A subscriber that
// falls this far behind blocks the delivery goroutine, not the publisher.
const subscriberBuffer = 256

// Message is one delivered bus message.
type Message struct {
	Topic string
	Data  []byte
}

// Undeliverable reports a retained message whose retention deadline elapsed
// before any subscriber appeared.
type Undeliverable struct {
	Topic       string
	Data        []byte
	PublishedAt time.Time
}

type retainedMsg struct {
	data        []byte
	publishedAt time.Time
}

// Bus is a NATS-backed publish/subscribe channel with retention for topics
// that have no live subscribers yet.
type Bus struct {
	nc        *nats.Conn
	retention time.Duration
	logger    *logging.Logger

	mu       sync.Mutex
	closed   bool
	retained map[string][]retainedMsg
	subs     map[string]int

	undeliverable chan Undeliverable
	stopSweep     chan struct{}
	sweepDone     chan struct{}
}

// Options configures a Bus.
type Options struct {
	// Retention is how long a message without subscribers is held.
	Retention time.Duration

	// Logger receives bus diagnostics. Must not be nil.
	Logger *logging.Logger
}

// New creates a Bus over an established NATS connection. The Bus does not
// own the connection's lifecycle beyond Close draining it.
func New(nc *nats.Conn, opts Options) (*Bus, error) {
	if nc == nil {
		return nil, fmt.Errorf("bus: nats connection is required")
	}
	if opts.Retention <= 0 {
		return nil, fmt.Errorf("bus: retention must be > 0, got %v", opts.Retention)
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("bus: logger is required")
	}

	b := &Bus{
		nc:            nc,
		retention:     opts.Retention,
		logger:        opts.Logger.Named("bus"),
		retained:      make(map[string][]retainedMsg),
		subs:          make(map[string]int),
		undeliverable: make(chan Undeliverable, 64),
		stopSweep:     make(chan struct{}),
		sweepDone:     make(chan struct{}),
	}

	go b.sweepRetained()

	return b, nil
}

// Connect dials a NATS server with the standard swarmd retry policy.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// Publish enqueues data for all current subscribers of topic.
//
// If the topic has no live subscribers, the message is retained until one
// subscribes or the retention deadline elapses; expired messages surface on
// the Undeliverable channel rather than being silently dropped.
func (b *Bus) Publish(topic string, data []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}

	if b.subs[topic] == 0 {
		msg := retainedMsg{data: data, publishedAt: time.Now()}
		b.retained[topic] = append(b.retained[topic], msg)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if err := b.nc.Publish(topic, data); err != nil {
		return fmt.Errorf("bus: publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns a Subscription delivering every message published to
// topic from now on, plus any messages retained while the topic had no
// subscribers. Delivery order per topic is publish order.
func (b *Bus) Subscribe(topic string) (*Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}

	natsCh := make(chan *nats.Msg, subscriberBuffer)
	natsSub, err := b.nc.ChanSubscribe(topic, natsCh)
	if err != nil {
		b.mu.Unlock()
		return nil, fmt.Errorf("bus: subscribe to %s: %w", topic, err)
	}

	b.subs[topic]++
	flush := b.retained[topic]
	delete(b.retained, topic)
	b.mu.Unlock()

	// Make sure the server has registered the subscription before
	// replaying retained messages, or the replay itself would be lost.
	if len(flush) > 0 {
		if err := b.nc.Flush(); err != nil {
			b.logger.Warn(context.Background(), "flush before retained replay failed",
				zap.String("topic", topic), zap.Error(err))
		}
		for _, m := range flush {
			if err := b.nc.Publish(topic, m.data); err != nil {
				b.logger.Error(context.Background(), "retained replay failed",
					zap.String("topic", topic), zap.Error(err))
			}
		}
	}

	sub := &Subscription{
		bus:   b,
		topic: topic,
		nats:  natsSub,
		out:   make(chan Message, subscriberBuffer),
		done:  make(chan struct{}),
	}

	go sub.pump(natsCh)

	return sub, nil
}

// Undeliverable exposes messages whose retention deadline elapsed with no
// subscribers. Receivers must drain it; the channel is buffered and overflow
// is logged and counted, not blocked on.
func (b *Bus) Undeliverable() <-chan Undeliverable {
	return b.undeliverable
}

// Close shuts the bus down. Outstanding subscriptions stop delivering;
// subsequent Publish and Subscribe calls return ErrBusClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	close(b.stopSweep)
	<-b.sweepDone

	// Drain so in-flight deliveries complete before the connection drops.
	if err := b.nc.Drain(); err != nil {
		b.logger.Warn(context.Background(), "drain on close failed", zap.Error(err))
	}
}

// sweepRetained expires retained messages past the retention deadline.
func (b *Bus) sweepRetained() {
	defer close(b.sweepDone)

	interval := b.retention / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopSweep:
			return
		case now := <-ticker.C:
			b.expireRetained(now)
		}
	}
}

func (b *Bus) expireRetained(now time.Time) {
	var expired []Undeliverable

	b.mu.Lock()
	for topic, msgs := range b.retained {
		keep := msgs[:0]
		for _, m := range msgs {
			if now.Sub(m.publishedAt) >= b.retention {
				expired = append(expired, Undeliverable{
					Topic:       topic,
					Data:        m.data,
					PublishedAt: m.publishedAt,
				})
			} else {
				keep = append(keep, m)
			}
		}
		if len(keep) == 0 {
			delete(b.retained, topic)
		} else {
			b.retained[topic] = keep
		}
	}
	b.mu.Unlock()

	for _, u := range expired {
		select {
		case b.undeliverable <- u:
		default:
			b.logger.Warn(context.Background(), "undeliverable channel full, report dropped",
				zap.String("topic", u.Topic))
		}
	}
}

// Subscription is one subscriber's inbound stream for a topic.
type Subscription struct {
	bus   *Bus
	topic string
	nats  *nats.Subscription
	out   chan Message

	once sync.Once
	done chan struct{}
}

// C returns the receive channel. It stops delivering after Unsubscribe or
// bus Close; it is never closed while the subscription is live.
func (s *Subscription) C() <-chan Message {
	return s.out
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string {
	return s.topic
}

// Unsubscribe stops delivery and releases the subscription.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		_ = s.nats.Unsubscribe()
		close(s.done)

		s.bus.mu.Lock()
		if s.bus.subs[s.topic] > 0 {
			s.bus.subs[s.topic]--
			if s.bus.subs[s.topic] == 0 {
				delete(s.bus.subs, s.topic)
			}
		}
		s.bus.mu.Unlock()
	})
}

// pump converts NATS messages into bus Messages until unsubscribed.
func (s *Subscription) pump(natsCh chan *nats.Msg) {
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-natsCh:
			if !ok {
				return
			}
			select {
			case s.out <- Message{Topic: msg.Subject, Data: msg.Data}:
			case <-s.done:
				return
			}
		}
	}
}
