package notifier

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// ErrResyncRequired signals that the retained buffer cannot bridge the gap
// from the subscriber's last known sequence; the subscriber must fall back to
// a full catalog pull. Use errors.As with *ResyncRequiredError for the range.
var ErrResyncRequired = errors.New("resync required")

var errClosed = errors.New("notifier closed")

// ResyncRequiredError carries the retained range so the transport can tell
// the subscriber where to re-attach after its catalog pull.
type ResyncRequiredError struct {
	LastKnown      uint64
	OldestRetained uint64
	Current        uint64
}

func (e *ResyncRequiredError) Error() string {
	return fmt.Sprintf("resync required: last known %d, retained from %d to %d", e.LastKnown, e.OldestRetained, e.Current)
}

func (e *ResyncRequiredError) Is(target error) bool {
	return target == ErrResyncRequired
}

// Notifier fans committed change events out to attached subscribers. It
// assigns the global sequence under its own lock at publish time, which is
// what keeps every subscriber's stream strictly increasing even when
// unrelated products commit concurrently. A short ring of recent events is
// retained so reconnecting subscribers can catch up without a full pull.
type Notifier struct {
	mu        sync.Mutex
	seq       uint64
	ring      []domain.ChangeEvent // retained events, oldest first
	capacity  int
	queueSize int
	subs      map[string]*subscriber
	closed    bool
	logger    *zap.Logger
}

type subscriber struct {
	id            string
	mu            sync.Mutex
	events        chan domain.ChangeEvent
	resync        chan struct{}
	resyncOnce    sync.Once
	closed        bool
	lastDelivered uint64 // highest sequence placed on the queue
}

// DeliveryHandle is what a transport drains to push events to one subscriber.
type DeliveryHandle struct {
	sub *subscriber
}

// Events emits this subscriber's stream in strictly increasing sequence
// order. Closed on detach.
func (h *DeliveryHandle) Events() <-chan domain.ChangeEvent { return h.sub.events }

// Resync is closed when events had to be dropped because the subscriber's
// queue was full; the transport should trigger a full state pull.
func (h *DeliveryHandle) Resync() <-chan struct{} { return h.sub.resync }

func (h *DeliveryHandle) SubscriberID() string { return h.sub.id }

func New(capacity, queueSize int, logger *zap.Logger) *Notifier {
	if capacity <= 0 {
		capacity = 256
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Notifier{
		ring:      make([]domain.ChangeEvent, 0, capacity),
		capacity:  capacity,
		queueSize: queueSize,
		subs:      make(map[string]*subscriber),
		logger:    logger,
	}
}

// Publish assigns the next global sequence, retains the event and enqueues it
// to every attached subscriber. Never blocks on slow subscribers: a full
// queue drops its oldest undelivered event and flags the subscriber for
// resync instead of back-pressuring the publisher.
func (n *Notifier) Publish(ev domain.ChangeEvent) domain.ChangeEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	ev.Sequence = n.seq

	if len(n.ring) == n.capacity {
		n.ring = n.ring[1:]
	}
	n.ring = append(n.ring, ev)

	for _, sub := range n.subs {
		n.enqueue(sub, ev)
	}
	return ev
}

// Attach registers a subscriber and replays retained events newer than
// lastKnown before any live event. Attaching with an id that is already
// registered replaces the old subscription.
func (n *Notifier) Attach(subscriberID string, lastKnown uint64) (*DeliveryHandle, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, errClosed
	}

	if lastKnown < n.seq {
		oldest := n.seq + 1
		if len(n.ring) > 0 {
			oldest = n.ring[0].Sequence
		}
		if lastKnown+1 < oldest {
			return nil, &ResyncRequiredError{LastKnown: lastKnown, OldestRetained: oldest, Current: n.seq}
		}
	}

	if old, ok := n.subs[subscriberID]; ok {
		old.close()
	}
	sub := &subscriber{
		id:            subscriberID,
		events:        make(chan domain.ChangeEvent, n.queueSize),
		resync:        make(chan struct{}),
		lastDelivered: lastKnown,
	}
	n.subs[subscriberID] = sub

	for _, ev := range n.ring {
		if ev.Sequence > lastKnown {
			n.enqueue(sub, ev)
		}
	}
	return &DeliveryHandle{sub: sub}, nil
}

// Detach removes the subscriber and closes its stream. In-flight deliveries
// are abandoned without error.
func (n *Notifier) Detach(subscriberID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if sub, ok := n.subs[subscriberID]; ok {
		delete(n.subs, subscriberID)
		sub.close()
	}
}

// CurrentSequence returns the last published sequence number.
func (n *Notifier) CurrentSequence() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.seq
}

// Close detaches all subscribers and rejects further attaches.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	for id, sub := range n.subs {
		delete(n.subs, id)
		sub.close()
	}
}

func (n *Notifier) enqueue(sub *subscriber, ev domain.ChangeEvent) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	for {
		select {
		case sub.events <- ev:
			sub.lastDelivered = ev.Sequence
			return
		default:
		}
		// Queue full: drop the oldest undelivered event and flag the
		// subscriber. Later events keep flowing, still in sequence order;
		// the gap is the subscriber's signal to pull full state.
		select {
		case dropped := <-sub.events:
			sub.flagResync()
			n.logger.Warn("dropped event for slow subscriber",
				zap.String("subscriber_id", sub.id),
				zap.Uint64("sequence", dropped.Sequence),
			)
		default:
		}
	}
}

func (s *subscriber) flagResync() {
	s.resyncOnce.Do(func() { close(s.resync) })
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}
