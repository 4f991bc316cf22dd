package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// ErrDoubleRelease reports a lease released twice, which is a programming
// error on the caller's side.
var ErrDoubleRelease = errors.New("lease released twice")

// Serializer grants at most one in-flight lease per product while unrelated
// products proceed in parallel. Waiters are granted in FIFO order. Slots are
// created lazily and removed once nobody holds or waits on them, so the table
// stays bounded for catalogs with many rarely-touched products.
type Serializer struct {
	mu           sync.Mutex
	slots        map[string]*slot
	abandonAfter time.Duration
	logger       *zap.Logger
}

type slot struct {
	gen        uint64 // bumped on every grant and on force-release
	held       bool
	acquiredAt time.Time
	waiters    []*waiter // FIFO
	refs       int       // holder + waiters
}

type waiter struct {
	ready chan uint64 // receives the granted generation
}

// Lease is an exclusive-execution token for one product.
type Lease struct {
	productID string
	gen       uint64
	s         *Serializer
	released  bool // guarded by s.mu
}

func NewSerializer(abandonAfter time.Duration, logger *zap.Logger) *Serializer {
	if abandonAfter <= 0 {
		abandonAfter = 10 * time.Second
	}
	return &Serializer{
		slots:        make(map[string]*slot),
		abandonAfter: abandonAfter,
		logger:       logger,
	}
}

// Acquire blocks until any prior lease for productID is released, the context
// expires (domain.ErrTimeout), or the current holder is deemed abandoned and
// force-released.
func (s *Serializer) Acquire(ctx context.Context, productID string) (*Lease, error) {
	s.mu.Lock()
	sl, ok := s.slots[productID]
	if !ok {
		sl = &slot{}
		s.slots[productID] = sl
	}
	sl.refs++
	if !sl.held {
		sl.held = true
		sl.gen++
		sl.acquiredAt = time.Now()
		lease := &Lease{productID: productID, gen: sl.gen, s: s}
		s.mu.Unlock()
		return lease, nil
	}
	w := &waiter{ready: make(chan uint64, 1)}
	sl.waiters = append(sl.waiters, w)
	deadline := sl.acquiredAt.Add(s.abandonAfter)
	s.mu.Unlock()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	for {
		select {
		case gen := <-w.ready:
			return &Lease{productID: productID, gen: gen, s: s}, nil
		case <-ctx.Done():
			s.cancelWait(productID, w)
			// Grant may have raced the cancellation; prefer the grant.
			select {
			case gen := <-w.ready:
				return &Lease{productID: productID, gen: gen, s: s}, nil
			default:
			}
			return nil, fmt.Errorf("%w: %s", domain.ErrTimeout, productID)
		case <-timer.C:
			next := s.reapAbandoned(productID)
			timer.Reset(time.Until(next))
		}
	}
}

// Release hands the slot to the next FIFO waiter, or frees it. Releasing an
// already-released lease returns ErrDoubleRelease; releasing a lease that was
// force-released underneath its holder returns domain.ErrLockAbandoned.
func (l *Lease) Release() error {
	s := l.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if l.released {
		return fmt.Errorf("%w: product %s", ErrDoubleRelease, l.productID)
	}
	l.released = true

	sl, ok := s.slots[l.productID]
	if !ok {
		return fmt.Errorf("%w: product %s", domain.ErrLockAbandoned, l.productID)
	}
	sl.refs--
	if sl.gen != l.gen {
		// A reaper already moved the slot on; the store transaction's own
		// outcome remains authoritative for what actually committed.
		s.gcLocked(l.productID, sl)
		return fmt.Errorf("%w: product %s", domain.ErrLockAbandoned, l.productID)
	}
	s.grantNextLocked(sl)
	s.gcLocked(l.productID, sl)
	return nil
}

// ProductID identifies the product this lease serializes.
func (l *Lease) ProductID() string { return l.productID }

// reapAbandoned force-releases the current holder if it has overstayed
// abandonAfter, then reports the next holder deadline for the caller's timer.
func (s *Serializer) reapAbandoned(productID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[productID]
	if !ok || !sl.held {
		return time.Now().Add(s.abandonAfter)
	}
	if time.Since(sl.acquiredAt) >= s.abandonAfter {
		s.logger.Warn("force-releasing abandoned product lease",
			zap.String("product_id", productID),
			zap.Duration("held_for", time.Since(sl.acquiredAt)),
		)
		sl.gen++ // invalidate the abandoned holder's lease
		s.grantNextLocked(sl)
	}
	return sl.acquiredAt.Add(s.abandonAfter)
}

func (s *Serializer) cancelWait(productID string, w *waiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[productID]
	if !ok {
		return
	}
	for i, cand := range sl.waiters {
		if cand == w {
			sl.waiters = append(sl.waiters[:i], sl.waiters[i+1:]...)
			sl.refs--
			s.gcLocked(productID, sl)
			return
		}
	}
	// Not in the queue: already granted. Acquire drains the grant and the
	// lease will be released by the caller as usual.
}

// grantNextLocked hands the slot to the oldest waiter, or marks it free.
func (s *Serializer) grantNextLocked(sl *slot) {
	if len(sl.waiters) == 0 {
		sl.held = false
		return
	}
	next := sl.waiters[0]
	sl.waiters = sl.waiters[1:]
	sl.gen++
	sl.held = true
	sl.acquiredAt = time.Now()
	next.ready <- sl.gen
}

func (s *Serializer) gcLocked(productID string, sl *slot) {
	if !sl.held && len(sl.waiters) == 0 && sl.refs <= 0 {
		delete(s.slots, productID)
	}
}

func (s *Serializer) slotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}
