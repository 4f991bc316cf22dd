package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

func newTestSerializer(abandonAfter time.Duration) *Serializer {
	return NewSerializer(abandonAfter, zap.NewNop())
}

func waitersFor(t *testing.T, s *Serializer, productID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		n := 0
		if sl, ok := s.slots[productID]; ok {
			n = len(sl.waiters)
		}
		s.mu.Unlock()
		if n == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("never saw %d waiters for %s", want, productID)
}

func TestAcquire_Uncontended(t *testing.T) {
	s := newTestSerializer(time.Minute)

	lease, err := s.Acquire(context.Background(), "item-1")
	require.NoError(t, err)
	require.NoError(t, lease.Release())

	assert.Equal(t, 0, s.slotCount(), "slot should be garbage collected after release")
}

func TestAcquire_FIFO(t *testing.T) {
	s := newTestSerializer(time.Minute)

	holder, err := s.Acquire(context.Background(), "item-1")
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			lease, err := s.Acquire(context.Background(), "item-1")
			if err != nil {
				t.Errorf("waiter %d: %v", id, err)
				return
			}
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			if err := lease.Release(); err != nil {
				t.Errorf("waiter %d release: %v", id, err)
			}
		}(i)
		waitersFor(t, s, "item-1", i+1)
	}

	require.NoError(t, holder.Release())
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order, "waiters must be granted in arrival order")
	assert.Equal(t, 0, s.slotCount())
}

func TestAcquire_IndependentProducts(t *testing.T) {
	s := newTestSerializer(time.Minute)

	leaseA, err := s.Acquire(context.Background(), "item-a")
	require.NoError(t, err)

	// A held lease on one product must not delay another product.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	leaseB, err := s.Acquire(ctx, "item-b")
	require.NoError(t, err)

	require.NoError(t, leaseB.Release())
	require.NoError(t, leaseA.Release())
}

func TestAcquire_ContextDeadline(t *testing.T) {
	s := newTestSerializer(time.Minute)

	holder, err := s.Acquire(context.Background(), "item-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.Acquire(ctx, "item-1")
	assert.ErrorIs(t, err, domain.ErrTimeout)

	require.NoError(t, holder.Release())
	assert.Equal(t, 0, s.slotCount(), "cancelled waiter must not leak its slot")
}

func TestRelease_Twice(t *testing.T) {
	s := newTestSerializer(time.Minute)

	lease, err := s.Acquire(context.Background(), "item-1")
	require.NoError(t, err)
	require.NoError(t, lease.Release())

	assert.ErrorIs(t, lease.Release(), ErrDoubleRelease)
}

func TestAcquire_AbandonedHolderForceReleased(t *testing.T) {
	s := newTestSerializer(50 * time.Millisecond)

	abandoned, err := s.Acquire(context.Background(), "item-1")
	require.NoError(t, err)

	// The holder never releases; the waiter must get the lease once the
	// abandon timeout passes.
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	lease, err := s.Acquire(ctx, "item-1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// The abandoned holder's release reports the fault instead of touching
	// the new holder's lease.
	assert.ErrorIs(t, abandoned.Release(), domain.ErrLockAbandoned)

	require.NoError(t, lease.Release())
	assert.Equal(t, 0, s.slotCount())
}
