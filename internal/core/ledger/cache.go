package ledger

import (
	"sort"
	"sync"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// Cache is the read-optimized projection of current stock. Writes only land
// if their version is higher than what is already cached, so a delayed
// fallback read can never clobber a newer committed mutation.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]domain.StockSnapshot
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]domain.StockSnapshot)}
}

func (c *Cache) Get(productID string) (domain.StockSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[productID]
	return e, ok
}

// Put replaces the cached entry only if e.Version is strictly higher than the
// existing one. Returns false on a stale write, which is a silent no-op by
// contract (last-writer-by-version-wins).
func (c *Cache) Put(e domain.StockSnapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[e.ProductID]; ok && e.Version <= cur.Version {
		return false
	}
	c.entries[e.ProductID] = e
	return true
}

// Snapshot returns all cached entries ordered by product id.
func (c *Cache) Snapshot() []domain.StockSnapshot {
	c.mu.RLock()
	out := make([]domain.StockSnapshot, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
