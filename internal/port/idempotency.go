package port

import "context"

type IdempotencyGuard interface {
	// FirstUse records key and returns false if it was already recorded.
	FirstUse(ctx context.Context, key string) (bool, error)
}
