package storage

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	return client
}

func TestFirstUse(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	guard := NewRedisAdapter(client)
	key := fmt.Sprintf("test-%d", time.Now().UnixNano())
	defer client.Del(ctx, "corr:"+key)

	first, err := guard.FirstUse(ctx, key)
	if err != nil {
		t.Fatalf("FirstUse failed: %v", err)
	}
	if !first {
		t.Error("expected first use to claim the key")
	}

	second, err := guard.FirstUse(ctx, key)
	if err != nil {
		t.Fatalf("FirstUse failed: %v", err)
	}
	if second {
		t.Error("expected repeated use to be rejected")
	}
}

func TestFirstUse_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	guard := NewRedisAdapter(client)
	key := fmt.Sprintf("test-race-%d", time.Now().UnixNano())
	defer client.Del(ctx, "corr:"+key)

	const attempts = 20
	var wg sync.WaitGroup
	results := make(chan bool, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first, err := guard.FirstUse(ctx, key)
			if err != nil {
				t.Errorf("FirstUse failed: %v", err)
				return
			}
			results <- first
		}()
	}
	wg.Wait()
	close(results)

	claimed := 0
	for first := range results {
		if first {
			claimed++
		}
	}
	if claimed != 1 {
		t.Errorf("expected exactly 1 claim, got %d", claimed)
	}
}
