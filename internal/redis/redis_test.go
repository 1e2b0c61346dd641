package redis

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"findash/internal/config"
)

func TestNewRedisClientDisabledWithoutAddr(t *testing.T) {
	client, err := NewRedisClient(context.Background(), config.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client != nil {
		t.Fatalf("expected nil client when redis is not configured")
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close on nil client: %v", err)
	}
	if _, err := client.Get(context.Background(), "k"); err == nil {
		t.Fatalf("expected error from nil client")
	}
}

func TestClientJSONAndCompareAndDelete(t *testing.T) {
	client := newTestClient(t, "test:json", "test:missing", "test:lock")
	ctx := context.Background()

	type payload struct {
		Count int `json:"count"`
	}
	if err := client.SetJSON(ctx, "test:json", payload{Count: 3}, time.Minute); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	var got payload
	if err := client.GetJSON(ctx, "test:json", &got); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if got.Count != 3 {
		t.Fatalf("expected count 3, got %d", got.Count)
	}
	if err := client.GetJSON(ctx, "test:missing", &got); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected cache miss, got %v", err)
	}

	ok, err := client.SetNX(ctx, "test:lock", "owner-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("SetNX first: ok=%v err=%v", ok, err)
	}
	ok, err = client.SetNX(ctx, "test:lock", "owner-b", time.Minute)
	if err != nil || ok {
		t.Fatalf("SetNX second should fail: ok=%v err=%v", ok, err)
	}
	deleted, err := client.DelIfEquals(ctx, "test:lock", "owner-b")
	if err != nil || deleted {
		t.Fatalf("foreign owner must not delete: deleted=%v err=%v", deleted, err)
	}
	deleted, err = client.DelIfEquals(ctx, "test:lock", "owner-a")
	if err != nil || !deleted {
		t.Fatalf("owner delete failed: deleted=%v err=%v", deleted, err)
	}

	if err := client.Del(ctx, "test:json"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if err := client.GetJSON(ctx, "test:json", &got); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected cache miss after Del, got %v", err)
	}
}

// newTestClient connects to TEST_REDIS_ADDR and clears keys before and after the test.
func newTestClient(t *testing.T, keys ...string) *Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed tests")
	}
	cfg := config.Default()
	cfg.Redis.Addr = addr
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = parsed
		}
	}
	client, err := NewRedisClient(context.Background(), cfg)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Del(ctx, keys...); err != nil {
		t.Fatalf("clear keys: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Del(context.Background(), keys...)
		client.Close()
	})
	return client
}
