package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestSetNXAcquireAndRelease(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := NewWithStore(mock)

	key := client.LockKey("order-completion")
	acquired, err := client.SetNX(ctx, key, "1", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acquired {
		t.Fatalf("expected first acquire to succeed")
	}

	acquired, err = client.SetNX(ctx, key, "1", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acquired {
		t.Fatalf("expected second acquire to fail while held")
	}

	if err := client.Del(ctx, key); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	acquired, err = client.SetNX(ctx, key, "1", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acquired {
		t.Fatalf("expected acquire to succeed after release")
	}
}

func TestGetSetDel(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := NewWithStore(mock)

	if err := client.Set(ctx, "k", "v", 10*time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, err := client.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != "v" {
		t.Fatalf("expected stored value, got %q", got)
	}

	if err := client.Del(ctx, "k"); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if _, err := client.Get(ctx, "k"); err == nil || err != redis.Nil {
		t.Fatalf("expected redis.Nil after delete, got %v", err)
	}
}

func TestLockKey(t *testing.T) {
	client := &Client{}
	if got := client.LockKey("voucher-window"); got != "marketa:lock:voucher-window" {
		t.Fatalf("unexpected lock key %s", got)
	}
	if got := client.LockKey(""); got != "marketa:lock" {
		t.Fatalf("empty parts should be skipped, got %s", got)
	}
}

func TestUninitializedClient(t *testing.T) {
	ctx := context.Background()
	client := &Client{}

	if err := client.Ping(ctx); err == nil {
		t.Fatalf("expected error from uninitialized client")
	}
	if _, err := client.SetNX(ctx, "k", "v", time.Second); err == nil {
		t.Fatalf("expected error from uninitialized client")
	}
}

type mockCmdable struct {
	data map[string]string
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data: make(map[string]string),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}
