package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

func TestMemoryProviderSetNXAndExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryProvider()
	c.now = func() time.Time { return now }

	ok, err := c.SetNX(ctx, "notify:a", []byte("1"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first SetNX to win, got %v %v", ok, err)
	}
	if ok, _ := c.SetNX(ctx, "notify:a", []byte("2"), time.Minute); ok {
		t.Fatalf("expected second SetNX to lose")
	}
	if v, err := c.Get(ctx, "notify:a"); err != nil || string(v) != "1" {
		t.Fatalf("expected original value, got %q %v", v, err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := c.Get(ctx, "notify:a"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after expiry, got %v", err)
	}
	if ok, _ := c.SetNX(ctx, "notify:a", []byte("3"), 0); !ok {
		t.Fatalf("expected SetNX to succeed after expiry")
	}

	if err := c.Del(ctx, "notify:a"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, err := c.Get(ctx, "notify:a"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after delete")
	}
}

func TestMemoryProviderCopiesValues(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryProvider()
	buf := []byte("abc")
	_ = c.Set(ctx, "k", buf, 0)
	buf[0] = 'x'
	got, _ := c.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("expected stored copy, got %q", got)
	}
}

func TestNoopProvider(t *testing.T) {
	var p Provider = NoopProvider{}
	if _, err := p.Get(context.Background(), "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss from noop provider")
	}
	if ok, _ := p.SetNX(context.Background(), "k", nil, 0); !ok {
		t.Fatalf("expected noop SetNX to report success")
	}
}

func TestValkeyProviderRequiresAddr(t *testing.T) {
	if _, err := NewValkeyProvider(ValkeyConfig{}); !errors.Is(err, utils.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestValkeyProviderUnreachable(t *testing.T) {
	_, err := NewValkeyProvider(ValkeyConfig{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
	if !errors.Is(err, utils.ErrTransientIO) {
		t.Fatalf("expected transient io error, got %v", err)
	}
}

func TestMemoryProviderSweepsUnreadExpiredKeys(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryProvider()
	c.now = func() time.Time { return now }

	for i := 0; i < 10000; i++ {
		if ok, err := c.SetNX(ctx, fmt.Sprintf("notify:%d", i), []byte("1"), time.Hour); err != nil || !ok {
			t.Fatalf("lease %d: %v %v", i, ok, err)
		}
		if i%100 == 0 {
			now = now.Add(time.Second)
		}
	}
	if n := len(c.data); n != 10000 {
		t.Fatalf("expected live leases kept, got %d", n)
	}

	now = now.Add(48 * time.Hour)
	_ = c.Set(ctx, "explain:k", []byte("x"), 0)
	if n := len(c.data); n != 1 {
		t.Fatalf("expected expired leases swept, %d entries held", n)
	}
	if v, err := c.Get(ctx, "explain:k"); err != nil || string(v) != "x" {
		t.Fatalf("expected unexpiring entry to survive sweep, got %q %v", v, err)
	}
}
