package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/syntaxvpn/vpnpool/internal/config"
)

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 10, 0, 5, 0, time.UTC)

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "k", 3, time.Minute, base.Add(time.Duration(i)*time.Second))
		if err != nil || !res.Allowed {
			t.Fatalf("request %d should pass: %+v %v", i, res, err)
		}
		if res.Remaining != 2-i {
			t.Fatalf("request %d: expected remaining %d, got %d", i, 2-i, res.Remaining)
		}
	}
	res, _ := l.Allow(ctx, "k", 3, time.Minute, base.Add(10*time.Second))
	if res.Allowed {
		t.Fatalf("fourth request in window must be rejected")
	}
	if want := time.Date(2025, 1, 1, 10, 1, 0, 0, time.UTC); !res.Reset.Equal(want) {
		t.Fatalf("expected reset %v, got %v", want, res.Reset)
	}
	other, _ := l.Allow(ctx, "other", 3, time.Minute, base)
	if !other.Allowed {
		t.Fatalf("keys must be independent")
	}
	next, _ := l.Allow(ctx, "k", 3, time.Minute, base.Add(time.Minute))
	if !next.Allowed {
		t.Fatalf("next window must reset the counter")
	}
}

func TestManager_DisabledLimit(t *testing.T) {
	m := NewManager(Static(Settings{Limit: 0}), nil, nil)
	for i := 0; i < 100; i++ {
		res, err := m.Allow(context.Background(), "k")
		if err != nil || !res.Allowed {
			t.Fatalf("limit 0 must allow everything")
		}
	}
}

func TestManager_RedisFallsBackToMemory(t *testing.T) {
	settings := FromConfig(config.RateLimitConfig{
		Limit:  1,
		Window: time.Minute,
		Redis:  config.RedisConfig{Enabled: true, Addr: "127.0.0.1:1"},
	})
	if settings.RedisPrefix != DefaultRedisPrefix {
		t.Fatalf("expected default prefix, got %q", settings.RedisPrefix)
	}
	created := 0
	factory := func(opts *redis.Options) *redis.Client {
		created++
		opts.DialTimeout = 100 * time.Millisecond
		return redis.NewClient(opts)
	}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManager(Static(settings), func() time.Time { return now }, factory)
	defer func() { _ = m.Close() }()

	first, err := m.Allow(context.Background(), KeyForIdentifier("abc"))
	if err != nil || !first.Allowed {
		t.Fatalf("first request should pass via memory fallback: %+v %v", first, err)
	}
	second, _ := m.Allow(context.Background(), KeyForIdentifier("abc"))
	if second.Allowed {
		t.Fatalf("second request should be limited by memory fallback")
	}
	if created != 1 {
		t.Fatalf("breaker should prevent reconnect attempts, got %d clients", created)
	}
}

func TestFromConfig_DisablesRedisWithoutAddr(t *testing.T) {
	s := FromConfig(config.RateLimitConfig{Limit: -1, Redis: config.RedisConfig{Enabled: true}})
	if s.RedisEnabled || s.Limit != 0 || s.Window != time.Minute {
		t.Fatalf("unexpected settings %+v", s)
	}
}

func TestKeys(t *testing.T) {
	if KeyForIdentifier(" ") != "" || KeyForAddr("") != "" {
		t.Fatalf("empty inputs must yield empty keys")
	}
	if KeyForIdentifier("u-1") != "sub:u-1" || KeyForAddr("1.2.3.4") != "ip:1.2.3.4" {
		t.Fatalf("unexpected key format")
	}
}
