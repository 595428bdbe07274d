package utils

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestConcurrencyScriptsCompile(t *testing.T) {
	if concurrencyAcquireScript == nil || concurrencyReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestAcquireConcurrencyCap_RejectsBadArguments(t *testing.T) {
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	cases := []struct {
		name  string
		rdb   *redis.Client
		key   string
		limit int
		ttl   time.Duration
	}{
		{"nil client", nil, "k", 1, time.Second},
		{"empty key", rdb, "", 1, time.Second},
		{"zero limit", rdb, "k", 0, time.Second},
		{"zero ttl", rdb, "k", 1, 0},
	}
	for _, tc := range cases {
		if ok, err := AcquireConcurrencyCap(ctx, tc.rdb, tc.key, tc.limit, tc.ttl); err == nil || ok {
			t.Fatalf("%s: expected error, got ok=%v err=%v", tc.name, ok, err)
		}
	}
	if err := ReleaseConcurrencyCap(ctx, nil, "k"); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestRedisConfigDefaults(t *testing.T) {
	c := RedisConfig{MinIdleConns: -1}.withDefaults()
	if c.PoolSize != 20 || c.MinIdleConns != 0 || c.PingTimeout != 2*time.Second {
		t.Fatalf("unexpected defaults %+v", c)
	}
}
