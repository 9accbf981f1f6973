package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/redis/go-redis/v9"

	"github.com/zonestack/server/internal/config"
	"github.com/zonestack/server/internal/zones"
)

type countingObserver map[string]int

func (o countingObserver) ObserveCache(result string) { o[result]++ }

func TestDisabledCache(t *testing.T) {
	ctx := context.Background()
	c := NewStackCache(nil, 0, nil)

	if c.Enabled() {
		t.Fatal("Expected cache without client to be disabled")
	}
	if c.ttl != DefaultTTL {
		t.Errorf("Expected default TTL, got %v", c.ttl)
	}
	if err := c.Ping(ctx); err != nil {
		t.Errorf("Ping on disabled cache: %v", err)
	}
	if err := c.Put(ctx, &zones.Document{ID: "s1"}); err != nil {
		t.Errorf("Put on disabled cache: %v", err)
	}
	doc, found, err := c.Get(ctx, "s1")
	if err != nil || found || doc != nil {
		t.Errorf("Expected miss from disabled cache, got %v %v %v", doc, found, err)
	}
	if err := c.Invalidate(ctx, "s1"); err != nil {
		t.Errorf("Invalidate on disabled cache: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close on disabled cache: %v", err)
	}

	var nilCache *StackCache
	if nilCache.Enabled() {
		t.Error("nil cache should report disabled")
	}
}

func TestOpenRedis(t *testing.T) {
	if client := OpenRedis(&config.RedisConfig{}); client != nil {
		t.Error("Expected nil client without a host")
	}
	client := OpenRedis(&config.RedisConfig{Host: "127.0.0.1", Port: "6390", DB: 2})
	if client == nil {
		t.Fatal("Expected client when host is set")
	}
	defer client.Close()
	if opts := client.Options(); opts.Addr != "127.0.0.1:6390" || opts.DB != 2 {
		t.Errorf("Unexpected options: addr=%s db=%d", opts.Addr, opts.DB)
	}
}

func TestKey(t *testing.T) {
	if got := Key("abc"); got != "stack:abc" {
		t.Errorf("Key = %q, want stack:abc", got)
	}
}

// TestStackCacheRedis runs against a live Redis when REDIS_HOST is set.
func TestStackCacheRedis(t *testing.T) {
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		t.Skip("REDIS_HOST not set")
	}
	port := os.Getenv("REDIS_PORT")
	if port == "" {
		port = "6379"
	}
	client := redis.NewClient(&redis.Options{Addr: host + ":" + port, Password: os.Getenv("REDIS_PASS")})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not reachable: %v", err)
	}

	obs := countingObserver{}
	c := NewStackCache(client, time.Minute, obs)
	defer c.Close()

	id := "cache-test-" + time.Now().Format("150405.000000")
	doc := &zones.Document{
		ID:     id,
		Name:   "Cached",
		Anchor: orb.Point{1, 2},
		Zones: []zones.ZoneDocument{{
			ID:   "z0",
			Ring: orb.Ring{{1, 2}, {1.001, 2}, {1.001, 2.001}, {1, 2}},
		}},
	}

	if _, found, err := c.Get(ctx, id); err != nil || found {
		t.Fatalf("Expected initial miss, got found=%v err=%v", found, err)
	}
	if err := c.Put(ctx, doc); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, found, err := c.Get(ctx, id)
	if err != nil || !found {
		t.Fatalf("Expected hit, got found=%v err=%v", found, err)
	}
	if got.Name != "Cached" || len(got.Zones) != 1 || got.Anchor != doc.Anchor {
		t.Errorf("Unexpected cached document: %+v", got)
	}

	if err := c.Invalidate(ctx, id); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, found, _ := c.Get(ctx, id); found {
		t.Error("Expected miss after invalidation")
	}

	if err := client.Set(ctx, Key(id), "not json", time.Minute).Err(); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, found, err := c.Get(ctx, id); found || err != nil {
		t.Errorf("Expected unreadable entry to be discarded, got found=%v err=%v", found, err)
	}

	if obs["hit"] != 1 || obs["miss"] != 2 {
		t.Errorf("Unexpected observations: %v", obs)
	}
}

func TestTokenDenylistRedis(t *testing.T) {
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		t.Skip("REDIS_HOST not set")
	}
	port := os.Getenv("REDIS_PORT")
	if port == "" {
		port = "6379"
	}
	client := redis.NewClient(&redis.Options{Addr: host + ":" + port, Password: os.Getenv("REDIS_PASS")})
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not reachable: %v", err)
	}

	denylist := NewTokenDenylist(client)
	id := "jti-" + time.Now().Format("150405.000000")
	defer client.Del(ctx, revokedPrefix+id)

	if err := denylist.Revoke(ctx, id, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if revoked, err := denylist.IsRevoked(ctx, id); err != nil || !revoked {
		t.Errorf("Expected %s revoked, got %v %v", id, revoked, err)
	}
	if revoked, err := denylist.IsRevoked(ctx, id+"-other"); err != nil || revoked {
		t.Errorf("Expected unknown token not revoked, got %v %v", revoked, err)
	}
	if err := denylist.Revoke(ctx, id+"-expired", time.Now().Add(-time.Minute)); err != nil {
		t.Errorf("Revoke of an expired token should be a no-op: %v", err)
	}
}
