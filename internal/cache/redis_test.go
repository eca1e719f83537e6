// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// setupMiniRedis creates a test Redis server using miniredis.
func setupMiniRedis(t *testing.T, prefix string) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cache := &RedisCache{
		client: client,
		prefix: prefix,
		logger: zerolog.Nop(),
	}

	return mr, cache
}

func TestRedisCacheSetGet(t *testing.T) {
	mr, cache := setupMiniRedis(t, "fird:test")
	defer mr.Close()

	cache.Set("kb-query", "cached-hits", 5*time.Minute)

	val, found := cache.Get("kb-query")
	if !found {
		t.Fatal("expected value to be found")
	}
	if val != "cached-hits" {
		t.Errorf("expected 'cached-hits', got %v", val)
	}

	stats := cache.Stats()
	if stats.Sets != 1 {
		t.Errorf("expected 1 set, got %d", stats.Sets)
	}
	if stats.Hits != 1 {
		t.Errorf("expected 1 hit, got %d", stats.Hits)
	}
}

func TestRedisCachePrefixIsolation(t *testing.T) {
	mr, cache := setupMiniRedis(t, "fird:kb")
	defer mr.Close()

	cache.Set("q1", "hits", time.Minute)

	if !mr.Exists("fird:kb:q1") {
		t.Error("expected key to be stored under the configured prefix")
	}
	if mr.Exists("q1") {
		t.Error("unprefixed key must not exist")
	}
}

func TestRedisCacheGetMissing(t *testing.T) {
	mr, cache := setupMiniRedis(t, "")
	defer mr.Close()

	val, found := cache.Get("nonexistent")
	if found {
		t.Error("expected value to not be found")
	}
	if val != nil {
		t.Errorf("expected nil value, got %v", val)
	}
	if stats := cache.Stats(); stats.Misses != 1 {
		t.Errorf("expected 1 miss, got %d", stats.Misses)
	}
}

func TestRedisCacheTTL(t *testing.T) {
	mr, cache := setupMiniRedis(t, "")
	defer mr.Close()

	cache.Set("ephemeral", "v", 30*time.Second)

	// miniredis exposes TTL for verification without sleeping.
	mr.FastForward(time.Minute)

	if _, found := cache.Get("ephemeral"); found {
		t.Error("expected entry to expire after TTL")
	}
}

func TestRedisCacheDelete(t *testing.T) {
	mr, cache := setupMiniRedis(t, "fird:test")
	defer mr.Close()

	cache.Set("k", "v", time.Minute)
	cache.Delete("k")

	if _, found := cache.Get("k"); found {
		t.Error("expected key to be deleted")
	}
}

func TestRedisCacheHealthCheck(t *testing.T) {
	mr, cache := setupMiniRedis(t, "")

	if err := cache.HealthCheck(context.Background()); err != nil {
		t.Errorf("healthy server reported error: %v", err)
	}

	mr.Close()

	if err := cache.HealthCheck(context.Background()); err == nil {
		t.Error("expected health check failure after server close")
	}
}
