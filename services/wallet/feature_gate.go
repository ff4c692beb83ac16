package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// FlagCache guarda o resultado da avaliação da feature por (slug, usuário)
type FlagCache interface {
	// Get retorna found=false quando não há valor em cache
	Get(ctx context.Context, key string) (enabled bool, found bool, err error)
	Set(ctx context.Context, key string, enabled bool, ttl time.Duration) error
}

// RedisFlagCache implementa FlagCache em Redis
type RedisFlagCache struct {
	client *redis.Client
	prefix string
}

func NewRedisFlagCache(client *redis.Client) *RedisFlagCache {
	return &RedisFlagCache{client: client, prefix: "wallet:feature:"}
}

func (c *RedisFlagCache) Get(ctx context.Context, key string) (bool, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return val == "1", true, nil
}

func (c *RedisFlagCache) Set(ctx context.Context, key string, enabled bool, ttl time.Duration) error {
	val := "0"
	if enabled {
		val = "1"
	}
	return c.client.Set(ctx, c.prefix+key, val, ttl).Err()
}

// FeatureGate decide se a caixinha está ativa para a loja/usuário
type FeatureGate struct {
	flags FeatureFlagRepository
	cache FlagCache
	ttl   time.Duration
}

// NewFeatureGate cria o gate; cache pode ser nil
func NewFeatureGate(flags FeatureFlagRepository, cache FlagCache, ttl time.Duration) *FeatureGate {
	return &FeatureGate{flags: flags, cache: cache, ttl: ttl}
}

// IsEnabled nunca falha: qualquer erro de leitura resulta em desativado
func (g *FeatureGate) IsEnabled(ctx context.Context, slug, userID string) bool {
	if slug == "" {
		return false
	}

	key := fmt.Sprintf("%s:%s", slug, userID)
	if g.cache != nil {
		enabled, found, err := g.cache.Get(ctx, key)
		if err != nil {
			log.Printf("⚠️ [FEATURE] Cache indisponível | Key=%s | Error=%v", key, err)
		} else if found {
			return enabled
		}
	}

	flags, err := g.flags.GetFeatureFlags(ctx, slug, userID)
	if err != nil {
		log.Printf("❌ [FEATURE] Falha ao ler opção, caixinha desativada | Slug=%s | UserID=%s | Error=%v", slug, userID, err)
		return false
	}

	enabled := resolveFlag(flags, userID)

	if g.cache != nil && g.ttl > 0 {
		if err := g.cache.Set(ctx, key, enabled, g.ttl); err != nil {
			log.Printf("⚠️ [FEATURE] Falha ao gravar cache | Key=%s | Error=%v", key, err)
		}
	}
	return enabled
}

// resolveFlag aplica a precedência: linha do usuário > linha da loja > desativado
func resolveFlag(flags []FeatureFlag, userID string) bool {
	enabled := false
	for _, f := range flags {
		if userID != "" && f.UserID == userID {
			return f.Enabled
		}
		if f.UserID == "" {
			enabled = f.Enabled
		}
	}
	return enabled
}
