package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/annel0/mmo-world/internal/vec"
	"github.com/go-redis/redis/v8"
)

// RedisChunkCache — сквозной кэш блобов чанков перед любым WorldRepo.
// Снижает нагрузку на базу при повторной гидрации часто посещаемых
// чанков. Все прочие операции делегируются как есть; флаг loaded
// всегда проходит до нижележащего репозитория.
type RedisChunkCache struct {
	WorldRepo
	client *redis.Client
	ttl    time.Duration
}

// NewRedisChunkCache оборачивает репозиторий кэшем.
func NewRedisChunkCache(inner WorldRepo, addr string, ttl time.Duration) (*RedisChunkCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("не удалось подключиться к Redis: %w", err)
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisChunkCache{WorldRepo: inner, client: client, ttl: ttl}, nil
}

func chunkCacheKey(worldID string, cid vec.ChunkID) string {
	return fmt.Sprintf("mmo:chunk:%s:%016x", worldID, uint64(cid))
}

// SaveChunk пишет в репозиторий и обновляет кэш.
func (c *RedisChunkCache) SaveChunk(ctx context.Context, worldID string, cid vec.ChunkID, blob []byte, loaded bool) error {
	if err := c.WorldRepo.SaveChunk(ctx, worldID, cid, blob, loaded); err != nil {
		return err
	}
	// Ошибка кэша не фатальна: база уже консистентна
	c.client.Set(ctx, chunkCacheKey(worldID, cid), blob, c.ttl)
	return nil
}

// LoadChunkBlob сначала спрашивает кэш; при промахе читает репозиторий
// и заполняет кэш.
func (c *RedisChunkCache) LoadChunkBlob(ctx context.Context, worldID string, cid vec.ChunkID) ([]byte, bool, error) {
	cached, err := c.client.Get(ctx, chunkCacheKey(worldID, cid)).Bytes()
	if err == nil {
		return cached, true, nil
	}
	if err != redis.Nil {
		// Недоступный Redis деградирует до прямого чтения
		return c.WorldRepo.LoadChunkBlob(ctx, worldID, cid)
	}

	blob, ok, err := c.WorldRepo.LoadChunkBlob(ctx, worldID, cid)
	if err != nil || !ok {
		return blob, ok, err
	}
	c.client.Set(ctx, chunkCacheKey(worldID, cid), blob, c.ttl)
	return blob, true, nil
}

// DeleteWorld сбрасывает кэш мира вместе с данными.
func (c *RedisChunkCache) DeleteWorld(ctx context.Context, worldID string) error {
	if err := c.WorldRepo.DeleteWorld(ctx, worldID); err != nil {
		return err
	}
	iter := c.client.Scan(ctx, 0, fmt.Sprintf("mmo:chunk:%s:*", worldID), 0).Iterator()
	for iter.Next(ctx) {
		c.client.Del(ctx, iter.Val())
	}
	return nil
}

// Close закрывает клиент Redis и нижележащий репозиторий.
func (c *RedisChunkCache) Close() error {
	c.client.Close()
	return c.WorldRepo.Close()
}
