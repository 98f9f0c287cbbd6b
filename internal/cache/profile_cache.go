package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/laserpointoman-commits/talebEdu-sub002/internal/models"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

const DefaultProfileTTL = 5 * time.Minute

// KV is the slice of RedisCache the profile cache needs.
type KV interface {
	MGet(ctx context.Context, keys ...string) ([][]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// ProfileSource is the authoritative profile lookup being cached.
type ProfileSource interface {
	Profiles(ctx context.Context, ids []uint) (map[uint]models.Profile, error)
}

// ProfileCache answers batched profile lookups from Redis and fills misses
// from the source. Redis errors degrade to a direct source lookup.
type ProfileCache struct {
	kv     KV
	source ProfileSource
	ttl    time.Duration
	log    zerolog.Logger
}

func NewProfileCache(kv KV, source ProfileSource, ttl time.Duration, log zerolog.Logger) *ProfileCache {
	if ttl <= 0 {
		ttl = DefaultProfileTTL
	}
	return &ProfileCache{kv: kv, source: source, ttl: ttl, log: log}
}

func profileKey(id uint) string {
	return fmt.Sprintf("profile:%d", id)
}

func (pc *ProfileCache) Profiles(ctx context.Context, ids []uint) (map[uint]models.Profile, error) {
	if pc == nil || pc.kv == nil {
		return pc.source.Profiles(ctx, ids)
	}
	out := make(map[uint]models.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = profileKey(id)
	}
	vals, err := pc.kv.MGet(ctx, keys...)
	if err != nil {
		pc.log.Warn().Err(err).Msg("profile cache read failed")
		vals = nil
	}

	var misses []uint
	for i, id := range ids {
		if i < len(vals) && vals[i] != nil {
			var p models.Profile
			if err := msgpack.Unmarshal(vals[i], &p); err == nil {
				out[id] = p
				continue
			}
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return out, nil
	}

	fetched, err := pc.source.Profiles(ctx, misses)
	if err != nil {
		return nil, err
	}
	for id, p := range fetched {
		out[id] = p
		data, err := msgpack.Marshal(p)
		if err != nil {
			continue
		}
		if err := pc.kv.Set(ctx, profileKey(id), data, pc.ttl); err != nil {
			pc.log.Warn().Err(err).Uint("user_id", id).Msg("profile cache write failed")
		}
	}
	return out, nil
}

