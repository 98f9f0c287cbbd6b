package cache

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/laserpointoman-commits/talebEdu-sub002/internal/models"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

type mapKV struct {
	data    map[string][]byte
	ttls    map[string]time.Duration
	readErr error
}

func newMapKV() *mapKV {
	return &mapKV{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *mapKV) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = m.data[k]
	}
	return out, nil
}

func (m *mapKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

type countingSource struct {
	profiles map[uint]models.Profile
	asked    [][]uint
	err      error
}

func (s *countingSource) Profiles(ctx context.Context, ids []uint) (map[uint]models.Profile, error) {
	sorted := append([]uint(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	s.asked = append(s.asked, sorted)
	if s.err != nil {
		return nil, s.err
	}
	out := map[uint]models.Profile{}
	for _, id := range ids {
		if p, ok := s.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func newSource() *countingSource {
	return &countingSource{profiles: map[uint]models.Profile{
		1: {ID: 1, DisplayName: "Alice"},
		2: {ID: 2, DisplayName: "Bob"},
	}}
}

func TestProfileCacheFillsMissesOnce(t *testing.T) {
	kv := newMapKV()
	src := newSource()
	pc := NewProfileCache(kv, src, time.Minute, zerolog.Nop())
	ctx := context.Background()

	got, err := pc.Profiles(ctx, []uint{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[2].DisplayName != "Bob" {
		t.Fatalf("profiles = %+v", got)
	}
	if kv.ttls["profile:1"] != time.Minute {
		t.Errorf("ttl = %v", kv.ttls["profile:1"])
	}

	got, err = pc.Profiles(ctx, []uint{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("cached profiles = %+v", got)
	}
	if len(src.asked) != 2 || len(src.asked[1]) != 1 || src.asked[1][0] != 3 {
		t.Errorf("source calls = %v, want second call only for the unknown id", src.asked)
	}
}

func TestProfileCacheIgnoresCorruptEntries(t *testing.T) {
	kv := newMapKV()
	kv.data["profile:1"] = []byte{0xc1}
	src := newSource()
	pc := NewProfileCache(kv, src, 0, zerolog.Nop())

	got, err := pc.Profiles(context.Background(), []uint{1})
	if err != nil {
		t.Fatal(err)
	}
	if got[1].DisplayName != "Alice" {
		t.Errorf("profile = %+v", got[1])
	}
	var stored models.Profile
	if err := msgpack.Unmarshal(kv.data["profile:1"], &stored); err != nil || stored.DisplayName != "Alice" {
		t.Errorf("entry not repaired: %v %+v", err, stored)
	}
	if kv.ttls["profile:1"] != DefaultProfileTTL {
		t.Errorf("ttl = %v", kv.ttls["profile:1"])
	}
}

func TestProfileCacheDegradesWhenRedisFails(t *testing.T) {
	kv := newMapKV()
	kv.readErr = errors.New("connection refused")
	src := newSource()
	pc := NewProfileCache(kv, src, time.Minute, zerolog.Nop())

	got, err := pc.Profiles(context.Background(), []uint{1, 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("profiles = %+v", got)
	}
}

func TestProfileCacheSourceError(t *testing.T) {
	src := newSource()
	src.err = errors.New("db down")
	pc := NewProfileCache(newMapKV(), src, time.Minute, zerolog.Nop())
	if _, err := pc.Profiles(context.Background(), []uint{1}); err == nil {
		t.Error("expected source error")
	}
}

func TestProfileCacheWithoutRedis(t *testing.T) {
	src := newSource()
	pc := NewProfileCache(nil, src, time.Minute, zerolog.Nop())
	got, err := pc.Profiles(context.Background(), []uint{2})
	if err != nil || got[2].DisplayName != "Bob" {
		t.Errorf("profiles = %+v, %v", got, err)
	}
}
