package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/serroba/shortlink/internal/cache"
)

// BigCache is an in-process cache.Store backed by allegro/bigcache.
//
// BigCache has a single life window for all entries, so the ttl passed to
// Set is ignored and every entry lives for LifeWindow after its last write.
type BigCache struct {
	c          *bigcache.BigCache
	lifeWindow time.Duration
	now        func() time.Time
}

// BigCacheConfig tunes the underlying shards.
type BigCacheConfig struct {
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	Shards             int
	MaxEntriesInWindow int
	HardMaxCacheSizeMB int
}

// DefaultBigCacheConfig returns a small footprint config whose life window
// matches the gateway TTL.
func DefaultBigCacheConfig() BigCacheConfig {
	return BigCacheConfig{
		LifeWindow:         cache.TTL,
		CleanWindow:        time.Minute,
		Shards:             64,
		MaxEntriesInWindow: 10_000,
	}
}

// NewBigCache creates a BigCache store.
func NewBigCache(ctx context.Context, cfg BigCacheConfig) (*BigCache, error) {
	conf := bigcache.DefaultConfig(cfg.LifeWindow)
	conf.Verbose = false

	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}

	if cfg.Shards > 0 {
		conf.Shards = cfg.Shards
	}

	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}

	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}

	c, err := bigcache.New(ctx, conf)
	if err != nil {
		return nil, err
	}

	return &BigCache{c: c, lifeWindow: cfg.LifeWindow, now: time.Now}, nil
}

func (b *BigCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, resp, err := b.c.GetWithInfo(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, err
	}

	// Expired entries linger until the next clean window.
	if resp.EntryStatus == bigcache.Expired {
		return nil, false, nil
	}

	return value, true, nil
}

func (b *BigCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	return b.c.Set(key, value)
}

func (b *BigCache) Delete(_ context.Context, key string) (bool, error) {
	err := b.c.Delete(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}

func (b *BigCache) Keys(_ context.Context, prefix string) ([]string, error) {
	var keys []string

	cutoff := b.now().Add(-b.lifeWindow).Unix()
	it := b.c.Iterator()

	for it.SetNext() {
		entry, err := it.Value()
		if err != nil {
			// The entry was removed between SetNext and Value.
			continue
		}

		if int64(entry.Timestamp()) < cutoff {
			continue
		}

		if strings.HasPrefix(entry.Key(), prefix) {
			keys = append(keys, entry.Key())
		}
	}

	return keys, nil
}

func (b *BigCache) Ping(context.Context) error {
	return nil
}

// Shutdown stops the clean-up goroutine.
func (b *BigCache) Shutdown() error {
	return b.c.Close()
}

var _ cache.Store = (*BigCache)(nil)
