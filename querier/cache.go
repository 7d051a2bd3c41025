package querier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gigapi/gigapi-ingestwatch/core"
	"github.com/gigapi/gigapi-ingestwatch/loader"
	"golang.org/x/sync/singleflight"
)

// CacheKey identifies a store by source and the locations it was loaded from
type CacheKey struct {
	SourceID string
	FilesDir string
	DocsDir  string
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.SourceID, k.FilesDir, k.DocsDir)
}

// OpenFunc opens the store a key names
type OpenFunc func(ctx context.Context, key CacheKey) (*Store, error)

// FolderOpener returns an OpenFunc reading day folders and documents from the OS filesystem
func FolderOpener(opts Options) OpenFunc {
	return func(ctx context.Context, key CacheKey) (*Store, error) {
		return Open(ctx, key.SourceID, loader.NewDayFolder(key.FilesDir), loader.NewDocFolder(key.DocsDir), opts)
	}
}

// Cache holds open stores for its owner. Concurrent Gets for one key share a single load.
// Failed loads are not cached.
type Cache struct {
	// MaxAge reloads a store on the first Get after it has been held this long; zero keeps stores until evicted
	MaxAge time.Duration

	open    OpenFunc
	metrics *Metrics
	now     func() time.Time

	group  singleflight.Group
	mu     sync.Mutex
	stores map[CacheKey]*entry
	closed bool
}

type entry struct {
	store  *Store
	loaded time.Time
}

// NewCache returns an empty cache loading stores with open
func NewCache(open OpenFunc, metrics *Metrics) *Cache {
	return &Cache{open: open, metrics: metrics, now: time.Now, stores: map[CacheKey]*entry{}}
}

// lookup returns the held store for key; an expired store is dropped and returned as stale.
// c.mu must be held.
func (c *Cache) lookup(key CacheKey) (s, stale *Store) {
	e, ok := c.stores[key]
	if !ok {
		return nil, nil
	}
	if c.MaxAge > 0 && c.now().Sub(e.loaded) >= c.MaxAge {
		delete(c.stores, key)
		c.metrics.cached(len(c.stores))
		return nil, e.store
	}
	return e.store, nil
}

// Get returns the store for key, opening it on first use
func (c *Cache) Get(ctx context.Context, key CacheKey) (*Store, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, core.ErrNotInitialized
	}
	s, stale := c.lookup(key)
	c.mu.Unlock()
	if stale != nil {
		core.Debugf(ctx, "Reloading expired store for source_id=%s", key.SourceID)
		stale.Close()
	}
	if s != nil {
		core.Debugf(ctx, "Reusing store for source_id=%s", key.SourceID)
		return s, nil
	}

	v, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		c.mu.Lock()
		s, stale := c.lookup(key)
		c.mu.Unlock()
		if stale != nil {
			stale.Close()
		}
		if s != nil {
			return s, nil
		}

		s, err := c.open(ctx, key)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			s.Close()
			return nil, core.ErrNotInitialized
		}
		c.stores[key] = &entry{store: s, loaded: c.now()}
		c.metrics.cached(len(c.stores))
		core.Debugf(ctx, "Created store for source_id=%s", key.SourceID)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Store), nil
}

// Len reports how many stores are held
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stores)
}

// Evict closes and forgets the store for key
func (c *Cache) Evict(key CacheKey) {
	c.mu.Lock()
	e, ok := c.stores[key]
	delete(c.stores, key)
	c.metrics.cached(len(c.stores))
	c.mu.Unlock()
	if ok {
		e.store.Close()
	}
}

// Reload drops the store held for key and loads it again
func (c *Cache) Reload(ctx context.Context, key CacheKey) (*Store, error) {
	c.Evict(key)
	return c.Get(ctx, key)
}

// Close closes every held store; later Gets fail with core.ErrNotInitialized
func (c *Cache) Close() error {
	c.mu.Lock()
	stores := c.stores
	c.stores = map[CacheKey]*entry{}
	c.closed = true
	c.metrics.cached(0)
	c.mu.Unlock()
	for _, e := range stores {
		e.store.Close()
	}
	return nil
}
