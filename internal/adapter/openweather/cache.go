package openweather

import (
	"container/list"
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/couchcryptid/weather-measures-etl/internal/domain"
	"github.com/couchcryptid/weather-measures-etl/internal/observability"
)

// CachedGeocoder wraps a Geocoder with an in-memory LRU cache keyed by city name.
type CachedGeocoder struct {
	inner   domain.Geocoder
	cache   *lruCache[[]domain.Location]
	metrics *observability.Metrics
}

// NewCachedGeocoder creates a cache decorator around a geocoder.
func NewCachedGeocoder(inner domain.Geocoder, maxEntries int, metrics *observability.Metrics) *CachedGeocoder {
	return &CachedGeocoder{
		inner:   inner,
		cache:   newLRUCache[[]domain.Location](maxEntries),
		metrics: metrics,
	}
}

func (c *CachedGeocoder) Geocode(ctx context.Context, city string) ([]domain.Location, error) {
	key := cacheKey(city)
	if locations, ok := c.cache.get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues("memory", "hit").Inc()
		return cloneLocations(locations), nil
	}
	c.metrics.GeocodeCache.WithLabelValues("memory", "miss").Inc()

	locations, err := c.inner.Geocode(ctx, city)
	if err != nil {
		return nil, err
	}
	// Only cache non-empty results so a transient "no match" can be retried.
	if len(locations) > 0 {
		c.cache.put(key, cloneLocations(locations))
	}
	return locations, nil
}

func cacheKey(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}

// cloneLocations copies the slice and the coordinate pointers it holds.
func cloneLocations(src []domain.Location) []domain.Location {
	out := slices.Clone(src)
	for i := range out {
		if out[i].Lat != nil {
			lat := *out[i].Lat
			out[i].Lat = &lat
		}
		if out[i].Lon != nil {
			lon := *out[i].Lon
			out[i].Lon = &lon
		}
	}
	return out
}

// lruCache is a bounded, mutex-guarded cache. The list front is the most
// recently used element.
type lruCache[V any] struct {
	maxEntries int
	mu         sync.Mutex
	order      *list.List
	index      map[string]*list.Element
}

type lruItem[V any] struct {
	key   string
	value V
}

func newLRUCache[V any](maxEntries int) *lruCache[V] {
	return &lruCache[V]{
		maxEntries: maxEntries,
		order:      list.New(),
		index:      make(map[string]*list.Element, maxEntries),
	}
}

func (c *lruCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruItem[V]).value, true
}

func (c *lruCache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		el.Value.(*lruItem[V]).value = value
		c.order.MoveToFront(el)
		return
	}

	c.index[key] = c.order.PushFront(&lruItem[V]{key: key, value: value})
	for c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(*lruItem[V]).key)
	}
}

func (c *lruCache[V]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
