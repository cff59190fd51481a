package thumbcache

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Fetcher retrieves thumbnails for an inclusive page range in one request.
// The returned map may omit pages in the range (soft misses).
type Fetcher interface {
	FetchRange(ctx context.Context, start, end int) (map[int][]byte, error)
}

// Cache turns "pages that might be wanted" into the minimum necessary batch
// fetches: at most one in-flight request per page, coalesced ranges, cache
// durable until document change.
//
// Invariant: a cached page is never in-flight, and no two concurrently
// outstanding batches claim the same page.
type Cache struct {
	mu       sync.Mutex
	fetcher  Fetcher
	total    int
	margin   int
	images   map[int][]byte
	inflight map[int]struct{}
}

// New creates a Cache for a document with total pages. margin is the number
// of speculative pages added on each side of a coalesced batch.
func New(fetcher Fetcher, total, margin int) *Cache {
	if margin < 0 {
		margin = 0
	}
	return &Cache{
		fetcher:  fetcher,
		total:    total,
		margin:   margin,
		images:   map[int][]byte{},
		inflight: map[int]struct{}{},
	}
}

// RequestVisible ensures thumbnails for pages end up cached. Pages already
// cached or in-flight are filtered out; if nothing remains the call is a
// no-op (this runs on every viewport tick). The remainder is coalesced into
// one clamped range and claimed in-flight before the fetch is issued, so an
// overlapping concurrent call can never re-request the same pages.
func (c *Cache) RequestVisible(ctx context.Context, pages []int) error {
	c.mu.Lock()
	var wanted []int
	for _, p := range pages {
		if p < 1 || p > c.total {
			continue
		}
		if _, ok := c.images[p]; ok {
			continue
		}
		if _, ok := c.inflight[p]; ok {
			continue
		}
		wanted = append(wanted, p)
	}
	if len(wanted) == 0 {
		c.mu.Unlock()
		return nil
	}

	lo, hi := wanted[0], wanted[0]
	for _, p := range wanted[1:] {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	// a few speculative fetches in exchange for far fewer requests
	lo -= c.margin
	hi += c.margin
	if lo < 1 {
		lo = 1
	}
	if hi > c.total {
		hi = c.total
	}

	for _, p := range wanted {
		c.inflight[p] = struct{}{}
	}
	c.mu.Unlock()

	// network fetch happens outside the lock; further viewport events keep
	// flowing while this batch is outstanding
	got, err := c.fetcher.FetchRange(ctx, lo, hi)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		// clear the claim so a later viewport event may retry; no negative caching
		for _, p := range wanted {
			delete(c.inflight, p)
		}
		log.Warn().Err(err).Int("start", lo).Int("end", hi).Msg("thumbnail batch failed")
		return err
	}
	for p, data := range got {
		if p < 1 || p > c.total || len(data) == 0 {
			continue
		}
		c.images[p] = data
		delete(c.inflight, p)
	}
	// pages claimed but absent from the response are soft misses: clear the
	// claim, cache nothing, report nothing
	for _, p := range wanted {
		delete(c.inflight, p)
	}
	return nil
}

// Get returns the cached thumbnail for page, if present.
func (c *Cache) Get(page int) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.images[page]
	return data, ok
}

// Len returns the number of cached thumbnails.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.images)
}

// InFlight reports whether page currently has an outstanding batch claim.
func (c *Cache) InFlight(page int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[page]
	return ok
}

// Reset drops the cache and all in-flight claims on document change.
func (c *Cache) Reset(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total = total
	c.images = map[int][]byte{}
	c.inflight = map[int]struct{}{}
}
