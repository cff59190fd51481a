package thumbcache

import (
	"context"
	"sync"
	"testing"
)

type recordingFetcher struct {
	mu      sync.Mutex
	calls   [][2]int
	render  func(start, end int) map[int][]byte
	started chan struct{}
	gate    chan struct{}
}

func (f *recordingFetcher) FetchRange(ctx context.Context, start, end int) (map[int][]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, [2]int{start, end})
	first := len(f.calls) == 1
	f.mu.Unlock()
	if first && f.started != nil {
		close(f.started)
	}
	if first && f.gate != nil {
		<-f.gate
	}
	if f.render != nil {
		return f.render(start, end), nil
	}
	out := map[int][]byte{}
	for p := start; p <= end; p++ {
		out[p] = []byte{0xFF, 0xD8, byte(p)}
	}
	return out, nil
}

func (f *recordingFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestCache_FirstBatchCoversEagerWindow(t *testing.T) {
	f := &recordingFetcher{}
	c := New(f, 24, 0)

	if err := c.RequestVisible(context.Background(), []int{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatalf("RequestVisible: %v", err)
	}
	if got := f.callCount(); got != 1 {
		t.Fatalf("fetch calls = %d, want 1 coalesced batch", got)
	}
	if call := f.calls[0]; call[0] > 1 || call[1] < 8 {
		t.Errorf("batch range [%d, %d] does not cover pages 1..8", call[0], call[1])
	}
	for p := 1; p <= 8; p++ {
		if _, ok := c.Get(p); !ok {
			t.Errorf("page %d not cached after batch", p)
		}
	}
}

func TestCache_CachedAndInFlightPagesAreNeverRefetched(t *testing.T) {
	f := &recordingFetcher{}
	c := New(f, 24, 0)
	ctx := context.Background()

	if err := c.RequestVisible(ctx, []int{3, 4, 5}); err != nil {
		t.Fatalf("RequestVisible: %v", err)
	}
	// every requested page is now cached; this must be a zero-fetch no-op
	if err := c.RequestVisible(ctx, []int{3, 4, 5}); err != nil {
		t.Fatalf("RequestVisible: %v", err)
	}
	if got := f.callCount(); got != 1 {
		t.Errorf("fetch calls = %d, want 1 (cached pages refetched)", got)
	}
}

func TestCache_ConcurrentOverlappingRequestsNeverDoubleClaim(t *testing.T) {
	f := &recordingFetcher{started: make(chan struct{}), gate: make(chan struct{})}
	c := New(f, 24, 0)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := c.RequestVisible(ctx, []int{5, 6, 7, 8}); err != nil {
			t.Errorf("first RequestVisible: %v", err)
		}
	}()

	// wait until the first batch has claimed its pages and is blocked inside
	// the fetcher, then issue an overlapping request
	<-f.started
	if err := c.RequestVisible(ctx, []int{7, 8, 9, 10}); err != nil {
		t.Fatalf("second RequestVisible: %v", err)
	}

	// pages 7 and 8 are claimed by the outstanding batch; the second batch
	// must be built from the unclaimed pages only
	f.mu.Lock()
	second := f.calls[1]
	f.mu.Unlock()
	if second[0] != 9 || second[1] != 10 {
		t.Errorf("second batch = [%d, %d], want [9, 10] (claimed pages filtered)", second[0], second[1])
	}

	close(f.gate)
	<-done
}

func TestCache_MarginExpandsAndClampsRange(t *testing.T) {
	f := &recordingFetcher{}
	c := New(f, 10, 5)

	if err := c.RequestVisible(context.Background(), []int{2, 3}); err != nil {
		t.Fatalf("RequestVisible: %v", err)
	}
	if call := f.calls[0]; call[0] != 1 || call[1] != 8 {
		t.Errorf("batch range = [%d, %d], want [1, 8] (margin clamped at page 1)", call[0], call[1])
	}
}

func TestCache_SoftMissIsSilentAndRetryable(t *testing.T) {
	f := &recordingFetcher{
		render: func(start, end int) map[int][]byte {
			out := map[int][]byte{}
			for p := start; p <= end; p++ {
				if p == 4 {
					continue // backend skipped this page
				}
				out[p] = []byte{0xFF, 0xD8, byte(p)}
			}
			return out
		},
	}
	c := New(f, 10, 0)
	ctx := context.Background()

	if err := c.RequestVisible(ctx, []int{3, 4, 5}); err != nil {
		t.Fatalf("RequestVisible: %v", err)
	}
	if _, ok := c.Get(4); ok {
		t.Error("soft-missed page cached")
	}
	if c.InFlight(4) {
		t.Error("soft-missed page still claimed in-flight")
	}
	// a later viewport event may ask again; no negative caching
	if err := c.RequestVisible(ctx, []int{4}); err != nil {
		t.Fatalf("retry RequestVisible: %v", err)
	}
	if got := f.callCount(); got != 2 {
		t.Errorf("fetch calls = %d, want 2 (soft miss blocked retry)", got)
	}
}

func TestCache_ResetDropsEverything(t *testing.T) {
	f := &recordingFetcher{}
	c := New(f, 24, 0)
	ctx := context.Background()

	if err := c.RequestVisible(ctx, []int{1, 2, 3}); err != nil {
		t.Fatalf("RequestVisible: %v", err)
	}
	c.Reset(10)
	if c.Len() != 0 {
		t.Errorf("Len() = %d after Reset, want 0", c.Len())
	}
	if err := c.RequestVisible(ctx, []int{1, 2, 3}); err != nil {
		t.Fatalf("RequestVisible after Reset: %v", err)
	}
	if got := f.callCount(); got != 2 {
		t.Errorf("fetch calls = %d, want a fresh fetch after Reset", got)
	}
}
