package viewport

import (
	"reflect"
	"testing"
)

func TestTracker_EagerFirstPages(t *testing.T) {
	t.Run("large_document", func(t *testing.T) {
		tr := New(24, 0)
		want := []int{1, 2, 3, 4, 5, 6, 7, 8}
		if got := tr.Visible(); !reflect.DeepEqual(got, want) {
			t.Errorf("Visible() = %v, want %v", got, want)
		}
	})

	t.Run("short_document_clamps", func(t *testing.T) {
		tr := New(3, 0)
		if got := tr.Visible(); !reflect.DeepEqual(got, []int{1, 2, 3}) {
			t.Errorf("Visible() = %v, want first 3 pages", got)
		}
	})
}

func TestTracker_SubscribeGetsSnapshotImmediately(t *testing.T) {
	tr := New(24, 0)
	var got []int
	tr.Subscribe(func(visible []int) { got = visible })
	if len(got) != 8 {
		t.Fatalf("subscriber received %v, want the 8 eager pages", got)
	}
}

func TestTracker_PageEntered(t *testing.T) {
	tr := New(24, 0)
	var calls [][]int
	tr.Subscribe(func(visible []int) { calls = append(calls, visible) })
	calls = nil // discard the subscription snapshot

	tr.PageEntered(12)
	tr.PageEntered(12) // idempotent: no second publish
	tr.PageEntered(0)  // out of range
	tr.PageEntered(25) // out of range

	if len(calls) != 1 {
		t.Fatalf("subscriber fired %d times, want 1", len(calls))
	}
	last := calls[0]
	if last[len(last)-1] != 12 {
		t.Errorf("visible set %v missing page 12", last)
	}
}

func TestTracker_ResetReplacesVisibleSet(t *testing.T) {
	tr := New(24, 0)
	tr.PageEntered(20)
	tr.Reset(10)
	got := tr.Visible()
	for _, p := range got {
		if p > 8 {
			t.Errorf("stale page %d visible after reset: %v", p, got)
		}
	}
	if len(got) != 8 {
		t.Errorf("Visible() after Reset = %v, want eager pages of new document", got)
	}
}

func TestTracker_CloseDisconnects(t *testing.T) {
	tr := New(24, 0)
	fired := 0
	tr.Subscribe(func([]int) { fired++ })
	fired = 0

	tr.Close()
	tr.PageEntered(9)
	if fired != 0 {
		t.Errorf("subscriber fired %d times after Close, want 0", fired)
	}
	if got := tr.Visible(); len(got) != 8 {
		t.Errorf("Visible() changed after Close: %v", got)
	}
}
