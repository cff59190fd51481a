package statuscheck

import (
	"context"
	"errors"
	"testing"
)

type stubPinger struct{ err error }

func (p *stubPinger) Ping(ctx context.Context) error { return p.err }

type stubCooldowns struct{ open bool }

func (c *stubCooldowns) InCooldown(ctx context.Context, component string) bool { return c.open }

func TestChecker_Ready(t *testing.T) {
	t.Run("all_subsystems_up", func(t *testing.T) {
		c := New(Options{Redis: &stubPinger{}, Cooldowns: &stubCooldowns{}, UploadDir: t.TempDir()})
		if !c.Ready(context.Background()) {
			t.Error("Ready() = false, want true")
		}
	})

	t.Run("redis_down", func(t *testing.T) {
		c := New(Options{Redis: &stubPinger{err: errors.New("connection refused")}, UploadDir: t.TempDir()})
		if c.Ready(context.Background()) {
			t.Error("Ready() = true with redis down")
		}
		s := c.Summary(context.Background())
		if s.Redis.OK {
			t.Error("Redis.OK = true, want false")
		}
	})

	t.Run("extractor_cooldown_degrades_proactively", func(t *testing.T) {
		c := New(Options{Redis: &stubPinger{}, Cooldowns: &stubCooldowns{open: true}, UploadDir: t.TempDir()})
		if c.Ready(context.Background()) {
			t.Error("Ready() = true during extractor cooldown")
		}
	})

	t.Run("missing_upload_dir_config", func(t *testing.T) {
		c := New(Options{Redis: &stubPinger{}})
		if s := c.Summary(context.Background()); s.Storage.OK {
			t.Error("Storage.OK = true with no upload dir configured")
		}
	})
}

func TestTrimError(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	if got := trimError(errors.New(string(long))); len(got) != 120 {
		t.Errorf("trimError length = %d, want 120", len(got))
	}
	if got := trimError(nil); got != "" {
		t.Errorf("trimError(nil) = %q, want empty", got)
	}
}
