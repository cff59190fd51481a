package statuscheck

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// RedisPinger models the minimal Redis capability we need for status checks.
type RedisPinger interface {
	Ping(ctx context.Context) error
}

// CooldownChecker reports whether a backend component is in failure cooldown.
type CooldownChecker interface {
	InCooldown(ctx context.Context, component string) bool
}

// Checker aggregates readiness checks. The extract action is disabled up
// front when the backend is not ready, instead of failing at click time.
type Checker struct {
	redis     RedisPinger
	cooldowns CooldownChecker
	uploadDir string
}

// Options configures the Checker.
type Options struct {
	Redis     RedisPinger
	Cooldowns CooldownChecker
	UploadDir string
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Redis     Status `json:"redis"`
	Storage   Status `json:"storage"`
	Extractor Status `json:"extractor"`
}

// New creates a new Checker with the provided options.
func New(opts Options) *Checker {
	return &Checker{
		redis:     opts.Redis,
		cooldowns: opts.Cooldowns,
		uploadDir: opts.UploadDir,
	}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		Redis:     c.checkRedis(ctx),
		Storage:   c.checkStorage(),
		Extractor: c.checkExtractor(ctx),
	}
}

// Ready is the single bit the extract action is gated on.
func (c *Checker) Ready(ctx context.Context) bool {
	s := c.Summary(ctx)
	return s.Redis.OK && s.Storage.OK && s.Extractor.OK
}

func (c *Checker) checkRedis(ctx context.Context) Status {
	if c.redis == nil {
		return Status{OK: false, Message: "client unavailable"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.redis.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkStorage() Status {
	if c.uploadDir == "" {
		return Status{OK: false, Message: "Upload dir not configured"}
	}
	if err := os.MkdirAll(c.uploadDir, 0o755); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	probe := filepath.Join(c.uploadDir, ".writecheck")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	_ = os.Remove(probe)
	return Status{OK: true, Message: "Writable"}
}

func (c *Checker) checkExtractor(ctx context.Context) Status {
	if c.cooldowns != nil && c.cooldowns.InCooldown(ctx, "extractor") {
		return Status{OK: false, Message: "Cooling down after repeated failures"}
	}
	// go-fitz is embedded; outside of cooldown it is always available
	return Status{OK: true, Message: "Available"}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
