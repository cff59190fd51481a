package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// SessionStatus mirrors the progress endpoint payload: last-write-wins
// percent/message plus optional metadata (pages done, word count, result path).
type SessionStatus struct {
	Status   string                 `json:"status"`
	Percent  int                    `json:"percent"`
	Message  string                 `json:"message"`
	Start    *time.Time             `json:"start_time,omitempty"`
	End      *time.Time             `json:"end_time,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// SessionStore persists extraction session status in Redis and carries the
// cross-instance cancel set checked between pages.
type SessionStore struct {
	client    *redis.Client
	ttl       time.Duration
	cancelKey string
}

func NewSessionStore(redisURL string, ttl time.Duration) (*SessionStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionStore{client: c, ttl: ttl, cancelKey: "sessions:cancelled:set"}, nil
}

func (s *SessionStore) Close() error { return s.client.Close() }

func (s *SessionStore) key(id string) string { return fmt.Sprintf("session:%s:status", id) }

func (s *SessionStore) Set(ctx context.Context, id string, st SessionStatus) error {
	m := map[string]interface{}{
		"status":  st.Status,
		"percent": st.Percent,
		"message": st.Message,
	}
	if st.Start != nil {
		m["start"] = st.Start.Format(time.RFC3339Nano)
	}
	if st.End != nil {
		m["end"] = st.End.Format(time.RFC3339Nano)
	}
	if st.Metadata != nil {
		b, _ := json.Marshal(st.Metadata)
		m["metadata"] = string(b)
	}
	k := s.key(id)
	if err := s.client.HSet(ctx, k, m).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, k, s.ttl).Err()
}

func (s *SessionStore) Get(ctx context.Context, id string) (SessionStatus, bool, error) {
	res, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return SessionStatus{}, false, err
	}
	if len(res) == 0 {
		return SessionStatus{}, false, nil
	}
	st := SessionStatus{Status: res["status"], Message: res["message"]}
	if p := res["percent"]; p != "" {
		// ignore parse error; default 0
		var pi int
		fmt.Sscan(p, &pi)
		st.Percent = pi
	}
	if v := res["start"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.Start = &t
		}
	}
	if v := res["end"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.End = &t
		}
	}
	if v := res["metadata"]; v != "" {
		_ = json.Unmarshal([]byte(v), &st.Metadata)
	}
	return st, true, nil
}

// Cancel marks the session cancelled. The extraction loop checks the set
// between pages, so a webhook cancel lands even mid-stream.
func (s *SessionStore) Cancel(ctx context.Context, id string) error {
	return s.client.SAdd(ctx, s.cancelKey, id).Err()
}

// IsCancelled returns true if the session was cancelled out of band.
func (s *SessionStore) IsCancelled(ctx context.Context, id string) (bool, error) {
	return s.client.SIsMember(ctx, s.cancelKey, id).Result()
}

// ClearCancel removes the cancel marker once the session reached a terminal
// state, so ids can be reused across restarts without stale cancels.
func (s *SessionStore) ClearCancel(ctx context.Context, id string) error {
	return s.client.SRem(ctx, s.cancelKey, id).Err()
}
