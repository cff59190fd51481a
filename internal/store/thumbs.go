package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Thumb is one cached page thumbnail.
type Thumb struct {
	Page   int
	JPEG   []byte
	Width  int
	Height int
}

// ThumbStore caches rendered page thumbnails in Redis so repeat batch
// requests for the same pages never hit go-fitz twice.
type ThumbStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewThumbStore(redisURL string, ttl time.Duration) (*ThumbStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &ThumbStore{client: c, ttl: ttl}, nil
}

func (s *ThumbStore) Close() error { return s.client.Close() }

func (s *ThumbStore) key(docID string, page int) string {
	return fmt.Sprintf("doc:%s:thumb:%d", docID, page)
}

func (s *ThumbStore) Save(ctx context.Context, docID string, t Thumb) error {
	k := s.key(docID, t.Page)
	m := map[string]interface{}{
		"data":   string(t.JPEG),
		"width":  t.Width,
		"height": t.Height,
	}
	if err := s.client.HSet(ctx, k, m).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, k, s.ttl).Err()
}

// Purge drops every cached thumbnail of a document.
func (s *ThumbStore) Purge(ctx context.Context, docID string) error {
	var cursor uint64
	pattern := fmt.Sprintf("doc:%s:thumb:*", docID)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (s *ThumbStore) Get(ctx context.Context, docID string, page int) (Thumb, bool, error) {
	res, err := s.client.HGetAll(ctx, s.key(docID, page)).Result()
	if err != nil {
		return Thumb{}, false, err
	}
	if len(res) == 0 {
		return Thumb{}, false, nil
	}
	t := Thumb{Page: page, JPEG: []byte(res["data"])}
	t.Width, _ = strconv.Atoi(res["width"])
	t.Height, _ = strconv.Atoi(res["height"])
	return t, true, nil
}
