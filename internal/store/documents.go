package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/local/docextract/internal/document"
)

// DocumentStore keeps the ephemeral registry of uploaded documents in Redis.
// Records expire on their own; nothing survives the TTL.
type DocumentStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDocumentStore(redisURL string, ttl time.Duration) (*DocumentStore, error) {
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
	return &DocumentStore{client: c, ttl: ttl}, nil
}

func (s *DocumentStore) Close() error { return s.client.Close() }

// Client returns the underlying Redis client (shared with health checks).
func (s *DocumentStore) Client() *redis.Client { return s.client }

// Ping reports Redis connectivity for readiness checks.
func (s *DocumentStore) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *DocumentStore) key(id string) string { return fmt.Sprintf("doc:%s:info", id) }

func (s *DocumentStore) Save(ctx context.Context, doc document.Document) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(doc.ID), b, s.ttl).Err()
}

func (s *DocumentStore) Get(ctx context.Context, id string) (document.Document, bool, error) {
	res, err := s.client.Get(ctx, s.key(id)).Result()
	if err == redis.Nil {
		return document.Document{}, false, nil
	}
	if err != nil {
		return document.Document{}, false, err
	}
	var doc document.Document
	if err := json.Unmarshal([]byte(res), &doc); err != nil {
		return document.Document{}, false, err
	}
	return doc, true, nil
}

// Delete drops the registry record and every thumbnail cached for the document.
func (s *DocumentStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return err
	}
	// thumbnails share the doc:<id>: prefix
	iter := s.client.Scan(ctx, 0, fmt.Sprintf("doc:%s:thumb:*", id), 200).Iterator()
	for iter.Next(ctx) {
		_ = s.client.Del(ctx, iter.Val()).Err()
	}
	return iter.Err()
}
