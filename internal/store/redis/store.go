// Package redis implements the store.KV contract on a redis-compatible
// server via rueidis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/omnidex/internal/store"
)

// Config holds redis driver settings.
type Config struct {
	Addrs    []string
	Password string
}

// Store is a redis-backed KV store.
type Store struct {
	client rueidis.Client
}

var _ store.KV = (*Store)(nil)

// NewStore connects to the redis server(s).
func NewStore(cfg Config) (*Store, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: cfg.Addrs,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &Store{client: client}, nil
}

// Get retrieves a value by key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	cmd := s.client.B().Get().Key(key).Build()
	data, err := s.client.Do(ctx, cmd).AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, store.ErrKeyNotFound
		}
		return nil, &store.Error{Op: store.OpGet, Err: err}
	}
	return data, nil
}

// Set stores a value at the given key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	cmd := s.client.B().Set().Key(key).Value(string(value)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return &store.Error{Op: store.OpSet, Err: err}
	}
	return nil
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	cmd := s.client.B().Del().Key(key).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return &store.Error{Op: store.OpDelete, Err: err}
	}
	return nil
}

// ScanPrefix visits entries under prefix in ascending key order.
// Redis SCAN returns keys unordered, so keys are collected and sorted
// before values are fetched; scans are bounded to control sets
// (collection meta, overrides, rules), not document volumes.
func (s *Store) ScanPrefix(ctx context.Context, prefix string, fn func(store.Entry) bool) error {
	var keys []string
	var cursor uint64
	for {
		cmd := s.client.B().Scan().Cursor(cursor).Match(escapeGlob(prefix) + "*").Count(512).Build()
		entry, err := s.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return &store.Error{Op: store.OpScan, Err: err}
		}
		keys = append(keys, entry.Elements...)
		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		val, err := s.Get(ctx, key)
		if err != nil {
			if errors.Is(err, store.ErrKeyNotFound) {
				continue
			}
			return err
		}
		if !fn(store.Entry{Key: key, Value: val}) {
			return nil
		}
	}
	return nil
}

// IncrBy atomically increments a key by delta.
func (s *Store) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	cmd := s.client.B().Incrby().Key(key).Increment(delta).Build()
	val, err := s.client.Do(ctx, cmd).AsInt64()
	if err != nil {
		return 0, &store.Error{Op: store.OpIncrBy, Err: err}
	}
	return val, nil
}

// Close releases the client.
func (s *Store) Close() error {
	s.client.Close()
	return nil
}

// WaitForReady pings until the server responds or the timeout elapses.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		cmd := s.client.B().Ping().Build()
		if err := s.client.Do(ctx, cmd).Error(); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("redis not ready after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// escapeGlob escapes SCAN MATCH metacharacters in literal key prefixes.
func escapeGlob(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
