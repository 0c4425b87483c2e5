// Package cache provides the compressed, namespaced key-value mirror used
// for fast list reads. Entries are rebuildable from the relational store at
// any time; the engine only ever overwrites or deletes whole keys, so a
// crashed write leaves a stale entry, never a torn one.
package cache

import (
	"bytes"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
)

const scanBatchSize = 200

var errMissingClient = errors.New("cache: redis client is required")

// Store mirrors serialized payloads into redis under namespaced keys. The
// client is constructed once at process start and shared.
type Store struct {
	client *redis.Client
}

// NewStore wraps the shared redis client.
func NewStore(client *redis.Client) (*Store, error) {
	if client == nil {
		return nil, errMissingClient
	}
	return &Store{client: client}, nil
}

// Set compresses the payload and overwrites the key. Entries carry no TTL:
// they live until the owning record is deleted.
func (s *Store) Set(ctx context.Context, key string, payload []byte) error {
	compressed, err := compress(payload)
	if err != nil {
		return fmt.Errorf("cache: compressing %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, compressed, 0).Err(); err != nil {
		return fmt.Errorf("cache: writing %s: %w", key, err)
	}
	return nil
}

// Delete removes the key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache: deleting %s: %w", key, err)
	}
	return nil
}

// GetAll scans every key sharing the prefix and returns the decompressed
// payloads. Keys that vanish between scan and read are skipped.
func (s *Store) GetAll(ctx context.Context, prefix string) ([][]byte, error) {
	var payloads [][]byte

	iter := s.client.Scan(ctx, 0, prefix+"*", scanBatchSize).Iterator()
	for iter.Next(ctx) {
		raw, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("cache: reading %s: %w", iter.Val(), err)
		}
		payload, err := decompress(raw)
		if err != nil {
			return nil, fmt.Errorf("cache: decompressing %s: %w", iter.Val(), err)
		}
		payloads = append(payloads, payload)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("cache: scanning %s: %w", prefix, err)
	}

	return payloads, nil
}

func compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := zlib.NewWriter(&buf)
	if _, err := writer.Write(payload); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(raw []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}
