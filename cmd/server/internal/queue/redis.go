package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// payloadField is the single hash field carrying the serialized event.
const payloadField = "data"

// Compile-time check to ensure RedisStream implements Stream
var _ Stream = (*RedisStream)(nil)

// RedisStream backs the durable queue with a Redis Stream: XADD with a
// MAXLEN cap, one consumer group per logical reader set, XACK for
// delivery confirmation. Redis does the cross-process synchronization.
type RedisStream struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStream(client *redis.Client, stream string, maxLen int64) *RedisStream {
	return &RedisStream{
		client: client,
		stream: stream,
		maxLen: maxLen,
	}
}

func (s *RedisStream) Append(ctx context.Context, payload []byte) error {
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{payloadField: payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

func (s *RedisStream) EnsureGroup(ctx context.Context, group string) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("create group %s: %w", group, err)
	}
	return nil
}

func (s *RedisStream) ReadNext(ctx context.Context, group, consumer string, count int64, block time.Duration) ([]Entry, error) {
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{s.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil // nothing new within the block window
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s/%s: %w", s.stream, group, err)
	}

	var entries []Entry
	for _, stream := range res {
		for _, msg := range stream.Messages {
			payload, ok := msg.Values[payloadField].(string)
			if !ok {
				continue
			}
			entries = append(entries, Entry{ID: msg.ID, Payload: []byte(payload)})
		}
	}
	return entries, nil
}

func (s *RedisStream) Ack(ctx context.Context, group, id string) error {
	if err := s.client.XAck(ctx, s.stream, group, id).Err(); err != nil {
		return fmt.Errorf("xack %s: %w", id, err)
	}
	return nil
}

func (s *RedisStream) Close() error {
	return s.client.Close()
}

// isBusyGroup reports whether err is Redis telling us the consumer group
// already exists, which EnsureGroup treats as success.
func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
