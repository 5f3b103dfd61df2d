// Package redisbus carries cross-instance room fan-out and the offline
// edit buffer on top of Redis, adapted from the teacher's internal/redis
// package (pub/sub for multi-instance synchronization) and extended with
// sorted-set operations so a second server process can back spec.md §4.G's
// offline buffer without an in-process map.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/go-redis/redis/v8"
)

// Bus handles Redis pub/sub for multi-instance room fan-out, plus the
// sorted-set storage backing the offline edit buffer.
type Bus struct {
	client     *redis.Client
	ctx        context.Context
	cancel     context.CancelFunc
	subs       map[string]*redis.PubSub
	subsMu     sync.RWMutex
	handlers   map[string][]MessageHandler
	handlersMu sync.RWMutex
}

// MessageHandler is a function that handles pub/sub messages.
type MessageHandler func(channel string, payload []byte)

// Message represents a pub/sub message relayed between server instances.
type Message struct {
	Type    string          `json:"type"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

// New creates a new Bus instance connected to REDIS_URL.
func New(ctx context.Context) (*Bus, error) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)

	return &Bus{
		client:   client,
		ctx:      subCtx,
		cancel:   cancel,
		subs:     make(map[string]*redis.PubSub),
		handlers: make(map[string][]MessageHandler),
	}, nil
}

// Close closes the underlying Redis connection.
func (b *Bus) Close() error {
	b.cancel()

	b.subsMu.Lock()
	for _, sub := range b.subs {
		sub.Close()
	}
	b.subsMu.Unlock()

	return b.client.Close()
}

// Subscribe subscribes to a channel, invoking handler for every message
// received on it from any server instance.
func (b *Bus) Subscribe(channel string, handler MessageHandler) error {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	b.handlersMu.Lock()
	b.handlers[channel] = append(b.handlers[channel], handler)
	b.handlersMu.Unlock()

	if _, exists := b.subs[channel]; exists {
		return nil
	}

	sub := b.client.Subscribe(b.ctx, channel)
	b.subs[channel] = sub

	go b.listen(channel, sub)

	return nil
}

// Unsubscribe tears down a channel's subscription and handlers.
func (b *Bus) Unsubscribe(channel string) error {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	if sub, exists := b.subs[channel]; exists {
		sub.Close()
		delete(b.subs, channel)
	}

	b.handlersMu.Lock()
	delete(b.handlers, channel)
	b.handlersMu.Unlock()

	return nil
}

// Publish publishes a structured message to a channel.
func (b *Bus) Publish(channel string, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return b.client.Publish(b.ctx, channel, data).Err()
}

// PublishRaw publishes raw bytes to a channel.
func (b *Bus) PublishRaw(channel string, data []byte) error {
	return b.client.Publish(b.ctx, channel, data).Err()
}

func (b *Bus) listen(channel string, sub *redis.PubSub) {
	ch := sub.Channel()

	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			b.handlersMu.RLock()
			handlers := b.handlers[channel]
			b.handlersMu.RUnlock()

			for _, handler := range handlers {
				go handler(channel, []byte(msg.Payload))
			}
		}
	}
}

// GetRoomChannel returns the channel name for a document room's edit
// broadcasts.
func GetRoomChannel(docID string) string {
	return fmt.Sprintf("room:%s", docID)
}

// GetPresenceChannel returns the channel name for a document room's
// presence broadcasts.
func GetPresenceChannel(docID string) string {
	return fmt.Sprintf("presence:%s", docID)
}

// offlineKey returns the sorted-set key buffering one user's queued edits
// for one document, scored by client timestamp so ZRANGE yields them in
// submission order (spec.md §4.G invariant).
func offlineKey(docID, userID string) string {
	return fmt.Sprintf("offline:%s:%s", docID, userID)
}

// PushOfflineEdit appends a buffered edit to a user's per-document queue,
// scored by its client timestamp.
func (b *Bus) PushOfflineEdit(ctx context.Context, docID, userID string, score float64, member []byte) error {
	return b.client.ZAdd(ctx, offlineKey(docID, userID), &redis.Z{
		Score:  score,
		Member: member,
	}).Err()
}

// DrainOfflineEdits returns and removes every buffered edit for a user's
// document, ordered oldest-first by client timestamp.
func (b *Bus) DrainOfflineEdits(ctx context.Context, docID, userID string) ([][]byte, error) {
	key := offlineKey(docID, userID)

	members, err := b.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	if err := b.client.Del(ctx, key).Err(); err != nil {
		return nil, err
	}

	out := make([][]byte, len(members))
	for i, m := range members {
		out[i] = []byte(m)
	}
	return out, nil
}

// HasOfflineEdits reports whether a user has any buffered edits waiting
// for a document, without draining them.
func (b *Bus) HasOfflineEdits(ctx context.Context, docID, userID string) (bool, error) {
	n, err := b.CountOfflineEdits(ctx, docID, userID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountOfflineEdits returns the number of buffered edits waiting for a
// user's document, without draining them.
func (b *Bus) CountOfflineEdits(ctx context.Context, docID, userID string) (int, error) {
	n, err := b.client.ZCard(ctx, offlineKey(docID, userID)).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
