package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/vaultlabs/share-vault/src/vault/vault"
)

// EventPublisher buffers vault events until the batch that produced them is
// persisted.
type EventPublisher interface {
	vault.EventSink
	Flush(ctx context.Context) (int, error)
	Discard()
}

// RedisEventPublisher pushes events as JSON onto a Redis list.
type RedisEventPublisher struct {
	client *redis.Client
	queue  string

	mu      sync.Mutex
	pending []vault.Event
}

func NewRedisClient(addr string, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:            addr,
		Password:        password,
		PoolSize:        500,
		MaxRetries:      5,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
		DialTimeout:     10 * time.Second,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		PoolTimeout:     15 * time.Second,
		IdleTimeout:     5 * time.Minute,
	})
}

func NewRedisEventPublisher(client *redis.Client, queue string) *RedisEventPublisher {
	return &RedisEventPublisher{client: client, queue: queue}
}

func (p *RedisEventPublisher) Emit(event vault.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, event)
}

func (p *RedisEventPublisher) Flush(ctx context.Context) (int, error) {
	p.mu.Lock()
	events := p.pending
	p.pending = nil
	p.mu.Unlock()
	if len(events) == 0 {
		return 0, nil
	}
	pipe := p.client.Pipeline()
	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return 0, err
		}
		pipe.RPush(ctx, p.queue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(events), nil
}

func (p *RedisEventPublisher) Discard() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = nil
}

// MemoryEventPublisher keeps flushed events in memory. It is used when no
// Redis queue is configured.
type MemoryEventPublisher struct {
	buffer    vault.MemorySink
	mu        sync.Mutex
	published []vault.Event
}

func (p *MemoryEventPublisher) Emit(event vault.Event) {
	p.buffer.Emit(event)
}

func (p *MemoryEventPublisher) Flush(context.Context) (int, error) {
	events := p.buffer.Drain()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, events...)
	return len(events), nil
}

func (p *MemoryEventPublisher) Discard() {
	p.buffer.Drain()
}

func (p *MemoryEventPublisher) Published() []vault.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]vault.Event(nil), p.published...)
}
