// Package events announces appended blocks to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gymchain/gymchain-ledger/internal/protocol"
)

const (
	EventBlockAppended = "block_appended"
	DefaultChannel     = "gymchain:blocks"
)

type Publisher interface {
	PublishBlock(ctx context.Context, b protocol.Block) error
	Close() error
}

// Nop drops every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) PublishBlock(context.Context, protocol.Block) error { return nil }
func (Nop) Close() error                                       { return nil }

type RedisOptions struct {
	Addr        string
	Password    string
	DB          int
	Channel     string
	Issuer      string
	DialTimeout time.Duration
}

type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
	issuer  string
	now     func() time.Time
}

func NewRedisPublisher(ctx context.Context, opts RedisOptions) (*RedisPublisher, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return NewRedisPublisherWithClient(client, opts.Channel, opts.Issuer), nil
}

func NewRedisPublisherWithClient(client redis.UniversalClient, channel, issuer string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel, issuer: issuer, now: time.Now}
}

func (p *RedisPublisher) PublishBlock(ctx context.Context, b protocol.Block) error {
	payload, err := encodeBlockEvent(p.issuer, b, p.now())
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish block %d: %w", b.Index, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

func encodeBlockEvent(issuer string, b protocol.Block, at time.Time) ([]byte, error) {
	raw, err := json.Marshal(protocol.BlockEvent{
		Type:        EventBlockAppended,
		Issuer:      issuer,
		Block:       b,
		PublishedAt: at.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode block event: %w", err)
	}
	return raw, nil
}
