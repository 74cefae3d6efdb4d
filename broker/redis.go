package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Host and Port of the Redis server.
	Host string
	Port int

	// DB is the logical database number.
	DB int

	// Password for AUTH; empty means no auth.
	Password string

	// DialTimeout for establishing a connection.
	// Default: 5 seconds
	DialTimeout time.Duration

	// PoolSize is the maximum number of socket connections.
	// Default: 10
	PoolSize int
}

// DefaultRedisConfig returns configuration with sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Host:        "localhost",
		Port:        6379,
		DialTimeout: 5 * time.Second,
		PoolSize:    10,
	}
}

// Addr returns the host:port address.
func (c RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// RedisBroker implements Broker over a shared Redis server.
//
// Message bodies map to SET with expiry, per-agent lists to LPUSH/BRPOP
// (push left, pop right: FIFO), and notification channels to PUBLISH and
// SUBSCRIBE.
type RedisBroker struct {
	client *redis.Client
	config RedisConfig
}

// NewRedisBroker creates a broker connected to the configured server.
// The connection is lazy; use Ping to verify reachability.
func NewRedisBroker(cfg RedisConfig) *RedisBroker {
	if cfg.Host == "" {
		cfg.Host = DefaultRedisConfig().Host
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultRedisConfig().Port
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultRedisConfig().DialTimeout
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultRedisConfig().PoolSize
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		DB:          cfg.DB,
		Password:    cfg.Password,
		DialTimeout: cfg.DialTimeout,
		PoolSize:    cfg.PoolSize,
	})

	return &RedisBroker{client: client, config: cfg}
}

// NewRedisBrokerFromClient wraps an existing client.
func NewRedisBrokerFromClient(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

// Put stores a value with a TTL.
func (b *RedisBroker) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := ValidateTTL(ttl); err != nil {
		return err
	}

	if err := b.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Get retrieves a value by key.
func (b *RedisBroker) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	val, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

// Delete removes a key.
func (b *RedisBroker) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	if err := b.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Push appends a value to the tail of a list.
func (b *RedisBroker) Push(ctx context.Context, list, value string) error {
	if err := ValidateKey(list); err != nil {
		return err
	}

	if err := b.client.LPush(ctx, list, value).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}

// Pop removes the head of a list, blocking up to wait.
func (b *RedisBroker) Pop(ctx context.Context, list string, wait time.Duration) (string, error) {
	if err := ValidateKey(list); err != nil {
		return "", err
	}

	if wait <= 0 {
		val, err := b.client.RPop(ctx, list).Result()
		if errors.Is(err, redis.Nil) {
			return "", ErrEmpty
		}
		if err != nil {
			return "", fmt.Errorf("redis rpop: %w", err)
		}
		return val, nil
	}

	// BRPOP timeout 0 blocks forever; callers always bound the wait.
	res, err := b.client.BRPop(ctx, wait, list).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrEmpty
	}
	if err != nil {
		return "", fmt.Errorf("redis brpop: %w", err)
	}
	// BRPOP returns [key, value].
	return res[1], nil
}

// ListLen returns the number of elements in a list.
func (b *RedisBroker) ListLen(ctx context.Context, list string) (int64, error) {
	if err := ValidateKey(list); err != nil {
		return 0, err
	}

	n, err := b.client.LLen(ctx, list).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen: %w", err)
	}
	return n, nil
}

// DropList removes a list and its contents.
func (b *RedisBroker) DropList(ctx context.Context, list string) error {
	return b.Delete(ctx, list)
}

// Publish sends a payload to all subscribers of a channel.
func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ValidateKey(channel); err != nil {
		return err
	}

	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe opens a subscription on a channel.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	if err := ValidateKey(channel); err != nil {
		return nil, err
	}

	pubsub := b.client.Subscribe(ctx, channel)

	// Force the subscription onto the wire before returning so publishes
	// that follow Subscribe are observed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	sub := &redisSub{
		pubsub: pubsub,
		ch:     make(chan []byte, subscriberBuffer),
	}
	go sub.pump()

	return sub, nil
}

// Ping verifies the server is reachable.
func (b *RedisBroker) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close shuts down the client connection pool.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}

// Client returns the underlying client for advanced use.
func (b *RedisBroker) Client() *redis.Client {
	return b.client
}

// redisSub wraps a Redis pub/sub subscription.
type redisSub struct {
	pubsub *redis.PubSub
	ch     chan []byte
}

// pump forwards Redis messages onto the payload channel.
func (s *redisSub) pump() {
	defer close(s.ch)
	for msg := range s.pubsub.Channel() {
		select {
		case s.ch <- []byte(msg.Payload):
		default:
			// Subscriber buffer full, drop
		}
	}
}

// Payloads returns the subscription's payload channel.
func (s *redisSub) Payloads() <-chan []byte {
	return s.ch
}

// Unsubscribe cancels the subscription.
func (s *redisSub) Unsubscribe() error {
	return s.pubsub.Close()
}

// Ensure RedisBroker implements Broker.
var _ Broker = (*RedisBroker)(nil)
