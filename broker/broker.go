package broker

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	// ErrClosed indicates the broker has been closed.
	ErrClosed = errors.New("broker closed")

	// ErrNotFound indicates the key does not exist or has expired.
	ErrNotFound = errors.New("key not found")

	// ErrEmpty indicates a pop found no element within the wait window.
	ErrEmpty = errors.New("list empty")

	// ErrInvalidKey indicates an empty or malformed key name.
	ErrInvalidKey = errors.New("invalid key")

	// ErrInvalidTTL indicates a non-positive TTL.
	ErrInvalidTTL = errors.New("invalid TTL")
)

// Broker provides the storage, list, and pub/sub primitives the message
// queue is built on. Implementations must be safe for concurrent use.
type Broker interface {
	// Put stores value under key with the given TTL. The TTL must be
	// positive; the broker reclaims the key once it elapses.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves the value stored under key.
	// Returns ErrNotFound if the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Push appends value to the tail of the named list.
	Push(ctx context.Context, list, value string) error

	// Pop removes and returns the head of the named list, blocking up to
	// wait for an element to arrive. A wait <= 0 attempts a single
	// non-blocking pop. Returns ErrEmpty when nothing was available.
	Pop(ctx context.Context, list string, wait time.Duration) (string, error)

	// ListLen returns the number of elements in the named list.
	ListLen(ctx context.Context, list string) (int64, error)

	// DropList removes a list and all of its elements.
	DropList(ctx context.Context, list string) error

	// Publish sends payload to all current subscribers of channel.
	// Delivery is fire-and-forget.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe opens a subscription on channel. The subscription stays
	// live until Unsubscribe is called or the broker closes.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// Ping verifies the broker is reachable.
	Ping(ctx context.Context) error

	// Close releases the broker's resources.
	Close() error
}

// Subscription is an active pub/sub subscription.
type Subscription interface {
	// Payloads returns the channel of published payloads.
	// The channel is closed when the subscription ends.
	Payloads() <-chan []byte

	// Unsubscribe cancels the subscription.
	Unsubscribe() error
}

// ValidateKey checks a key or list name.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > 1024 {
		return ErrInvalidKey
	}
	return nil
}

// ValidateTTL checks a storage TTL.
func ValidateTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}
