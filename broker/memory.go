package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryBroker implements Broker with in-process data structures.
// Useful for testing and single-process scenarios.
type MemoryBroker struct {
	mu      sync.Mutex
	kv      map[string]memEntry
	lists   map[string][]string
	waiters map[string][]chan string
	hub     *pubsubHub
	closed  atomic.Bool

	cleanupTicker *time.Ticker
	done          chan struct{}
}

type memEntry struct {
	value   []byte
	expires time.Time
}

// subscriberBuffer is the per-subscriber channel depth. Notifications
// beyond it are dropped, matching fire-and-forget pub/sub semantics.
const subscriberBuffer = 256

// NewMemoryBroker creates a new in-memory broker.
func NewMemoryBroker() *MemoryBroker {
	b := &MemoryBroker{
		kv:            make(map[string]memEntry),
		lists:         make(map[string][]string),
		waiters:       make(map[string][]chan string),
		hub:           newPubsubHub(),
		cleanupTicker: time.NewTicker(time.Second),
		done:          make(chan struct{}),
	}
	go b.cleanupLoop()
	return b
}

// cleanupLoop removes expired entries periodically.
func (b *MemoryBroker) cleanupLoop() {
	for {
		select {
		case <-b.cleanupTicker.C:
			b.cleanupExpired()
		case <-b.done:
			return
		}
	}
}

func (b *MemoryBroker) cleanupExpired() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	for key, e := range b.kv {
		if now.After(e.expires) {
			delete(b.kv, key)
		}
	}
}

// Put stores a value with a TTL.
func (b *MemoryBroker) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := ValidateTTL(ttl); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}

	val := make([]byte, len(value))
	copy(val, value)

	b.mu.Lock()
	b.kv[key] = memEntry{value: val, expires: time.Now().Add(ttl)}
	b.mu.Unlock()
	return nil
}

// Get retrieves a value by key.
func (b *MemoryBroker) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.kv[key]
	if !ok || time.Now().After(e.expires) {
		return nil, ErrNotFound
	}

	val := make([]byte, len(e.value))
	copy(val, e.value)
	return val, nil
}

// Delete removes a key.
func (b *MemoryBroker) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	delete(b.kv, key)
	b.mu.Unlock()
	return nil
}

// Push appends a value to the tail of a list. If a Pop is already waiting
// on the list, the value is handed to the oldest waiter directly.
func (b *MemoryBroker) Push(ctx context.Context, list, value string) error {
	if err := ValidateKey(list); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if ws := b.waiters[list]; len(ws) > 0 {
		w := ws[0]
		b.waiters[list] = ws[1:]
		w <- value // buffered, never blocks
		return nil
	}

	b.lists[list] = append(b.lists[list], value)
	return nil
}

// Pop removes the head of a list, blocking up to wait.
func (b *MemoryBroker) Pop(ctx context.Context, list string, wait time.Duration) (string, error) {
	if err := ValidateKey(list); err != nil {
		return "", err
	}
	if b.closed.Load() {
		return "", ErrClosed
	}

	b.mu.Lock()
	if items := b.lists[list]; len(items) > 0 {
		head := items[0]
		b.lists[list] = items[1:]
		b.mu.Unlock()
		return head, nil
	}
	if wait <= 0 {
		b.mu.Unlock()
		return "", ErrEmpty
	}

	w := make(chan string, 1)
	b.waiters[list] = append(b.waiters[list], w)
	b.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case v := <-w:
		return v, nil
	case <-timer.C:
		return b.abandonWait(list, w, ErrEmpty)
	case <-ctx.Done():
		return b.abandonWait(list, w, ctx.Err())
	case <-b.done:
		return "", ErrClosed
	}
}

// abandonWait removes a waiter, keeping a value that raced in just as the
// wait ended.
func (b *MemoryBroker) abandonWait(list string, w chan string, cause error) (string, error) {
	b.mu.Lock()
	ws := b.waiters[list]
	for i, c := range ws {
		if c == w {
			b.waiters[list] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	select {
	case v := <-w:
		return v, nil
	default:
		return "", cause
	}
}

// ListLen returns the number of elements in a list.
func (b *MemoryBroker) ListLen(ctx context.Context, list string) (int64, error) {
	if err := ValidateKey(list); err != nil {
		return 0, err
	}
	if b.closed.Load() {
		return 0, ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.lists[list])), nil
}

// DropList removes a list and its contents.
func (b *MemoryBroker) DropList(ctx context.Context, list string) error {
	if err := ValidateKey(list); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	delete(b.lists, list)
	b.mu.Unlock()
	return nil
}

// Publish sends a payload to all subscribers of a channel.
func (b *MemoryBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ValidateKey(channel); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}

	b.hub.publish(channel, payload)
	return nil
}

// Subscribe opens a subscription on a channel.
func (b *MemoryBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	if err := ValidateKey(channel); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}
	return b.hub.subscribe(channel), nil
}

// Ping reports whether the broker is usable.
func (b *MemoryBroker) Ping(ctx context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Close shuts down the broker and wakes all blocked pops.
func (b *MemoryBroker) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	close(b.done)
	b.cleanupTicker.Stop()
	b.hub.close()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.kv = nil
	b.lists = nil
	b.waiters = nil
	return nil
}

// Ensure MemoryBroker implements Broker.
var _ Broker = (*MemoryBroker)(nil)
