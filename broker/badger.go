package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes inside the Badger keyspace.
const (
	badgerKVPrefix   = "kv/"
	badgerListPrefix = "list/"
	badgerSeqPrefix  = "seq/"
)

// badgerPollInterval bounds how long a blocked Pop sleeps between scans
// when no push signal arrives.
const badgerPollInterval = 50 * time.Millisecond

// seqBandwidth is the lease size for Badger sequences.
const seqBandwidth = 128

// BadgerBroker implements Broker on an embedded Badger database.
//
// Key/value entries use Badger's native per-entry TTL. Lists are ranges of
// sequence-ordered keys popped in key order, so FIFO semantics come from
// the keyspace itself and survive restarts. Pub/sub is in-process only:
// an embedded database has no cross-process channel, so BadgerBroker suits
// deployments where all agents share one OS process while still wanting
// queue durability.
type BadgerBroker struct {
	db     *badger.DB
	ownsDB bool
	closed atomic.Bool
	done   chan struct{}
	hub    *pubsubHub

	mu      sync.Mutex
	seqs    map[string]*badger.Sequence
	signals map[string]chan struct{}
}

// NewBadgerBroker wraps an existing Badger database.
func NewBadgerBroker(db *badger.DB) (*BadgerBroker, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	return &BadgerBroker{
		db:      db,
		done:    make(chan struct{}),
		hub:     newPubsubHub(),
		seqs:    make(map[string]*badger.Sequence),
		signals: make(map[string]chan struct{}),
	}, nil
}

// OpenBadgerBroker opens a Badger database at path and wraps it.
// The database is closed together with the broker.
func OpenBadgerBroker(path string) (*BadgerBroker, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}

	b, err := NewBadgerBroker(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	b.ownsDB = true
	return b, nil
}

// Put stores a value with a TTL.
func (b *BadgerBroker) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := ValidateTTL(ttl); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(badgerKVPrefix+key), value).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("badger set: %w", err)
	}
	return nil
}

// Get retrieves a value by key.
func (b *BadgerBroker) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}

	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKVPrefix + key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return val, nil
}

// Delete removes a key.
func (b *BadgerBroker) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerKVPrefix + key))
	})
	if err != nil {
		return fmt.Errorf("badger delete: %w", err)
	}
	return nil
}

// Push appends a value to the tail of a list and wakes one blocked Pop.
func (b *BadgerBroker) Push(ctx context.Context, list, value string) error {
	if err := ValidateKey(list); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}

	seq, err := b.nextSeq(list)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("%s%s/%020d", badgerListPrefix, list, seq)
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("badger push: %w", err)
	}

	// Wake one waiter, if any.
	select {
	case b.signal(list) <- struct{}{}:
	default:
	}
	return nil
}

// nextSeq returns the next sequence number for a list. Sequences are
// persisted, so list order survives restarts.
func (b *BadgerBroker) nextSeq(list string) (uint64, error) {
	b.mu.Lock()
	seq, ok := b.seqs[list]
	if !ok {
		var err error
		seq, err = b.db.GetSequence([]byte(badgerSeqPrefix+list), seqBandwidth)
		if err != nil {
			b.mu.Unlock()
			return 0, fmt.Errorf("badger sequence: %w", err)
		}
		b.seqs[list] = seq
	}
	b.mu.Unlock()

	n, err := seq.Next()
	if err != nil {
		return 0, fmt.Errorf("badger sequence: %w", err)
	}
	return n, nil
}

// signal returns the wake-up channel for a list.
func (b *BadgerBroker) signal(list string) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.signals == nil {
		// Closed; hand back a throwaway channel.
		return make(chan struct{}, 1)
	}

	ch, ok := b.signals[list]
	if !ok {
		ch = make(chan struct{}, 1)
		b.signals[list] = ch
	}
	return ch
}

// Pop removes the head of a list, blocking up to wait.
func (b *BadgerBroker) Pop(ctx context.Context, list string, wait time.Duration) (string, error) {
	if err := ValidateKey(list); err != nil {
		return "", err
	}
	if b.closed.Load() {
		return "", ErrClosed
	}

	deadline := time.Now().Add(wait)
	for {
		val, err := b.popOnce(list)
		if err == nil {
			return val, nil
		}
		if !errors.Is(err, ErrEmpty) {
			return "", err
		}
		if wait <= 0 || !time.Now().Before(deadline) {
			return "", ErrEmpty
		}

		// Sleep until a push signal or the poll interval, whichever
		// comes first. Polling backstops a signal consumed by a
		// competing popper.
		nap := time.Until(deadline)
		if nap > badgerPollInterval {
			nap = badgerPollInterval
		}
		timer := time.NewTimer(nap)
		select {
		case <-b.signal(list):
			timer.Stop()
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-b.done:
			timer.Stop()
			return "", ErrClosed
		}
	}
}

// popOnce attempts a single destructive pop of the list head.
func (b *BadgerBroker) popOnce(list string) (string, error) {
	prefix := []byte(badgerListPrefix + list + "/")

	for {
		var val string
		err := b.db.Update(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = true
			opts.PrefetchSize = 1
			it := txn.NewIterator(opts)
			defer it.Close()

			it.Seek(prefix)
			if !it.ValidForPrefix(prefix) {
				return ErrEmpty
			}

			item := it.Item()
			if err := item.Value(func(v []byte) error {
				val = string(v)
				return nil
			}); err != nil {
				return err
			}
			return txn.Delete(item.KeyCopy(nil))
		})
		if errors.Is(err, badger.ErrConflict) {
			// Another popper took the same head; retry on the next.
			continue
		}
		if errors.Is(err, ErrEmpty) {
			return "", ErrEmpty
		}
		if err != nil {
			return "", fmt.Errorf("badger pop: %w", err)
		}
		return val, nil
	}
}

// ListLen returns the number of elements in a list.
func (b *BadgerBroker) ListLen(ctx context.Context, list string) (int64, error) {
	if err := ValidateKey(list); err != nil {
		return 0, err
	}
	if b.closed.Load() {
		return 0, ErrClosed
	}

	prefix := []byte(badgerListPrefix + list + "/")
	var n int64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badger list len: %w", err)
	}
	return n, nil
}

// DropList removes a list and its contents.
func (b *BadgerBroker) DropList(ctx context.Context, list string) error {
	if err := ValidateKey(list); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}

	prefix := []byte(badgerListPrefix + list + "/")
	err := b.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger drop list: %w", err)
	}
	return nil
}

// Publish sends a payload to in-process subscribers of a channel.
func (b *BadgerBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ValidateKey(channel); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}

	b.hub.publish(channel, payload)
	return nil
}

// Subscribe opens an in-process subscription on a channel.
func (b *BadgerBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	if err := ValidateKey(channel); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}
	return b.hub.subscribe(channel), nil
}

// Ping reports whether the database is usable.
func (b *BadgerBroker) Ping(ctx context.Context) error {
	if b.closed.Load() || b.db.IsClosed() {
		return ErrClosed
	}
	return nil
}

// Close releases sequences, wakes blocked pops, and closes the database
// if this broker opened it.
func (b *BadgerBroker) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	close(b.done)
	b.hub.close()

	b.mu.Lock()
	for _, seq := range b.seqs {
		_ = seq.Release()
	}
	b.seqs = nil
	b.signals = nil
	b.mu.Unlock()

	if b.ownsDB {
		return b.db.Close()
	}
	return nil
}

// DB returns the underlying database for advanced use.
func (b *BadgerBroker) DB() *badger.DB {
	return b.db
}

// Ensure BadgerBroker implements Broker.
var _ Broker = (*BadgerBroker)(nil)
