// Package broker abstracts the shared service the message queue runs on.
//
// # Overview
//
// The queue needs exactly three primitives from its backing store:
//
//   - key/value storage with per-key expiry (message bodies, status snapshots)
//   - named FIFO lists with blocking pop (per-agent id queues)
//   - publish/subscribe channels (wake-up notifications)
//
// The Broker interface bundles those primitives so the queue layer can be
// constructed against any backend. No hidden process-wide client exists;
// callers inject a Broker at construction time.
//
// # Available Implementations
//
//   - RedisBroker: production backend over a shared Redis server
//   - BadgerBroker: embedded persistent backend for single-process deployments
//   - MemoryBroker: in-memory backend for testing
//
// # Semantics
//
// List push/pop on a given key is atomic within a backend. Pop blocks up to
// the caller's wait duration and returns ErrEmpty when nothing arrived;
// wait <= 0 means a non-blocking attempt. Pub/sub delivery is at-most-once
// and unbuffered beyond a small per-subscriber channel; slow subscribers
// lose notifications, never stored data.
package broker
