// Package queue implements the broker-backed message queue between agents.
//
// # Overview
//
// MessageQueue owns the wire protocol. Sending persists the serialized
// message body under message:<id> with a TTL, pushes the id onto the
// target's queue:<agent> list (and priority:<agent> for high/urgent), and
// publishes a wake-up notification on notifications:<agent>. Receiving
// pops an id, loads and deletes the body, and returns the decoded message.
//
// # Delivery Semantics
//
// Delivery is at-most-once: the body is deleted the moment it is read,
// there is no acknowledgment and no redelivery. A popped id whose body has
// already expired counts as "no message this cycle", not an error.
//
// Priority preference is best-effort. A receive checks the priority list
// with a short wait, then falls back to a blocking pop on the regular
// list. The two checks are separate broker operations; a priority message
// arriving between them does not jump ahead of an in-flight regular pop.
// Consumers depend on this weaker guarantee; do not replace it with an
// atomic multi-queue pop.
//
// # Status Cache
//
// Agent status snapshots live under status:<agent> with a short TTL and
// are overwritten wholesale. Last write wins; there is no history.
package queue
