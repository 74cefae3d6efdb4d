package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vinayprograms/agentwire/broker"
	"github.com/vinayprograms/agentwire/logging"
	"github.com/vinayprograms/agentwire/message"
)

// Common errors.
var (
	// ErrExpired indicates the message's expiry has already passed, so it
	// was not stored. A broker could reject or silently accept a
	// non-positive TTL; failing eagerly keeps the two cases identical.
	ErrExpired = errors.New("message already expired")
)

// Logical key names on the broker.
const (
	messageKeyPrefix       = "message:"
	regularListPrefix      = "queue:"
	priorityListPrefix     = "priority:"
	notificationChanPrefix = "notifications:"
	statusKeyPrefix        = "status:"
)

// Config holds queue tunables.
type Config struct {
	// DefaultTTL applies to messages without an explicit expiry.
	// Default: 24 hours
	DefaultTTL time.Duration

	// StatusTTL bounds how long a status snapshot outlives its last
	// update. Default: 5 minutes
	StatusTTL time.Duration

	// PriorityWait is the short wait used when checking the priority
	// list ahead of the regular list. Default: 100ms
	PriorityWait time.Duration

	// Logger for queue internals. Default: logging.New()
	Logger *logging.Logger
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:   24 * time.Hour,
		StatusTTL:    5 * time.Minute,
		PriorityWait: 100 * time.Millisecond,
	}
}

// MessageQueue is the broker-backed queue shared by all agents.
// It holds no state of its own; every operation is a broker round-trip.
type MessageQueue struct {
	broker broker.Broker
	config Config
	log    *logging.Logger
}

// New creates a queue on top of a broker.
func New(b broker.Broker, cfg Config) *MessageQueue {
	def := DefaultConfig()
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}
	if cfg.StatusTTL <= 0 {
		cfg.StatusTTL = def.StatusTTL
	}
	if cfg.PriorityWait <= 0 {
		cfg.PriorityWait = def.PriorityWait
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}

	return &MessageQueue{
		broker: b,
		config: cfg,
		log:    cfg.Logger.WithComponent("queue"),
	}
}

// Ping verifies the backing broker is reachable.
func (q *MessageQueue) Ping(ctx context.Context) error {
	return q.broker.Ping(ctx)
}

// Send stores a message and enqueues its id for the target agent.
//
// The body is stored with TTL = expires_at - now when an expiry is set
// (ErrExpired if that is not positive), otherwise the default TTL. The id
// is pushed onto the target's regular list, and additionally onto the
// priority list for high/urgent messages. A notification record is then
// published as a wake-up hint.
//
// Any broker failure is returned as an error so callers can apply their
// own retry policy; Send never blocks beyond the broker round-trips.
func (q *MessageQueue) Send(ctx context.Context, msg *message.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	ttl := q.config.DefaultTTL
	if msg.ExpiresAt != nil {
		ttl = time.Until(*msg.ExpiresAt)
		if ttl <= 0 {
			return ErrExpired
		}
	}

	data, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	if err := q.broker.Put(ctx, messageKeyPrefix+msg.ID, data, ttl); err != nil {
		q.log.Warn("store failed", logging.Fields{"id": msg.ID, "error": err})
		return fmt.Errorf("store message: %w", err)
	}

	if err := q.broker.Push(ctx, regularListPrefix+msg.TargetAgent, msg.ID); err != nil {
		q.log.Warn("enqueue failed", logging.Fields{"id": msg.ID, "target": msg.TargetAgent, "error": err})
		return fmt.Errorf("enqueue message: %w", err)
	}

	if msg.Priority.Elevated() {
		if err := q.broker.Push(ctx, priorityListPrefix+msg.TargetAgent, msg.ID); err != nil {
			q.log.Warn("priority enqueue failed", logging.Fields{"id": msg.ID, "target": msg.TargetAgent, "error": err})
			return fmt.Errorf("enqueue priority message: %w", err)
		}
	}

	note, err := message.NotificationFor(msg).Marshal()
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := q.broker.Publish(ctx, notificationChanPrefix+msg.TargetAgent, note); err != nil {
		// The message is already queued; a lost wake-up only delays
		// pickup. Still surfaced, matching "any broker failure".
		q.log.Warn("notify failed", logging.Fields{"id": msg.ID, "target": msg.TargetAgent, "error": err})
		return fmt.Errorf("publish notification: %w", err)
	}

	return nil
}

// Receive pops the next message for an agent, waiting up to timeout.
//
// The priority list is checked first with a short wait, then the regular
// list with the remaining budget. Returns (nil, nil) when nothing was
// available, including the case of a popped id whose body already
// expired; the caller simply polls again.
//
// The read is destructive: the body is deleted before the message is
// returned, so a given id is delivered at most once.
func (q *MessageQueue) Receive(ctx context.Context, agentID string, timeout time.Duration) (*message.Message, error) {
	id, err := q.broker.Pop(ctx, priorityListPrefix+agentID, q.config.PriorityWait)
	if errors.Is(err, broker.ErrEmpty) {
		id, err = q.broker.Pop(ctx, regularListPrefix+agentID, timeout)
	}
	if errors.Is(err, broker.ErrEmpty) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop message id: %w", err)
	}

	data, err := q.broker.Get(ctx, messageKeyPrefix+id)
	if errors.Is(err, broker.ErrNotFound) {
		// TTL elapsed between enqueue and pop.
		q.log.Debug("body expired before pickup", logging.Fields{"id": id, "agent": agentID})
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load message body: %w", err)
	}

	if err := q.broker.Delete(ctx, messageKeyPrefix+id); err != nil {
		// The body was read; failing the delete must not lose the
		// delivery. The TTL reclaims the orphan.
		q.log.Warn("delete after read failed", logging.Fields{"id": id, "error": err})
	}

	msg, err := message.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}

// NotificationHandler consumes decoded wake-up notifications.
type NotificationHandler func(*message.Notification)

// NotificationSubscription is a live notification stream for one agent.
type NotificationSubscription struct {
	sub  broker.Subscription
	done chan struct{}
}

// SubscribeNotifications invokes fn for every notification published for
// the agent, until Unsubscribe is called or the broker closes.
//
// Notifications are hints with at-most-once delivery; the queue remains
// the authoritative state. Malformed payloads are logged and skipped.
func (q *MessageQueue) SubscribeNotifications(ctx context.Context, agentID string, fn NotificationHandler) (*NotificationSubscription, error) {
	sub, err := q.broker.Subscribe(ctx, notificationChanPrefix+agentID)
	if err != nil {
		return nil, fmt.Errorf("subscribe notifications: %w", err)
	}

	ns := &NotificationSubscription{sub: sub, done: make(chan struct{})}
	go func() {
		defer close(ns.done)
		for payload := range sub.Payloads() {
			n, err := message.UnmarshalNotification(payload)
			if err != nil {
				q.log.Warn("bad notification payload", logging.Fields{"agent": agentID, "error": err})
				continue
			}
			fn(n)
		}
	}()

	return ns, nil
}

// Unsubscribe ends the notification stream and waits for the dispatch
// goroutine to drain.
func (s *NotificationSubscription) Unsubscribe() error {
	err := s.sub.Unsubscribe()
	<-s.done
	return err
}

// Sizes reports the pending id counts for an agent.
type Sizes struct {
	Regular  int64 `json:"regular"`
	Priority int64 `json:"priority"`
	Total    int64 `json:"total"`
}

// QueueSizes returns the pending message counts for an agent. An id in
// both lists (high/urgent) is counted in each, matching the raw list
// lengths.
func (q *MessageQueue) QueueSizes(ctx context.Context, agentID string) (Sizes, error) {
	regular, err := q.broker.ListLen(ctx, regularListPrefix+agentID)
	if err != nil {
		return Sizes{}, fmt.Errorf("regular queue size: %w", err)
	}
	priority, err := q.broker.ListLen(ctx, priorityListPrefix+agentID)
	if err != nil {
		return Sizes{}, fmt.Errorf("priority queue size: %w", err)
	}

	return Sizes{
		Regular:  regular,
		Priority: priority,
		Total:    regular + priority,
	}, nil
}

// ClearQueue drops both pending id lists for an agent. Stored bodies are
// left for their TTLs to reclaim.
func (q *MessageQueue) ClearQueue(ctx context.Context, agentID string) error {
	if err := q.broker.DropList(ctx, regularListPrefix+agentID); err != nil {
		return fmt.Errorf("clear regular queue: %w", err)
	}
	if err := q.broker.DropList(ctx, priorityListPrefix+agentID); err != nil {
		return fmt.Errorf("clear priority queue: %w", err)
	}
	return nil
}

// AgentStatus returns the latest status snapshot for an agent, or an
// empty map when none is stored (or the snapshot expired).
func (q *MessageQueue) AgentStatus(ctx context.Context, agentID string) (map[string]any, error) {
	data, err := q.broker.Get(ctx, statusKeyPrefix+agentID)
	if errors.Is(err, broker.ErrNotFound) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load agent status: %w", err)
	}

	var status map[string]any
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("decode agent status: %w", err)
	}
	return status, nil
}

// UpdateAgentStatus overwrites an agent's status snapshot with a fresh
// TTL. There is no merge; the caller supplies the whole snapshot.
func (q *MessageQueue) UpdateAgentStatus(ctx context.Context, agentID string, status map[string]any) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encode agent status: %w", err)
	}

	if err := q.broker.Put(ctx, statusKeyPrefix+agentID, data, q.config.StatusTTL); err != nil {
		return fmt.Errorf("store agent status: %w", err)
	}
	return nil
}
