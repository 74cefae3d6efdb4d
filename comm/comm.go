package comm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/agentwire/logging"
	"github.com/vinayprograms/agentwire/message"
	"github.com/vinayprograms/agentwire/queue"
)

// Common errors.
var (
	// ErrMissingAgentID is returned when a Communicator is created
	// without an agent id.
	ErrMissingAgentID = errors.New("agent id is required")

	// ErrMissingQueue is returned when a Communicator is created without
	// a queue.
	ErrMissingQueue = errors.New("message queue is required")

	// ErrMissingCorrelation is returned by SendDataResponse when no
	// correlation id is supplied.
	ErrMissingCorrelation = errors.New("correlation id is required")

	// ErrAlreadyListening is returned by StartListening when the
	// consumer loop is already running.
	ErrAlreadyListening = errors.New("consumer loop already running")

	// ErrStopTimeout is returned when a loop does not exit within the
	// stop grace period.
	ErrStopTimeout = errors.New("loop did not stop within grace period")
)

// Handler processes one received message. A returned error is logged;
// it does not trigger redelivery.
type Handler func(*message.Message) error

// Config holds communicator tunables.
type Config struct {
	// AgentID identifies this agent on the queue. Required.
	AgentID string

	// PollTimeout bounds each blocking receive in the consumer loop.
	// Default: 1 second
	PollTimeout time.Duration

	// StopGrace bounds how long StopListening and StopHeartbeat wait
	// for their loop to exit. Default: 5 seconds
	StopGrace time.Duration

	// HeartbeatInterval is the default period for StartHeartbeat.
	// Default: 30 seconds
	HeartbeatInterval time.Duration

	// Logger for communicator internals. Default: logging.New()
	Logger *logging.Logger
}

// DefaultConfig returns configuration with sensible defaults.
// AgentID must still be set by the caller.
func DefaultConfig() Config {
	return Config{
		PollTimeout:       time.Second,
		StopGrace:         5 * time.Second,
		HeartbeatInterval: 30 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.AgentID == "" {
		return ErrMissingAgentID
	}
	return nil
}

// Communicator is the per-agent façade over the shared queue.
type Communicator struct {
	agentID string
	queue   *queue.MessageQueue
	config  Config
	log     *logging.Logger

	mu       sync.RWMutex
	handlers map[message.Type]Handler

	listening atomic.Bool
	stopCh    chan struct{}
	doneCh    chan struct{}

	hbRunning atomic.Bool
	hbStopCh  chan struct{}
	hbDoneCh  chan struct{}
}

// New creates a Communicator for one agent on top of a queue.
func New(q *queue.MessageQueue, cfg Config) (*Communicator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if q == nil {
		return nil, ErrMissingQueue
	}

	def := DefaultConfig()
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = def.PollTimeout
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = def.StopGrace
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}

	return &Communicator{
		agentID:  cfg.AgentID,
		queue:    q,
		config:   cfg,
		log:      cfg.Logger.WithComponent("comm").WithAgent(cfg.AgentID),
		handlers: make(map[message.Type]Handler),
	}, nil
}

// AgentID returns the agent id this communicator acts as.
func (c *Communicator) AgentID() string {
	return c.agentID
}

// Ping verifies the backing broker is reachable.
func (c *Communicator) Ping(ctx context.Context) error {
	return c.queue.Ping(ctx)
}

// RegisterHandler binds a handler to a message type. One handler per
// type; a later registration replaces the earlier one.
func (c *Communicator) RegisterHandler(t message.Type, h Handler) error {
	if !t.Valid() {
		return message.ErrInvalidType
	}
	if h == nil {
		return errors.New("handler is required")
	}

	c.mu.Lock()
	c.handlers[t] = h
	c.mu.Unlock()

	c.log.Debug("handler registered", logging.Fields{"type": t})
	return nil
}

// Send sends an already constructed message through the queue.
func (c *Communicator) Send(ctx context.Context, msg *message.Message) error {
	return c.queue.Send(ctx, msg)
}

// SendTaskNotification sends a task_notification and returns its id.
func (c *Communicator) SendTaskNotification(ctx context.Context, target string, payload map[string]any, priority message.Priority) (string, error) {
	return c.send(ctx, target, message.TypeTaskNotification, payload, priority, "")
}

// SendStatusUpdate sends a status_update and returns its id.
func (c *Communicator) SendStatusUpdate(ctx context.Context, target string, payload map[string]any, priority message.Priority) (string, error) {
	return c.send(ctx, target, message.TypeStatusUpdate, payload, priority, "")
}

// SendErrorAlert sends an error_alert at high priority. Alerts always
// go out high so they reach the target's priority list.
func (c *Communicator) SendErrorAlert(ctx context.Context, target string, payload map[string]any) (string, error) {
	return c.send(ctx, target, message.TypeErrorAlert, payload, message.PriorityHigh, "")
}

// RequestData sends a data_request and returns the correlation id the
// eventual data_response will carry. Pass an empty correlationID to
// have one generated.
//
// There is no built-in await; the caller matches the response through
// its own data_response handler.
func (c *Communicator) RequestData(ctx context.Context, target string, payload map[string]any, correlationID string) (string, error) {
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	if _, err := c.send(ctx, target, message.TypeDataRequest, payload, message.PriorityNormal, correlationID); err != nil {
		return "", err
	}
	return correlationID, nil
}

// SendDataResponse sends a data_response echoing the request's
// correlation id verbatim.
func (c *Communicator) SendDataResponse(ctx context.Context, target string, payload map[string]any, correlationID string) (string, error) {
	if correlationID == "" {
		return "", ErrMissingCorrelation
	}
	return c.send(ctx, target, message.TypeDataResponse, payload, message.PriorityNormal, correlationID)
}

// Broadcast sends one independent message per target and returns the
// ids of the sends that succeeded. Individual failures are logged, not
// returned; a partial result is shorter than the target list.
func (c *Communicator) Broadcast(ctx context.Context, targets []string, t message.Type, payload map[string]any, priority message.Priority) []string {
	ids := make([]string, 0, len(targets))
	for _, target := range targets {
		id, err := c.send(ctx, target, t, payload, priority, "")
		if err != nil {
			c.log.Warn("broadcast send failed", logging.Fields{"target": target, "type": t, "error": err})
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// send builds and sends a message, returning the generated id.
func (c *Communicator) send(ctx context.Context, target string, t message.Type, payload map[string]any, priority message.Priority, correlationID string) (string, error) {
	msg := message.New(c.agentID, target, t, priority, payload)
	msg.CorrelationID = correlationID
	if err := c.queue.Send(ctx, msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// StartListening starts the single background consumer loop. Returns
// ErrAlreadyListening if a loop is already running.
func (c *Communicator) StartListening(ctx context.Context) error {
	if c.listening.Swap(true) {
		return ErrAlreadyListening
	}

	if ctx == nil {
		ctx = context.Background()
	}

	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})

	go c.run(ctx, c.stopCh, c.doneCh)
	c.log.Info("consumer loop started")
	return nil
}

// StopListening signals the consumer loop to exit and waits up to the
// stop grace period. The loop observes the signal between receives, so
// latency is bounded by the poll timeout. Calling StopListening when no
// loop is running is a no-op.
func (c *Communicator) StopListening() error {
	if !c.listening.Swap(false) {
		return nil
	}

	close(c.stopCh)
	select {
	case <-c.doneCh:
		c.log.Info("consumer loop stopped")
		return nil
	case <-time.After(c.config.StopGrace):
		return ErrStopTimeout
	}
}

// run is the consumer loop: receive, dispatch, repeat.
func (c *Communicator) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			c.listening.Store(false)
			return
		default:
		}

		msg, err := c.queue.Receive(ctx, c.agentID, c.config.PollTimeout)
		if err != nil {
			c.log.Warn("receive failed", logging.Fields{"error": err})
			// Back off so a dead broker does not spin the loop.
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				c.listening.Store(false)
				return
			case <-time.After(c.config.PollTimeout):
			}
			continue
		}
		if msg == nil {
			continue
		}

		c.dispatch(msg)
	}
}

// dispatch invokes the registered handler for one message, absorbing
// handler errors and panics so the loop survives bad messages.
func (c *Communicator) dispatch(msg *message.Message) {
	c.mu.RLock()
	h, ok := c.handlers[msg.Type]
	c.mu.RUnlock()

	if !ok {
		c.log.Debug("no handler, dropping", logging.Fields{"id": msg.ID, "type": msg.Type})
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("handler panicked", logging.Fields{"id": msg.ID, "type": msg.Type, "panic": r})
		}
	}()

	if err := h(msg); err != nil {
		c.log.Warn("handler failed", logging.Fields{"id": msg.ID, "type": msg.Type, "error": err})
	}
}

// SubscribeNotifications opens a wake-up notification stream for this
// agent. See queue.MessageQueue.SubscribeNotifications.
func (c *Communicator) SubscribeNotifications(ctx context.Context, fn queue.NotificationHandler) (*queue.NotificationSubscription, error) {
	return c.queue.SubscribeNotifications(ctx, c.agentID, fn)
}

// QueueSizes reports this agent's pending message counts.
func (c *Communicator) QueueSizes(ctx context.Context) (queue.Sizes, error) {
	return c.queue.QueueSizes(ctx, c.agentID)
}

// ClearQueue drops this agent's pending message lists.
func (c *Communicator) ClearQueue(ctx context.Context) error {
	return c.queue.ClearQueue(ctx, c.agentID)
}

// AgentStatus returns the latest status snapshot for any agent.
func (c *Communicator) AgentStatus(ctx context.Context, agentID string) (map[string]any, error) {
	return c.queue.AgentStatus(ctx, agentID)
}

// UpdateStatus stamps agent_id and last_updated onto the supplied
// snapshot and stores it with a fresh TTL. The input map is not
// modified.
func (c *Communicator) UpdateStatus(ctx context.Context, status map[string]any) error {
	stamped := make(map[string]any, len(status)+2)
	for k, v := range status {
		stamped[k] = v
	}
	stamped["agent_id"] = c.agentID
	stamped["last_updated"] = time.Now().UTC().Format(time.RFC3339)

	return c.queue.UpdateAgentStatus(ctx, c.agentID, stamped)
}

// StartHeartbeat periodically re-publishes the given status snapshot
// through UpdateStatus, first immediately and then on the configured
// interval, keeping the status key alive past its TTL. Returns an error
// if a heartbeat loop is already running.
func (c *Communicator) StartHeartbeat(ctx context.Context, status map[string]any) error {
	if c.hbRunning.Swap(true) {
		return errors.New("heartbeat already running")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	c.hbStopCh = make(chan struct{})
	c.hbDoneCh = make(chan struct{})

	go c.heartbeat(ctx, status, c.hbStopCh, c.hbDoneCh)
	return nil
}

// StopHeartbeat stops the heartbeat loop. No-op when none is running.
func (c *Communicator) StopHeartbeat() error {
	if !c.hbRunning.Swap(false) {
		return nil
	}

	close(c.hbStopCh)
	select {
	case <-c.hbDoneCh:
		return nil
	case <-time.After(c.config.StopGrace):
		return ErrStopTimeout
	}
}

// heartbeat is the status re-publish loop.
func (c *Communicator) heartbeat(ctx context.Context, status map[string]any, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	beat := func() {
		if err := c.UpdateStatus(ctx, status); err != nil {
			c.log.Warn("heartbeat failed", logging.Fields{"error": err})
		}
	}
	beat()

	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			c.hbRunning.Store(false)
			return
		case <-ticker.C:
			beat()
		}
	}
}

// Shutdown stops the consumer and heartbeat loops. It satisfies the
// shutdown coordinator's handler shape.
func (c *Communicator) Shutdown(ctx context.Context) error {
	if err := c.StopHeartbeat(); err != nil {
		return fmt.Errorf("stop heartbeat: %w", err)
	}
	if err := c.StopListening(); err != nil {
		return fmt.Errorf("stop listening: %w", err)
	}
	return nil
}
