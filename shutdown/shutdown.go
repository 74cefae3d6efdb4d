// Package shutdown coordinates graceful teardown of an agent process.
//
// # Overview
//
// An agent process typically owns a consumer loop, a heartbeat and a
// broker connection. The Coordinator tears them down in phases: lower
// phase numbers stop first, handlers in the same phase stop
// concurrently. The conventional order is consumers first (stop taking
// work), then communicators, then the broker connection last.
//
// Shutdown runs at most once; later calls return the first run's error.
// HandleSignals wires SIGTERM/SIGINT to a timed shutdown.
package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/vinayprograms/agentwire/logging"
)

// Common errors.
var (
	// ErrTimeout indicates teardown did not complete within the timeout.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrHandlerFailed indicates at least one handler returned an error.
	ErrHandlerFailed = errors.New("one or more shutdown handlers failed")
)

// Handler is implemented by components that need graceful teardown.
// The context is cancelled when the shutdown timeout is reached.
type Handler interface {
	Shutdown(ctx context.Context) error
}

// Func adapts a plain function to Handler.
type Func func(ctx context.Context) error

// Shutdown implements Handler.
func (f Func) Shutdown(ctx context.Context) error { return f(ctx) }

// Config holds coordinator tunables.
type Config struct {
	// Timeout bounds a signal-triggered shutdown. Default: 30 seconds
	Timeout time.Duration

	// DefaultPhase is assigned by Register. Default: 100
	DefaultPhase int

	// Logger for teardown progress. Default: logging.New()
	Logger *logging.Logger
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:      30 * time.Second,
		DefaultPhase: 100,
	}
}

type registration struct {
	name    string
	handler Handler
	phase   int
}

// Coordinator runs registered handlers in phase order, once.
type Coordinator struct {
	config Config
	log    *logging.Logger

	mu       sync.Mutex
	handlers []registration

	once  sync.Once
	err   error
	done  chan struct{}
	sigCh chan os.Signal
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.DefaultPhase == 0 {
		cfg.DefaultPhase = def.DefaultPhase
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}

	return &Coordinator{
		config: cfg,
		log:    cfg.Logger.WithComponent("shutdown"),
		done:   make(chan struct{}),
		sigCh:  make(chan os.Signal, 1),
	}
}

// Register adds a handler at the default phase.
func (c *Coordinator) Register(name string, h Handler) {
	c.RegisterPhase(name, h, c.config.DefaultPhase)
}

// RegisterPhase adds a handler at an explicit phase. Lower phases stop
// first; equal phases stop concurrently.
func (c *Coordinator) RegisterPhase(name string, h Handler, phase int) {
	c.mu.Lock()
	c.handlers = append(c.handlers, registration{name: name, handler: h, phase: phase})
	c.mu.Unlock()
}

// RegisterFunc adds a plain function at the default phase.
func (c *Coordinator) RegisterFunc(name string, fn func(ctx context.Context) error) {
	c.Register(name, Func(fn))
}

// Shutdown runs all handlers in phase order. Only the first call runs
// anything; later calls block until it finishes and return its error.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.err = c.run(ctx)
		close(c.done)
	})
	<-c.done
	return c.err
}

// ShutdownWithTimeout runs Shutdown bounded by a fresh timeout context.
func (c *Coordinator) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.config.Timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// HandleSignals triggers a timed shutdown on SIGTERM or SIGINT.
func (c *Coordinator) HandleSignals() {
	signal.Notify(c.sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-c.sigCh
		c.log.Info("signal received", logging.Fields{"signal": sig})
		c.ShutdownWithTimeout(c.config.Timeout)
	}()
}

// Trigger injects a synthetic SIGTERM. Useful in tests.
func (c *Coordinator) Trigger() {
	select {
	case c.sigCh <- syscall.SIGTERM:
	default:
	}
}

// Done is closed once shutdown has completed.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the shutdown error, or nil before completion.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context) error {
	c.mu.Lock()
	handlers := make([]registration, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	var failed bool
	for start := 0; start < len(handlers); {
		end := start
		for end < len(handlers) && handlers[end].phase == handlers[start].phase {
			end++
		}

		select {
		case <-ctx.Done():
			c.log.Error("shutdown timed out", logging.Fields{"phase": handlers[start].phase})
			return ErrTimeout
		default:
		}

		if c.runPhase(ctx, handlers[start:end]) {
			failed = true
		}
		start = end
	}

	if failed {
		return ErrHandlerFailed
	}
	return nil
}

// runPhase stops one phase's handlers concurrently. Reports whether any
// handler failed; failures never abort later phases, since a broker
// connection should still close after a misbehaving consumer.
func (c *Coordinator) runPhase(ctx context.Context, group []registration) bool {
	errs := make([]error, len(group))
	var wg sync.WaitGroup

	for i, reg := range group {
		wg.Add(1)
		go func(i int, reg registration) {
			defer wg.Done()
			start := time.Now()
			errs[i] = reg.handler.Shutdown(ctx)
			if errs[i] != nil {
				c.log.Warn("handler failed", logging.Fields{"name": reg.name, "error": errs[i]})
				return
			}
			c.log.Debug("handler stopped", logging.Fields{"name": reg.name, "took": time.Since(start).Round(time.Millisecond)})
		}(i, reg)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return true
		}
	}
	return false
}
