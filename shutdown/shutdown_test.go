package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/agentwire/logging"
)

func newTestCoordinator(cfg Config) *Coordinator {
	cfg.Logger = logging.Discard()
	return NewCoordinator(cfg)
}

func TestPhaseOrder(t *testing.T) {
	c := newTestCoordinator(DefaultConfig())

	var mu sync.Mutex
	var order []string
	record := func(name string) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	c.RegisterPhase("broker", Func(record("broker")), 30)
	c.RegisterPhase("consumer", Func(record("consumer")), 10)
	c.RegisterPhase("comm", Func(record("comm")), 20)

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}

	want := []string{"consumer", "comm", "broker"}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestSamePhaseConcurrent(t *testing.T) {
	c := newTestCoordinator(DefaultConfig())

	// Two handlers in one phase that each wait for the other; they
	// only finish if they run concurrently.
	barrier := make(chan struct{}, 2)
	handler := func(ctx context.Context) error {
		barrier <- struct{}{}
		select {
		case <-barrier:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("peer never arrived")
		}
	}
	c.RegisterPhase("a", Func(handler), 10)
	c.RegisterPhase("b", Func(handler), 10)

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
}

func TestHandlerFailureDoesNotAbort(t *testing.T) {
	c := newTestCoordinator(DefaultConfig())

	var brokerClosed bool
	c.RegisterPhase("consumer", Func(func(ctx context.Context) error {
		return errors.New("stuck")
	}), 10)
	c.RegisterPhase("broker", Func(func(ctx context.Context) error {
		brokerClosed = true
		return nil
	}), 20)

	err := c.Shutdown(context.Background())
	if !errors.Is(err, ErrHandlerFailed) {
		t.Errorf("Shutdown = %v, want ErrHandlerFailed", err)
	}
	if !brokerClosed {
		t.Error("later phase skipped after handler failure")
	}
}

func TestShutdownOnce(t *testing.T) {
	c := newTestCoordinator(DefaultConfig())

	calls := 0
	c.RegisterFunc("counter", func(ctx context.Context) error {
		calls++
		return nil
	})

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown error: %v", err)
	}
	if calls != 1 {
		t.Errorf("handler ran %d times, want 1", calls)
	}

	select {
	case <-c.Done():
	default:
		t.Error("Done not closed after shutdown")
	}
}

func TestShutdownTimeout(t *testing.T) {
	c := newTestCoordinator(DefaultConfig())

	c.RegisterPhase("slow", Func(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}), 10)
	c.RegisterPhase("after", Func(func(ctx context.Context) error {
		return nil
	}), 20)

	err := c.ShutdownWithTimeout(50 * time.Millisecond)
	if !errors.Is(err, ErrTimeout) && !errors.Is(err, ErrHandlerFailed) {
		t.Errorf("Shutdown = %v, want timeout-related failure", err)
	}
}

func TestTrigger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = time.Second
	c := newTestCoordinator(cfg)
	c.HandleSignals()

	ran := make(chan struct{})
	c.RegisterFunc("probe", func(ctx context.Context) error {
		close(ran)
		return nil
	})

	c.Trigger()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("signal did not trigger shutdown")
	}
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done never closed")
	}
	if err := c.Err(); err != nil {
		t.Errorf("Err = %v, want nil", err)
	}
}
