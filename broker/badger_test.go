package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func newBadgerBroker(t *testing.T) *BadgerBroker {
	t.Helper()
	b, err := OpenBadgerBroker(t.TempDir())
	if err != nil {
		t.Fatalf("OpenBadgerBroker error: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

// --- Key/Value Tests ---

func TestBadgerBroker_PutGetDelete(t *testing.T) {
	b := newBadgerBroker(t)
	ctx := context.Background()

	if err := b.Put(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	got, err := b.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Get = %q, want v", got)
	}

	if err := b.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := b.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete = %v, want ErrNotFound", err)
	}
}

func TestBadgerBroker_TTLExpiry(t *testing.T) {
	b := newBadgerBroker(t)
	ctx := context.Background()

	if err := b.Put(ctx, "k", []byte("v"), 100*time.Millisecond); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	time.Sleep(1200 * time.Millisecond)

	if _, err := b.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after TTL = %v, want ErrNotFound", err)
	}
}

// --- List Tests ---

func TestBadgerBroker_PushPopFIFO(t *testing.T) {
	b := newBadgerBroker(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := b.Push(ctx, "l", fmt.Sprintf("v%d", i)); err != nil {
			t.Fatalf("Push error: %v", err)
		}
	}

	for i := 0; i < 5; i++ {
		got, err := b.Pop(ctx, "l", 0)
		if err != nil {
			t.Fatalf("Pop error: %v", err)
		}
		if want := fmt.Sprintf("v%d", i); got != want {
			t.Errorf("Pop = %q, want %q", got, want)
		}
	}

	if _, err := b.Pop(ctx, "l", 0); !errors.Is(err, ErrEmpty) {
		t.Errorf("Pop on drained list = %v, want ErrEmpty", err)
	}
}

func TestBadgerBroker_PopBlocksUntilPush(t *testing.T) {
	b := newBadgerBroker(t)
	ctx := context.Background()

	result := make(chan string, 1)
	go func() {
		v, err := b.Pop(ctx, "l", 2*time.Second)
		if err != nil {
			result <- "error: " + err.Error()
			return
		}
		result <- v
	}()

	time.Sleep(50 * time.Millisecond)
	if err := b.Push(ctx, "l", "late"); err != nil {
		t.Fatalf("Push error: %v", err)
	}

	select {
	case got := <-result:
		if got != "late" {
			t.Errorf("Pop = %q, want late", got)
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for blocked Pop")
	}
}

func TestBadgerBroker_ListLenAndDrop(t *testing.T) {
	b := newBadgerBroker(t)
	ctx := context.Background()

	b.Push(ctx, "l", "a")
	b.Push(ctx, "l", "b")
	b.Push(ctx, "l", "c")

	n, err := b.ListLen(ctx, "l")
	if err != nil {
		t.Fatalf("ListLen error: %v", err)
	}
	if n != 3 {
		t.Errorf("ListLen = %d, want 3", n)
	}

	if err := b.DropList(ctx, "l"); err != nil {
		t.Fatalf("DropList error: %v", err)
	}
	n, _ = b.ListLen(ctx, "l")
	if n != 0 {
		t.Errorf("ListLen after DropList = %d, want 0", n)
	}
}

func TestBadgerBroker_ListsIsolated(t *testing.T) {
	b := newBadgerBroker(t)
	ctx := context.Background()

	b.Push(ctx, "l1", "one")
	b.Push(ctx, "l2", "two")

	got, err := b.Pop(ctx, "l2", 0)
	if err != nil {
		t.Fatalf("Pop error: %v", err)
	}
	if got != "two" {
		t.Errorf("Pop(l2) = %q, want two", got)
	}

	n, _ := b.ListLen(ctx, "l1")
	if n != 1 {
		t.Errorf("ListLen(l1) = %d, want 1", n)
	}
}

// --- Persistence Tests ---

func TestBadgerBroker_QueueSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b, err := OpenBadgerBroker(dir)
	if err != nil {
		t.Fatalf("OpenBadgerBroker error: %v", err)
	}
	b.Push(ctx, "l", "persisted")
	if err := b.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	b2, err := OpenBadgerBroker(dir)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer b2.Close()

	got, err := b2.Pop(ctx, "l", 0)
	if err != nil {
		t.Fatalf("Pop after reopen error: %v", err)
	}
	if got != "persisted" {
		t.Errorf("Pop = %q, want persisted", got)
	}
}

// --- Pub/Sub Tests ---

func TestBadgerBroker_PublishSubscribe(t *testing.T) {
	b := newBadgerBroker(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "ch")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer sub.Unsubscribe()

	if err := b.Publish(ctx, "ch", []byte("ping")); err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	select {
	case payload := <-sub.Payloads():
		if string(payload) != "ping" {
			t.Errorf("payload = %q, want ping", payload)
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for payload")
	}
}

// --- Lifecycle Tests ---

func TestBadgerBroker_Closed(t *testing.T) {
	b, err := OpenBadgerBroker(t.TempDir())
	if err != nil {
		t.Fatalf("OpenBadgerBroker error: %v", err)
	}
	b.Close()
	ctx := context.Background()

	if err := b.Put(ctx, "k", nil, time.Minute); err != ErrClosed {
		t.Errorf("Put = %v, want ErrClosed", err)
	}
	if err := b.Ping(ctx); err != ErrClosed {
		t.Errorf("Ping = %v, want ErrClosed", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close error: %v", err)
	}
}
