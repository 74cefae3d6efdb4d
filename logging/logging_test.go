package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New()
	l.SetOutput(&buf)
	l.SetLevel(LevelWarn)

	l.Debug("debug msg")
	l.Info("info msg")
	l.Warn("warn msg")
	l.Error("error msg")

	out := buf.String()
	if strings.Contains(out, "debug msg") || strings.Contains(out, "info msg") {
		t.Errorf("below-threshold lines emitted:\n%s", out)
	}
	if !strings.Contains(out, "warn msg") || !strings.Contains(out, "error msg") {
		t.Errorf("expected warn and error lines:\n%s", out)
	}
}

func TestComponentAndAgentTags(t *testing.T) {
	var buf bytes.Buffer
	l := New()
	l.SetOutput(&buf)

	l.WithComponent("queue").WithAgent("agent-1").Info("received")

	out := buf.String()
	if !strings.Contains(out, "[queue]") {
		t.Errorf("missing component tag:\n%s", out)
	}
	if !strings.Contains(out, "(agent-1)") {
		t.Errorf("missing agent tag:\n%s", out)
	}
}

func TestFieldsSorted(t *testing.T) {
	var buf bytes.Buffer
	l := New()
	l.SetOutput(&buf)

	l.Info("send failed", Fields{"target": "b", "attempt": 2})

	out := buf.String()
	if !strings.Contains(out, "attempt=2 target=b") {
		t.Errorf("expected sorted key=value fields:\n%s", out)
	}
}

func TestDerivedLoggerSharesWriter(t *testing.T) {
	var buf bytes.Buffer
	l := New()
	derived := l.WithComponent("comm")
	l.SetOutput(&buf)

	derived.Info("hello")

	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("derived logger did not write to shared output:\n%s", buf.String())
	}
}

func TestDiscard(t *testing.T) {
	// Must not panic and must drop output.
	l := Discard()
	l.Error("nobody sees this")
}
