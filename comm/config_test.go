package comm

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.toml")
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[agent]
id = "knowledge"
poll_timeout_ms = 250
heartbeat_interval_ms = 10000

[redis]
host = "redis.internal"
port = 6380
db = 2
password = "hunter2"
`)

	fc, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}

	cfg := fc.CommConfig()
	if cfg.AgentID != "knowledge" {
		t.Errorf("AgentID = %q, want knowledge", cfg.AgentID)
	}
	if cfg.PollTimeout != 250*time.Millisecond {
		t.Errorf("PollTimeout = %v, want 250ms", cfg.PollTimeout)
	}
	if cfg.HeartbeatInterval != 10*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 10s", cfg.HeartbeatInterval)
	}
	// Unset stop_grace_ms falls back to the default.
	if cfg.StopGrace != DefaultConfig().StopGrace {
		t.Errorf("StopGrace = %v, want default", cfg.StopGrace)
	}

	rc := fc.RedisConfig()
	if rc.Host != "redis.internal" || rc.Port != 6380 || rc.DB != 2 || rc.Password != "hunter2" {
		t.Errorf("RedisConfig = %+v", rc)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[agent]
id = "worker"

[redis]
host = "from-file"
port = 6379
`)

	t.Setenv("REDIS_HOST", "from-env")
	t.Setenv("REDIS_PORT", "7000")
	t.Setenv("REDIS_DB", "5")
	t.Setenv("REDIS_PASSWORD", "secret")

	fc, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}

	rc := fc.RedisConfig()
	if rc.Host != "from-env" {
		t.Errorf("Host = %q, want from-env", rc.Host)
	}
	if rc.Port != 7000 {
		t.Errorf("Port = %d, want 7000", rc.Port)
	}
	if rc.DB != 5 {
		t.Errorf("DB = %d, want 5", rc.DB)
	}
	if rc.Password != "secret" {
		t.Errorf("Password = %q, want secret", rc.Password)
	}
}

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("REDIS_HOST", "")
	t.Setenv("REDIS_PORT", "")
	t.Setenv("REDIS_DB", "")
	t.Setenv("REDIS_PASSWORD", "")

	fc := FromEnv("worker")
	if fc.Agent.ID != "worker" {
		t.Errorf("Agent.ID = %q, want worker", fc.Agent.ID)
	}

	rc := fc.RedisConfig()
	if rc.Host != "localhost" || rc.Port != 6379 {
		t.Errorf("defaults = %s:%d, want localhost:6379", rc.Host, rc.Port)
	}
}
