package comm

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/agentwire/broker"
)

// FileConfig is the on-disk configuration for an agent process.
//
// Durations are given in milliseconds; zero values fall back to the
// package defaults. Redis settings may be overridden through the
// REDIS_HOST, REDIS_PORT, REDIS_DB and REDIS_PASSWORD environment
// variables, which take precedence over the file.
type FileConfig struct {
	Agent AgentSection `toml:"agent"`
	Redis RedisSection `toml:"redis"`
}

// AgentSection configures the Communicator.
type AgentSection struct {
	ID                  string `toml:"id"`
	PollTimeoutMs       int    `toml:"poll_timeout_ms"`
	StopGraceMs         int    `toml:"stop_grace_ms"`
	HeartbeatIntervalMs int    `toml:"heartbeat_interval_ms"`
}

// RedisSection configures the Redis broker.
type RedisSection struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	DB       int    `toml:"db"`
	Password string `toml:"password"`
}

// LoadFile reads a TOML config file and applies environment overrides.
func LoadFile(path string) (*FileConfig, error) {
	var fc FileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	fc.applyEnv()
	return &fc, nil
}

// FromEnv builds a config from environment variables alone.
func FromEnv(agentID string) *FileConfig {
	fc := &FileConfig{Agent: AgentSection{ID: agentID}}
	fc.applyEnv()
	return fc
}

func (fc *FileConfig) applyEnv() {
	if v := os.Getenv("REDIS_HOST"); v != "" {
		fc.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			fc.Redis.Port = port
		}
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			fc.Redis.DB = db
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		fc.Redis.Password = v
	}
}

// CommConfig converts the file config into a Communicator Config.
func (fc *FileConfig) CommConfig() Config {
	cfg := DefaultConfig()
	cfg.AgentID = fc.Agent.ID
	if fc.Agent.PollTimeoutMs > 0 {
		cfg.PollTimeout = time.Duration(fc.Agent.PollTimeoutMs) * time.Millisecond
	}
	if fc.Agent.StopGraceMs > 0 {
		cfg.StopGrace = time.Duration(fc.Agent.StopGraceMs) * time.Millisecond
	}
	if fc.Agent.HeartbeatIntervalMs > 0 {
		cfg.HeartbeatInterval = time.Duration(fc.Agent.HeartbeatIntervalMs) * time.Millisecond
	}
	return cfg
}

// RedisConfig converts the file config into a Redis broker config.
func (fc *FileConfig) RedisConfig() broker.RedisConfig {
	cfg := broker.DefaultRedisConfig()
	if fc.Redis.Host != "" {
		cfg.Host = fc.Redis.Host
	}
	if fc.Redis.Port > 0 {
		cfg.Port = fc.Redis.Port
	}
	cfg.DB = fc.Redis.DB
	cfg.Password = fc.Redis.Password
	return cfg
}
