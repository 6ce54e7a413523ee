// Package config loads and validates node configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/otterlog/otter-raft/internal/raft"
	"github.com/otterlog/otter-raft/pkg/types"
)

var (
	ErrNoID        = errors.New("config: node id is required")
	ErrNoListen    = errors.New("config: listen address is required")
	ErrSelfMissing = errors.New("config: peers must include this node")
)

// Peer names one cluster member and where to reach it.
type Peer struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
}

// Config is the on-disk node configuration.
type Config struct {
	ID     string `yaml:"id"`
	Listen string `yaml:"listen"`
	Peers  []Peer `yaml:"peers"`

	ElectionTimeoutMinMS int `yaml:"election_timeout_min_ms"`
	ElectionTimeoutMaxMS int `yaml:"election_timeout_max_ms"`
	HeartbeatIntervalMS  int `yaml:"heartbeat_interval_ms"`

	WALDir      string `yaml:"wal_dir"`
	MetricsPort int    `yaml:"metrics_port"`
}

// Defaults fills unset timing and storage fields.
func (c *Config) Defaults() {
	if c.ElectionTimeoutMinMS == 0 {
		c.ElectionTimeoutMinMS = 150
	}
	if c.ElectionTimeoutMaxMS == 0 {
		c.ElectionTimeoutMaxMS = 300
	}
	if c.HeartbeatIntervalMS == 0 {
		c.HeartbeatIntervalMS = 50
	}
	if c.WALDir == "" {
		c.WALDir = "data"
	}
}

// Load reads, defaults and validates a config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.Defaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the configuration, including the protocol-level
// constraints enforced by raft.Config.
func (c *Config) Validate() error {
	if c.ID == "" {
		return ErrNoID
	}
	if c.Listen == "" {
		return ErrNoListen
	}
	found := false
	for _, p := range c.Peers {
		if p.ID == c.ID {
			found = true
			break
		}
	}
	if !found {
		return ErrSelfMissing
	}
	return c.Engine().Validate()
}

// Engine derives the protocol core configuration.
func (c *Config) Engine() raft.Config {
	peers := make([]types.NodeID, len(c.Peers))
	for i, p := range c.Peers {
		peers[i] = types.NodeID(p.ID)
	}
	return raft.Config{
		SelfID:             types.NodeID(c.ID),
		Peers:              peers,
		ElectionTimeoutMin: time.Duration(c.ElectionTimeoutMinMS) * time.Millisecond,
		ElectionTimeoutMax: time.Duration(c.ElectionTimeoutMaxMS) * time.Millisecond,
		HeartbeatInterval:  time.Duration(c.HeartbeatIntervalMS) * time.Millisecond,
	}
}

// PeerAddresses maps peer IDs to their dial addresses, excluding self.
func (c *Config) PeerAddresses() map[types.NodeID]string {
	out := make(map[types.NodeID]string, len(c.Peers))
	for _, p := range c.Peers {
		if p.ID != c.ID {
			out[types.NodeID(p.ID)] = p.Address
		}
	}
	return out
}
