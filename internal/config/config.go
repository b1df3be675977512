// Package config loads node configuration from a YAML file, the way the
// rest of the retrieval pack configures its raft servers (e.g.
// ChuLiYu-raft-recovery's cluster.yaml), in place of the teacher's bare
// flag-parsed ClusterConfig.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xlpha/xraft/pkg/raft"
)

// Peer is one member of the initial cluster, as listed in the config file.
type Peer struct {
	Id   string `yaml:"id"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Config is the on-disk shape of a node's configuration file.
type Config struct {
	Self Peer   `yaml:"self"`
	Peers []Peer `yaml:"peers"`

	DataDir string `yaml:"data_dir"`

	ElectionTimeoutMinMs int `yaml:"election_timeout_min_ms"`
	ElectionTimeoutMaxMs int `yaml:"election_timeout_max_ms"`
	ReplicationIntervalMs int `yaml:"replication_interval_ms"`

	SnapshotThreshold int `yaml:"snapshot_threshold"`
	Standby           bool `yaml:"standby"`

	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`

	LogLevel string `yaml:"log_level"`
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

func (p Peer) endpoint() raft.NodeEndpoint {
	return raft.NodeEndpoint{Id: raft.NodeId(p.Id), Host: p.Host, Port: p.Port}
}

// RaftConfig builds the pkg/raft.Config this node should start with,
// layering file-provided overrides on top of raft.DefaultConfig.
func (c *Config) RaftConfig() raft.Config {
	cfg := raft.DefaultConfig(c.Self.endpoint())
	cfg.DataDir = c.DataDir
	cfg.Standby = c.Standby
	if c.ElectionTimeoutMinMs > 0 {
		cfg.ElectionTimeoutMin = time.Duration(c.ElectionTimeoutMinMs) * time.Millisecond
	}
	if c.ElectionTimeoutMaxMs > 0 {
		cfg.ElectionTimeoutMax = time.Duration(c.ElectionTimeoutMaxMs) * time.Millisecond
	}
	if c.ReplicationIntervalMs > 0 {
		cfg.ReplicationInterval = time.Duration(c.ReplicationIntervalMs) * time.Millisecond
	}
	if c.SnapshotThreshold > 0 {
		cfg.SnapshotThreshold = c.SnapshotThreshold
	}
	return cfg
}

// PeerEndpoints returns the initial peer set, excluding Self.
func (c *Config) PeerEndpoints() []raft.NodeEndpoint {
	peers := make([]raft.NodeEndpoint, 0, len(c.Peers))
	for _, p := range c.Peers {
		if p.Id == c.Self.Id {
			continue
		}
		peers = append(peers, p.endpoint())
	}
	return peers
}
