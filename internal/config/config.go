// Package config handles configuration loading and validation for nodesync.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NodeConfig describes one storage node.
type NodeConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url,omitempty"` // Explicit base URL; derived from tenant/domain when empty
}

// ReplicateConfig holds configuration for a replication run.
type ReplicateConfig struct {
	Target            string   `yaml:"target"`             // Target node name
	Sources           []string `yaml:"sources"`            // Allow-listed source node names
	NamespaceOverride string   `yaml:"namespace_override"` // Destination namespace; empty keeps the source namespace
	Retries           int      `yaml:"retries"`            // Copy retry bound (default: 3)
	RetryDelay        string   `yaml:"retry_delay"`        // Duration string, e.g. "5s"
	DryRun            bool     `yaml:"dry_run"`
	Workers           int      `yaml:"workers"` // Concurrent replication jobs (default: 4)
}

// ListingConfig holds configuration for node enumeration.
type ListingConfig struct {
	BatchSize     int    `yaml:"batch_size"`     // max-results per page (default: 200)
	ObjectSuffix  string `yaml:"object_suffix"`  // Only objects with this suffix are inventoried (default: ".ccf")
	FolderWorkers int    `yaml:"folder_workers"` // Concurrent folder listings per node (default: 4)
	RateLimit     int    `yaml:"rate_limit"`     // Listing requests per second, 0 = unlimited
}

// Config is the top-level nodesync configuration.
type Config struct {
	Namespace     string          `yaml:"namespace"`
	Tenant        string          `yaml:"tenant"`
	Domain        string          `yaml:"domain"`
	AuthToken     string          `yaml:"auth_token"`
	Nodes         []NodeConfig    `yaml:"nodes"`
	Listing       ListingConfig   `yaml:"listing"`
	Replicate     ReplicateConfig `yaml:"replicate"`
	OutputDir     string          `yaml:"output_dir"`
	InsecureTLS   bool            `yaml:"insecure_tls"`
	RawCapture    bool            `yaml:"raw_capture"` // Dump raw listing responses to the output dir
	MetricsListen string          `yaml:"metrics_listen"`
}

// Load loads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills in defaults for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Listing.BatchSize == 0 {
		c.Listing.BatchSize = 200
	}
	if c.Listing.ObjectSuffix == "" {
		c.Listing.ObjectSuffix = ".ccf"
	}
	if c.Listing.FolderWorkers == 0 {
		c.Listing.FolderWorkers = 4
	}
	if c.Replicate.Retries == 0 {
		c.Replicate.Retries = 3
	}
	if c.Replicate.RetryDelay == "" {
		c.Replicate.RetryDelay = "5s"
	}
	if c.Replicate.Workers == 0 {
		c.Replicate.Workers = 4
	}
	if c.OutputDir == "" {
		c.OutputDir = "./nodesync-out"
	}
	// Expand home directory in output dir
	if strings.HasPrefix(c.OutputDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			c.OutputDir = filepath.Join(homeDir, c.OutputDir[2:])
		}
	}
}

// NodeURL returns the base URL for the named node. An explicit URL in the
// node entry wins; otherwise the URL is derived as
// https://<node>.<tenant>.<domain>.
func (c *Config) NodeURL(name string) (string, error) {
	for _, n := range c.Nodes {
		if n.Name != name {
			continue
		}
		if n.URL != "" {
			return strings.TrimRight(n.URL, "/"), nil
		}
		if c.Tenant == "" || c.Domain == "" {
			return "", fmt.Errorf("node %q has no url and tenant/domain are not set", name)
		}
		return fmt.Sprintf("https://%s.%s.%s", name, c.Tenant, c.Domain), nil
	}
	return "", fmt.Errorf("unknown node: %q", name)
}

// NodeNames returns the configured node names in declaration order.
func (c *Config) NodeNames() []string {
	names := make([]string, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		names = append(names, n.Name)
	}
	return names
}

// HasNode reports whether the named node is configured.
func (c *Config) HasNode(name string) bool {
	for _, n := range c.Nodes {
		if n.Name == name {
			return true
		}
	}
	return false
}

// RetryDelay returns the parsed copy retry delay.
func (c *Config) RetryDelay() (time.Duration, error) {
	d, err := time.ParseDuration(c.Replicate.RetryDelay)
	if err != nil {
		return 0, fmt.Errorf("invalid retry_delay: %w", err)
	}
	return d, nil
}

// Validate checks the configuration for a listing or inventory run.
func (c *Config) Validate() error {
	if c.Namespace == "" {
		return fmt.Errorf("namespace is required")
	}
	if c.AuthToken == "" {
		return fmt.Errorf("auth_token is required")
	}
	if len(c.Nodes) == 0 {
		return fmt.Errorf("at least one node is required")
	}
	seen := make(map[string]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.Name == "" {
			return fmt.Errorf("node name is required")
		}
		if seen[n.Name] {
			return fmt.Errorf("duplicate node: %q", n.Name)
		}
		seen[n.Name] = true
		if n.URL != "" {
			if _, err := url.Parse(n.URL); err != nil {
				return fmt.Errorf("invalid url for node %q: %w", n.Name, err)
			}
		} else if c.Tenant == "" || c.Domain == "" {
			return fmt.Errorf("node %q needs a url or tenant+domain", n.Name)
		}
	}
	if c.Listing.BatchSize <= 0 {
		return fmt.Errorf("listing.batch_size must be positive")
	}
	return nil
}

// ValidateReplicate checks the additional fields a replication run needs.
func (c *Config) ValidateReplicate() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Replicate.Target == "" {
		return fmt.Errorf("replicate.target is required")
	}
	if !c.HasNode(c.Replicate.Target) {
		return fmt.Errorf("replicate.target %q is not a configured node", c.Replicate.Target)
	}
	if len(c.Replicate.Sources) == 0 {
		return fmt.Errorf("replicate.sources is required")
	}
	for _, s := range c.Replicate.Sources {
		if !c.HasNode(s) {
			return fmt.Errorf("replicate.sources entry %q is not a configured node", s)
		}
	}
	if c.Replicate.Retries < 0 {
		return fmt.Errorf("replicate.retries must not be negative")
	}
	if _, err := c.RetryDelay(); err != nil {
		return err
	}
	return nil
}
