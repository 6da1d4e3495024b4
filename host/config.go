// Package host implements the fleet controller: topology queries over
// a configured set of nodes, settings lifecycle (validate, persist,
// ship, rescale), command fan-out, and ordered shutdown.
package host

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"
)

// NodeConfig describes one node's address and role within the fleet.
type NodeConfig struct {
	Label       string `yaml:"label"`
	Role        string `yaml:"role"` // "scan", "lock", "monitor", "ext_scan"
	PrimaryAddr string `yaml:"primary_addr"`
	LoopAddr    string `yaml:"loop_addr"`
	MasterLabel string `yaml:"master_label,omitempty"`
}

// FleetConfig is the top-level hosts.yaml schema: every node the
// controller knows about, grouped implicitly by shared MasterLabel
// into cavities.
type FleetConfig struct {
	SettingsDir string       `yaml:"settings_dir"`
	Nodes       []NodeConfig `yaml:"nodes"`
}

// ReadFleetConfig reads and strictly decodes a hosts.yaml file,
// rejecting unknown fields, then validates the result.
func ReadFleetConfig(path string) (*FleetConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("host: read fleet config: %w", err)
	}
	var c FleetConfig
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, fmt.Errorf("host: decode fleet config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks every node has a label and a primary address, and
// that labels are unique.
func (c *FleetConfig) Validate() error {
	seen := map[string]bool{}
	for _, n := range c.Nodes {
		if n.Label == "" {
			return fmt.Errorf("host: node with empty label")
		}
		if seen[n.Label] {
			return fmt.Errorf("host: duplicate node label %q", n.Label)
		}
		seen[n.Label] = true
		if n.PrimaryAddr == "" {
			return fmt.Errorf("host: node %q missing primary_addr", n.Label)
		}
	}
	return nil
}
