// Package config loads the node-operator TOML configuration (listen
// addresses, data directory) and the YAML genesis file that seeds a Trusted
// Circle's initial membership and rules (spec.md §3 "Configuration" /
// SPEC_FULL.md §10).
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds the operator-facing node settings.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	RPCAddress    string `toml:"RPCAddress"`
	DataDir       string `toml:"DataDir"`
	Admin         string `toml:"Admin"`
	GenesisFile   string `toml:"GenesisFile"`
}

// Load reads the TOML config at path, writing out a default file if one does
// not yet exist.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress: ":7001",
		RPCAddress:    ":8081",
		DataDir:       "./circle-data",
		GenesisFile:   "./genesis.yaml",
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, fmt.Errorf("config: write default %s: %w", path, err)
	}
	return cfg, nil
}

// GenesisMember seeds one initial weighted member.
type GenesisMember struct {
	Address string `yaml:"address"`
	Weight  uint64 `yaml:"weight"`
}

// GenesisRules seeds the initial proposal rules (spec.md §3 "Rules").
// Quorum and threshold are expressed as basis points out of 10000, matching
// proposal.Rules so genesis seeding never needs a float-to-bps conversion.
type GenesisRules struct {
	VotingPeriodDays uint32 `yaml:"votingPeriodDays"`
	QuorumBps        uint32 `yaml:"quorumBps"`
	ThresholdBps     uint32 `yaml:"thresholdBps"`
	AllowEndEarly    bool   `yaml:"allowEndEarly"`
}

// Genesis is the declarative seed for a Trusted Circle's initial state: the
// founding roster, escrow amount, and voting rules. This is the "initial
// roster" document an operator hands to the node at bootstrap; it is
// consumed once and has no further bearing once the circle is live.
type Genesis struct {
	Name         string          `yaml:"name"`
	Denom        string          `yaml:"denom"`
	EscrowAmount string          `yaml:"escrowAmount"`
	Rules        GenesisRules    `yaml:"rules"`
	Members      []GenesisMember `yaml:"members"`
	DenyList     []string        `yaml:"denyList"`
}

// LoadGenesis reads a YAML genesis seed file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read genesis %s: %w", path, err)
	}
	var g Genesis
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("config: parse genesis %s: %w", path, err)
	}
	if g.Name == "" {
		return nil, fmt.Errorf("config: genesis name must not be empty")
	}
	if len(g.Members) == 0 {
		return nil, fmt.Errorf("config: genesis must declare at least one member")
	}
	return &g, nil
}
