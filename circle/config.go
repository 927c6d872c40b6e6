package circle

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"trustedcircle/config"
	"trustedcircle/crypto"
	"trustedcircle/proposal"
	"trustedcircle/storage"
)

// configKey is the fixed key a circle's own Config record lives at, letting
// a node distinguish a fresh genesis bootstrap from a resumed circle.
var configKey = []byte("circle/config")

// configRecord is the RLP wire form of Config: RLP has no notion of an
// absent field, so RulesFrozen rides alongside the rest as a plain bool and
// a nil DenyList round-trips as an empty slice, matching the zero value
// every caller already treats as "no entries".
type configRecord struct {
	Name         string
	Denom        string
	Admin        []byte
	EscrowAmount *uint256.Int
	Rules        proposal.Rules
	DenyList     [][]byte
	RulesFrozen  bool
}

// SaveConfig persists a circle's Config so a restarted node can resume
// without re-reading the genesis file.
func SaveConfig(db storage.Database, cfg Config) error {
	rec := configRecord{
		Name:         cfg.Name,
		Denom:        cfg.Denom,
		Admin:        cfg.Admin,
		EscrowAmount: cfg.EscrowAmount,
		Rules:        cfg.Rules,
		DenyList:     cfg.DenyList,
		RulesFrozen:  cfg.RulesFrozen,
	}
	encoded, err := rlp.EncodeToBytes(&rec)
	if err != nil {
		return fmt.Errorf("circle: encode config: %w", err)
	}
	return db.Put(configKey, encoded)
}

// LoadConfig reads back a circle's Config previously written by SaveConfig.
func LoadConfig(db storage.Database) (Config, error) {
	raw, err := db.Get(configKey)
	if err != nil {
		return Config{}, fmt.Errorf("circle: load config: %w", err)
	}
	var rec configRecord
	if err := rlp.DecodeBytes(raw, &rec); err != nil {
		return Config{}, fmt.Errorf("circle: decode config: %w", err)
	}
	return Config{
		Name:         rec.Name,
		Denom:        rec.Denom,
		Admin:        rec.Admin,
		EscrowAmount: rec.EscrowAmount,
		Rules:        rec.Rules,
		DenyList:     rec.DenyList,
		RulesFrozen:  rec.RulesFrozen,
	}, nil
}

// Config is the trusted circle's own on-chain configuration record (spec.md
// §3 "Configuration (trusted circle)"): the admin address, denom, escrow
// requirement, voting rules, deny list, and rules-frozen flag every
// component reads.
type Config struct {
	Name         string
	Denom        string
	Admin        []byte
	EscrowAmount *uint256.Int
	Rules        proposal.Rules
	DenyList     [][]byte
	RulesFrozen  bool
}

// ConfigFromGenesis converts a loaded config.Genesis seed into a circle
// Config, bech32-decoding every address field (spec.md §3 Configuration,
// seeded at bootstrap from the YAML genesis document).
func ConfigFromGenesis(g *config.Genesis, admin string) (Config, error) {
	escrow, err := uint256.FromDecimal(g.EscrowAmount)
	if err != nil {
		return Config{}, fmt.Errorf("circle: parse genesis escrow amount: %w", err)
	}
	cfg := Config{
		Name:         g.Name,
		Denom:        g.Denom,
		EscrowAmount: escrow,
		Rules: proposal.Rules{
			VotingPeriodDays: g.Rules.VotingPeriodDays,
			QuorumBps:        g.Rules.QuorumBps,
			ThresholdBps:     g.Rules.ThresholdBps,
			AllowEndEarly:    g.Rules.AllowEndEarly,
		},
	}
	if admin != "" {
		addr, err := crypto.DecodeAddress(admin)
		if err != nil {
			return Config{}, fmt.Errorf("circle: decode genesis admin: %w", err)
		}
		cfg.Admin = addr.Bytes()
	}
	for _, d := range g.DenyList {
		addr, err := crypto.DecodeAddress(d)
		if err != nil {
			return Config{}, fmt.Errorf("circle: decode genesis deny-list entry %q: %w", d, err)
		}
		cfg.DenyList = append(cfg.DenyList, addr.Bytes())
	}
	return cfg, nil
}

// GenesisMembers bech32-decodes a genesis document's founding roster into
// raw addresses paired with weights, ready for Group.UpdateMembers at height
// zero.
func GenesisMembers(g *config.Genesis) ([]MemberWeight, error) {
	members := make([]MemberWeight, 0, len(g.Members))
	for _, m := range g.Members {
		addr, err := crypto.DecodeAddress(m.Address)
		if err != nil {
			return nil, fmt.Errorf("circle: decode genesis member %q: %w", m.Address, err)
		}
		members = append(members, MemberWeight{Address: addr.Bytes(), Weight: m.Weight})
	}
	return members, nil
}
