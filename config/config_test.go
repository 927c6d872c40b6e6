package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7001", cfg.ListenAddress)
	require.Equal(t, "./circle-data", cfg.DataDir)
	require.FileExists(t, path)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, reloaded)
}

func TestLoadReadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := "ListenAddress = \":9001\"\nAdmin = \"circle1admin\"\nGenesisFile = \"./genesis.yaml\"\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9001", cfg.ListenAddress)
	require.Equal(t, "circle1admin", cfg.Admin)
	require.Equal(t, "./genesis.yaml", cfg.GenesisFile)
}

func TestLoadGenesisRequiresNameAndMembers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.yaml")
	require.NoError(t, os.WriteFile(path, []byte("denom: ucircle\n"), 0o644))

	_, err := LoadGenesis(path)
	require.Error(t, err)
}

func TestLoadGenesisParsesMembersAndRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.yaml")
	contents := "name: founders\n" +
		"denom: ucircle\n" +
		"escrowAmount: \"100\"\n" +
		"rules:\n" +
		"  votingPeriodDays: 7\n" +
		"  quorumBps: 5000\n" +
		"  thresholdBps: 6000\n" +
		"members:\n" +
		"  - address: circle1abc\n" +
		"    weight: 10\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	g, err := LoadGenesis(path)
	require.NoError(t, err)
	require.Equal(t, "founders", g.Name)
	require.Len(t, g.Members, 1)
	require.EqualValues(t, 10, g.Members[0].Weight)
	require.EqualValues(t, 7, g.Rules.VotingPeriodDays)
}
