package config

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestGenesis_Validate_MainnetValid(t *testing.T) {
	g := MainnetGenesis()
	if err := g.Validate(); err != nil {
		t.Errorf("mainnet genesis should be valid: %v", err)
	}
}

func TestGenesis_Validate_TestnetValid(t *testing.T) {
	g := TestnetGenesis()
	if err := g.Validate(); err != nil {
		t.Errorf("testnet genesis should be valid: %v", err)
	}
}

func TestMainnetGenesis_FixedBlock(t *testing.T) {
	g := MainnetGenesis()
	if g.Nonce != 2836 {
		t.Errorf("genesis nonce = %d, want 2836", g.Nonce)
	}
	if g.Data != "genesis!" {
		t.Errorf("genesis data = %q, want %q", g.Data, "genesis!")
	}
	if g.Protocol.DifficultyPrefix != DifficultyPrefix {
		t.Errorf("difficulty prefix = %q, want %q", g.Protocol.DifficultyPrefix, DifficultyPrefix)
	}
}

func TestGenesisFor(t *testing.T) {
	if GenesisFor(Mainnet).ChainID == GenesisFor(Testnet).ChainID {
		t.Error("mainnet and testnet must have distinct chain IDs")
	}
}

func TestGenesis_Validate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(g *Genesis)
		want   string
	}{
		{"empty chain id", func(g *Genesis) { g.ChainID = "" }, "chain_id"},
		{"short hash", func(g *Genesis) { g.Hash = "abcd" }, "genesis hash"},
		{"uppercase hash", func(g *Genesis) { g.Hash = strings.ToUpper(g.Hash) }, "lowercase"},
		{"empty prefix", func(g *Genesis) { g.Protocol.DifficultyPrefix = "" }, "difficulty_prefix"},
		{"non-binary prefix", func(g *Genesis) { g.Protocol.DifficultyPrefix = "0a" }, "only '0' and '1'"},
		{"zero block time", func(g *Genesis) { g.Protocol.BlockTime = 0 }, "block_time"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := MainnetGenesis()
			tt.mutate(g)
			err := g.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestGenesis_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.json")
	g := TestnetGenesis()
	if err := g.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := LoadGenesis(path)
	if err != nil {
		t.Fatalf("LoadGenesis: %v", err)
	}
	if *loaded != *g {
		t.Errorf("loaded genesis = %+v, want %+v", loaded, g)
	}
}
