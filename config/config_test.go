package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault_Valid(t *testing.T) {
	for _, network := range []NetworkType{Mainnet, Testnet} {
		if err := Validate(Default(network)); err != nil {
			t.Errorf("Default(%s) invalid: %v", network, err)
		}
	}
}

func TestDefault_DistinctPorts(t *testing.T) {
	main, test := DefaultMainnet(), DefaultTestnet()
	if main.P2P.Port == test.P2P.Port {
		t.Error("mainnet and testnet share a P2P port")
	}
	if main.RPC.Port == test.RPC.Port {
		t.Error("mainnet and testnet share an RPC port")
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad network", func(c *Config) { c.Network = "devnet" }},
		{"negative p2p port", func(c *Config) { c.P2P.Port = -1 }},
		{"rpc port too high", func(c *Config) { c.RPC.Port = 70000 }},
		{"negative sync interval", func(c *Config) { c.P2P.SyncInterval = -1 }},
		{"too many threads", func(c *Config) { c.Mining.Threads = MaxMiningThreads + 1 }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad seed", func(c *Config) { c.P2P.Seeds = []string{"not-a-multiaddr"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultMainnet()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadFile_ParsesKeyValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.conf")
	content := `# comment
network = testnet

p2p.port = 40000
p2p.seeds = /ip4/1.2.3.4/tcp/30404/p2p/12D3KooWGRmHZa1M3jS1oP6JhDbBntXzVWqAx8ZAq8DxnUp3Kjpt, /ip4/5.6.7.8/tcp/30404/p2p/12D3KooWGRmHZa1M3jS1oP6JhDbBntXzVWqAx8ZAq8DxnUp3Kjpt
mining.enabled = true
mining.data = "payload"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	values, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	cfg := DefaultMainnet()
	if err := ApplyFileConfig(cfg, values); err != nil {
		t.Fatalf("ApplyFileConfig: %v", err)
	}

	if cfg.Network != Testnet {
		t.Errorf("network = %s, want testnet", cfg.Network)
	}
	if cfg.P2P.Port != 40000 {
		t.Errorf("p2p.port = %d, want 40000", cfg.P2P.Port)
	}
	if len(cfg.P2P.Seeds) != 2 {
		t.Errorf("seeds = %d, want 2", len(cfg.P2P.Seeds))
	}
	if !cfg.Mining.Enabled {
		t.Error("mining.enabled not applied")
	}
	if cfg.Mining.Data != "payload" {
		t.Errorf("mining.data = %q, want %q", cfg.Mining.Data, "payload")
	}
}

func TestLoadFile_Missing(t *testing.T) {
	values, err := LoadFile(filepath.Join(t.TempDir(), "absent.conf"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(values) != 0 {
		t.Errorf("expected no values, got %d", len(values))
	}
}

func TestApplyFileConfig_UnknownKeyIgnored(t *testing.T) {
	cfg := DefaultMainnet()
	if err := ApplyFileConfig(cfg, map[string]string{"wallet.enabled": "true"}); err != nil {
		t.Fatalf("unknown key should be ignored: %v", err)
	}
}

func TestApplyFileConfig_BadNumber(t *testing.T) {
	cfg := DefaultMainnet()
	if err := ApplyFileConfig(cfg, map[string]string{"p2p.port": "abc"}); err == nil {
		t.Fatal("expected error for non-numeric port")
	}
}

func TestApplyFileConfig_Aliases(t *testing.T) {
	cfg := DefaultMainnet()
	values := map[string]string{"p2p": "off", "rpc": "no", "mine": "yes"}
	if err := ApplyFileConfig(cfg, values); err != nil {
		t.Fatalf("ApplyFileConfig: %v", err)
	}
	if cfg.P2P.Enabled || cfg.RPC.Enabled || !cfg.Mining.Enabled {
		t.Errorf("aliases not applied: p2p=%v rpc=%v mine=%v",
			cfg.P2P.Enabled, cfg.RPC.Enabled, cfg.Mining.Enabled)
	}
}

func TestWriteDefaultConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.conf")
	if err := WriteDefaultConfig(path, Testnet); err != nil {
		t.Fatalf("WriteDefaultConfig: %v", err)
	}

	values, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if _, ok := values["datadir"]; ok {
		t.Error("datadir should be written commented out")
	}

	// Applying the testnet file onto mainnet defaults yields testnet defaults.
	cfg := DefaultMainnet()
	if err := ApplyFileConfig(cfg, values); err != nil {
		t.Fatalf("ApplyFileConfig: %v", err)
	}
	want := DefaultTestnet()
	if cfg.Network != want.Network || cfg.P2P.Port != want.P2P.Port || cfg.RPC.Port != want.RPC.Port {
		t.Errorf("got network=%s p2p=%d rpc=%d", cfg.Network, cfg.P2P.Port, cfg.RPC.Port)
	}
	if len(cfg.RPC.AllowedIPs) != 1 || cfg.RPC.AllowedIPs[0] != "127.0.0.1" {
		t.Errorf("rpc.allowed = %v", cfg.RPC.AllowedIPs)
	}
}

func TestParseFlags_Overrides(t *testing.T) {
	f, err := parseFlags([]string{
		"--network=testnet",
		"--rpc=false",
		"--mine",
		"--mine-data=hi",
		"--mining-threads=4",
		"--sync-interval=5",
	})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}

	cfg := DefaultTestnet()
	if err := ApplyFlags(cfg, f); err != nil {
		t.Fatalf("ApplyFlags: %v", err)
	}

	if cfg.RPC.Enabled {
		t.Error("--rpc=false should disable RPC")
	}
	if !cfg.P2P.Enabled {
		t.Error("P2P should stay enabled when --p2p is not given")
	}
	if !cfg.Mining.Enabled || cfg.Mining.Data != "hi" || cfg.Mining.Threads != 4 {
		t.Errorf("mining = %+v", cfg.Mining)
	}
	if cfg.P2P.SyncInterval != 5 {
		t.Errorf("sync interval = %d, want 5", cfg.P2P.SyncInterval)
	}
}

func TestParseFlags_OnlySetFlagsRecorded(t *testing.T) {
	f, err := parseFlags([]string{"--mine", "--p2p-port=4000"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	want := map[string]string{"mining.enabled": "true", "p2p.port": "4000"}
	if len(f.Values) != len(want) {
		t.Fatalf("values = %v, want %v", f.Values, want)
	}
	for k, v := range want {
		if f.Values[k] != v {
			t.Errorf("%s = %q, want %q", k, f.Values[k], v)
		}
	}
}

func TestParseFlags_RejectsBadValues(t *testing.T) {
	for _, args := range [][]string{
		{"--p2p-port=abc"},
		{"--mine=maybe"},
	} {
		if _, err := parseFlags(args); err == nil {
			t.Errorf("parseFlags(%v) should fail", args)
		}
	}
}

func TestParseFlags_PositionalStopsParsing(t *testing.T) {
	_, err := parseFlags([]string{"extra", "--mine"})
	if err == nil || !strings.Contains(err.Error(), "was not parsed") {
		t.Fatalf("expected unparsed flag error, got %v", err)
	}
}

func TestLoadWithFlags_Precedence(t *testing.T) {
	dir := t.TempDir()

	// First load writes the default config file.
	if _, err := LoadWithFlags(&Flags{Values: map[string]string{"datadir": dir}}); err != nil {
		t.Fatalf("first load: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "ledger.conf")); err != nil {
		t.Fatalf("default config not written: %v", err)
	}

	conf := "mining.data = from-file\nmining.threads = 2\n"
	if err := os.WriteFile(filepath.Join(dir, "ledger.conf"), []byte(conf), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadWithFlags(&Flags{Values: map[string]string{"datadir": dir, "mining.threads": "8"}})
	if err != nil {
		t.Fatalf("LoadWithFlags: %v", err)
	}
	if cfg.Mining.Data != "from-file" {
		t.Errorf("file value not applied: %q", cfg.Mining.Data)
	}
	if cfg.Mining.Threads != 8 {
		t.Errorf("flag should beat file: threads = %d", cfg.Mining.Threads)
	}

	for _, d := range []string{cfg.ChainDataDir(), cfg.PeersDir(), cfg.LogsDir()} {
		if _, err := os.Stat(d); err != nil {
			t.Errorf("dir %s not created: %v", d, err)
		}
	}
}

func TestLoadGenesisFor(t *testing.T) {
	cfg := DefaultTestnet()
	gen, err := LoadGenesisFor(cfg)
	if err != nil {
		t.Fatalf("LoadGenesisFor: %v", err)
	}
	if gen.ChainID != TestnetGenesis().ChainID {
		t.Errorf("chain id = %s", gen.ChainID)
	}

	path := filepath.Join(t.TempDir(), "genesis.json")
	custom := TestnetGenesis()
	custom.ChainID = "custom-1"
	if err := custom.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	cfg.GenesisFile = path
	gen, err = LoadGenesisFor(cfg)
	if err != nil {
		t.Fatalf("LoadGenesisFor(file): %v", err)
	}
	if gen.ChainID != "custom-1" {
		t.Errorf("chain id = %s, want custom-1", gen.ChainID)
	}
}
