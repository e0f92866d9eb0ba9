package node

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Klingon-tech/klingnet-ledger/config"
	"github.com/Klingon-tech/klingnet-ledger/internal/consensus"
)

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// createEngine builds the proof-of-work engine from the genesis rules.
func createEngine(genesis *config.Genesis, threads int) (*consensus.PoW, error) {
	pow, err := consensus.NewPoW(genesis.Protocol.DifficultyPrefix)
	if err != nil {
		return nil, fmt.Errorf("create pow: %w", err)
	}
	if threads > 1 {
		pow.Threads = threads
	}
	return pow, nil
}

// short abbreviates a hash for logs.
func short(h string) string {
	if len(h) > 16 {
		return h[:16] + "..."
	}
	return h
}
