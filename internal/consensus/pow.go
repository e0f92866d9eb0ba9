package consensus

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
	"github.com/Klingon-tech/klingnet-ledger/pkg/crypto"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// PoW errors.
var (
	ErrInsufficientWork = errors.New("hash does not meet difficulty prefix")
	ErrMalformedHash    = errors.New("hash is not valid hex")
	ErrEmptyPrefix      = errors.New("difficulty prefix must not be empty")
	ErrBadPrefix        = errors.New("difficulty prefix must contain only '0' and '1'")
	ErrNonceExhausted   = errors.New("nonce space exhausted")
)

// PoW implements proof-of-work consensus. A hash has enough work when its
// binary representation starts with Prefix.
type PoW struct {
	Prefix string

	// Threads controls the number of parallel mining goroutines.
	// 0 or 1 = single-threaded (default). Each goroutine searches a
	// strided partition of the nonce space.
	Threads int
}

// NewPoW creates a new PoW engine for the given difficulty prefix.
func NewPoW(prefix string) (*PoW, error) {
	if prefix == "" {
		return nil, ErrEmptyPrefix
	}
	if strings.Trim(prefix, "01") != "" {
		return nil, ErrBadPrefix
	}
	if len(prefix) > types.HashSize*8 {
		return nil, fmt.Errorf("difficulty prefix has %d bits, hash has %d", len(prefix), types.HashSize*8)
	}
	return &PoW{Prefix: prefix}, nil
}

// VerifyHash decodes a declared hex hash and checks it against the prefix.
// A hash that does not decode fails with ErrMalformedHash, never with
// ErrInsufficientWork.
func (p *PoW) VerifyHash(hash string) error {
	raw, err := hex.DecodeString(hash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	if !block.MeetsDifficulty(raw, p.Prefix) {
		return ErrInsufficientWork
	}
	return nil
}

// Seal mines the block by iterating the nonce until its digest meets the prefix.
// If Threads > 1, mining runs in parallel goroutines.
func (p *PoW) Seal(blk *block.Block) error {
	return p.SealWithCancel(context.Background(), blk)
}

// SealWithCancel mines the block with cancellation support.
// When the context is cancelled, mining stops and ctx.Err() is returned.
// On success the block's Nonce and Hash are set.
func (p *PoW) SealWithCancel(ctx context.Context, blk *block.Block) error {
	if blk == nil {
		return fmt.Errorf("nil block")
	}
	if p.Prefix == "" {
		return ErrEmptyPrefix
	}

	defer log.Benchmark("seal")()

	nonce, hash, err := p.search(ctx, blk.SigningPrefix(), max(p.Threads, 1))
	if err != nil {
		return err
	}

	blk.Nonce = nonce
	blk.Hash = hash.String()

	log.Consensus.Debug().
		Uint64("id", blk.ID).
		Uint64("nonce", nonce).
		Str("hash", blk.Hash).
		Msg("Block sealed")
	return nil
}

// search runs threads workers over interleaved nonce sequences and returns
// the first nonce whose digest meets the prefix.
func (p *PoW) search(ctx context.Context, prefix []byte, threads int) (uint64, types.Hash, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		nonce uint64
		hash  types.Hash
	}
	found := make(chan result, 1)

	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func(start, stride uint64) {
			defer wg.Done()
			if nonce, hash, ok := p.scan(ctx, prefix, start, stride); ok {
				select {
				case found <- result{nonce, hash}:
				default:
				}
				cancel()
			}
		}(uint64(i), uint64(threads))
	}
	go func() {
		wg.Wait()
		close(found)
	}()

	if r, ok := <-found; ok {
		return r.nonce, r.hash, nil
	}
	// Only a winner cancels ctx, so a set error here came from the caller.
	if err := ctx.Err(); err != nil {
		return 0, types.Hash{}, err
	}
	return 0, types.Hash{}, ErrNonceExhausted
}

// scan tries nonces start, start+stride, ... until one meets the prefix,
// ctx ends or the nonce space runs out. Cancellation is polled every
// 65536 attempts.
func (p *PoW) scan(ctx context.Context, prefix []byte, start, stride uint64) (uint64, types.Hash, bool) {
	buf := make([]byte, len(prefix)+8)
	copy(buf, prefix)

	for nonce, n := start, uint64(0); ; nonce, n = nonce+stride, n+1 {
		if n&0xFFFF == 0 && ctx.Err() != nil {
			return 0, types.Hash{}, false
		}
		binary.LittleEndian.PutUint64(buf[len(prefix):], nonce)
		if hash := crypto.Hash(buf); block.MeetsDifficulty(hash[:], p.Prefix) {
			return nonce, hash, true
		}
		if nonce > math.MaxUint64-stride {
			return 0, types.Hash{}, false
		}
	}
}
