// Package block defines the ledger block and its canonical hash.
package block

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/pkg/crypto"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// Block is a single entry in the ledger. Blocks are treated as immutable
// once constructed; the chain only ever stores or discards them.
type Block struct {
	ID           uint64  `json:"id"`
	Timestamp    int64   `json:"timestamp"`
	PreviousHash *string `json:"previous_hash"` // nil only for genesis
	Data         string  `json:"data"`
	Nonce        uint64  `json:"nonce"`
	Hash         string  `json:"hash"`
}

// New creates an unsealed block following prev. The Hash field is left empty
// until the block is sealed by a miner.
func New(id uint64, timestamp int64, prevHash string, data string) *Block {
	p := prevHash
	return &Block{
		ID:           id,
		Timestamp:    timestamp,
		PreviousHash: &p,
		Data:         data,
	}
}

// IsGenesis reports whether the block carries no predecessor link.
func (b *Block) IsGenesis() bool {
	return b.PreviousHash == nil
}

// PrevHash returns the predecessor hash, or "" for genesis.
func (b *Block) PrevHash() string {
	if b.PreviousHash == nil {
		return ""
	}
	return *b.PreviousHash
}

// SigningBytes returns the canonical bytes the block hash commits to.
// Format: id(8) | timestamp(8) | len(prev)(4) | prev | len(data)(4) | data | nonce(8)
func (b *Block) SigningBytes() []byte {
	return binary.LittleEndian.AppendUint64(b.SigningPrefix(), b.Nonce)
}

// SigningPrefix returns the signing bytes without the trailing nonce, so a
// nonce search can precompute it once.
func (b *Block) SigningPrefix() []byte {
	prev := b.PrevHash()
	buf := make([]byte, 0, 32+len(prev)+len(b.Data))
	buf = binary.LittleEndian.AppendUint64(buf, b.ID)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(b.Timestamp))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(prev)))
	buf = append(buf, prev...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b.Data)))
	buf = append(buf, b.Data...)
	return buf
}

// CalculateHash recomputes the block digest from its own fields.
func (b *Block) CalculateHash() types.Hash {
	return crypto.Hash(b.SigningBytes())
}

// DecodeHash decodes the declared hex hash into raw bytes.
func (b *Block) DecodeHash() ([]byte, error) {
	raw, err := hex.DecodeString(b.Hash)
	if err != nil {
		return nil, fmt.Errorf("block %d: decode hash %q: %w", b.ID, b.Hash, err)
	}
	return raw, nil
}

// Clone returns a deep copy of the block.
func (b *Block) Clone() *Block {
	c := *b
	if b.PreviousHash != nil {
		p := *b.PreviousHash
		c.PreviousHash = &p
	}
	return &c
}

// String returns a short description for logs.
func (b *Block) String() string {
	h := b.Hash
	if len(h) > 16 {
		h = h[:16]
	}
	return fmt.Sprintf("block{id=%d hash=%s}", b.ID, h)
}
