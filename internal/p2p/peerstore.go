package p2p

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

const (
	peerKeyPrefix     = "peer/"
	staleThreshold    = 24 * time.Hour
	persistInterval   = 5 * time.Minute
	maxPersistedPeers = 500
)

// ErrPeerNotFound is returned by Load for an unknown peer.
var ErrPeerNotFound = errors.New("peer record not found")

// PeerRecord is a persisted peer entry.
type PeerRecord struct {
	ID       string   `json:"id"`        // base58 peer ID
	Addrs    []string `json:"addrs"`     // multiaddr strings, without /p2p/
	LastSeen int64    `json:"last_seen"` // unix timestamp
	Source   string   `json:"source"`    // one of the Source* labels
}

// AddrInfo converts the record into dialable peer info. Unparseable
// addresses are skipped.
func (r PeerRecord) AddrInfo() (peer.AddrInfo, error) {
	id, err := peer.Decode(r.ID)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("decode peer id: %w", err)
	}
	info := peer.AddrInfo{ID: id}
	for _, s := range r.Addrs {
		ma, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			continue
		}
		info.Addrs = append(info.Addrs, ma)
	}
	return info, nil
}

// PeerStore persists peer records in a storage.DB under the "peer/" prefix.
type PeerStore struct {
	db storage.DB
}

// NewPeerStore creates a new PeerStore backed by the given DB.
func NewPeerStore(db storage.DB) *PeerStore {
	return &PeerStore{db: db}
}

func peerKey(id string) []byte {
	return []byte(peerKeyPrefix + id)
}

// Save persists a peer record. If the store already has maxPersistedPeers
// records and this is a new peer, the save is silently skipped.
func (ps *PeerStore) Save(rec PeerRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("peer record has no id")
	}
	key := peerKey(rec.ID)

	exists, err := ps.db.Has(key)
	if err != nil {
		return fmt.Errorf("check peer exists: %w", err)
	}
	if !exists {
		count, err := ps.Count()
		if err != nil {
			return err
		}
		if count >= maxPersistedPeers {
			return nil
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal peer record: %w", err)
	}
	return ps.db.Put(key, data)
}

// Load retrieves a single peer record by ID.
func (ps *PeerStore) Load(id peer.ID) (*PeerRecord, error) {
	data, err := ps.db.Get(peerKey(id.String()))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPeerNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get peer record: %w", err)
	}
	var rec PeerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal peer record: %w", err)
	}
	return &rec, nil
}

// scan decodes every stored record. ok is false for records that fail to
// decode.
func (ps *PeerStore) scan(fn func(key []byte, rec PeerRecord, ok bool)) error {
	return ps.db.ForEach([]byte(peerKeyPrefix), func(key, value []byte) error {
		var rec PeerRecord
		err := json.Unmarshal(value, &rec)
		fn(key, rec, err == nil)
		return nil
	})
}

// LoadAll returns all persisted peer records. Corrupt records are skipped.
func (ps *PeerStore) LoadAll() ([]PeerRecord, error) {
	var records []PeerRecord
	err := ps.scan(func(_ []byte, rec PeerRecord, ok bool) {
		if ok {
			records = append(records, rec)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("iterate peer records: %w", err)
	}
	return records, nil
}

// Delete removes a peer record.
func (ps *PeerStore) Delete(id peer.ID) error {
	return ps.db.Delete(peerKey(id.String()))
}

// PruneStale deletes corrupt records and those last seen more than
// threshold ago, returning how many went.
func (ps *PeerStore) PruneStale(threshold time.Duration) (int, error) {
	cutoff := time.Now().Add(-threshold).Unix()
	var stale [][]byte
	err := ps.scan(func(key []byte, rec PeerRecord, ok bool) {
		if !ok || rec.LastSeen < cutoff {
			stale = append(stale, key)
		}
	})
	if err != nil {
		return 0, fmt.Errorf("iterate for prune: %w", err)
	}

	for i, k := range stale {
		if err := ps.db.Delete(k); err != nil {
			return i, fmt.Errorf("delete stale peer: %w", err)
		}
	}
	return len(stale), nil
}

// Count returns the number of stored records, corrupt ones included.
func (ps *PeerStore) Count() (int, error) {
	count := 0
	if err := ps.scan(func([]byte, PeerRecord, bool) { count++ }); err != nil {
		return 0, fmt.Errorf("count peers: %w", err)
	}
	return count, nil
}
