package verifier

import (
	"sort"
	"sync"

	"github.com/backkem/zrtp/pkg/crypto"
)

// Peer is a known remote party.
type Peer struct {
	// Name is a local label for the peer.
	Name string

	// PublicKey is the peer's 65-byte uncompressed P-256 public key.
	PublicKey []byte
}

// HashedKey returns SHA-256 of the peer's public key, as carried in Hello.
func (p Peer) HashedKey() []byte {
	return crypto.HashPublicKey(p.PublicKey)
}

// Fingerprint returns a short hex label for the peer's key.
func (p Peer) Fingerprint() string {
	return crypto.Fingerprint(p.PublicKey)
}

// Directory resolves the hashed key advertised in an inbound Hello1 to the
// peer's full public key.
type Directory interface {
	LookupHashedKey(hashedKey []byte) (Peer, bool)
}

// MemoryDirectory is a Directory backed by an in-memory map. It is safe for
// concurrent use.
type MemoryDirectory struct {
	mu     sync.RWMutex
	byHash map[string]Peer
	byName map[string]Peer
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byHash: make(map[string]Peer),
		byName: make(map[string]Peer),
	}
}

// Add registers a peer, replacing any previous entry with the same name.
func (d *MemoryDirectory) Add(name string, publicKey []byte) error {
	if name == "" {
		return ErrInvalidPeer
	}
	if err := crypto.P256ValidatePublicKey(publicKey); err != nil {
		return ErrInvalidPeer
	}

	p := Peer{Name: name, PublicKey: append([]byte(nil), publicKey...)}

	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.byName[name]; ok {
		delete(d.byHash, string(old.HashedKey()))
	}
	d.byName[name] = p
	d.byHash[string(p.HashedKey())] = p
	return nil
}

// Remove deletes a peer by name.
func (d *MemoryDirectory) Remove(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.byName[name]; ok {
		delete(d.byHash, string(p.HashedKey()))
		delete(d.byName, name)
	}
}

// LookupHashedKey implements Directory.
func (d *MemoryDirectory) LookupHashedKey(hashedKey []byte) (Peer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.byHash[string(hashedKey)]
	return p, ok
}

// LookupName returns the peer registered under name.
func (d *MemoryDirectory) LookupName(name string) (Peer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.byName[name]
	return p, ok
}

// Peers returns all registered peers sorted by name.
func (d *MemoryDirectory) Peers() []Peer {
	d.mu.RLock()
	peers := make([]Peer, 0, len(d.byName))
	for _, p := range d.byName {
		peers = append(peers, p)
	}
	d.mu.RUnlock()

	sort.Slice(peers, func(i, j int) bool { return peers[i].Name < peers[j].Name })
	return peers
}

var _ Directory = (*MemoryDirectory)(nil)
