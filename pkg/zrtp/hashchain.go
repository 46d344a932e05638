package zrtp

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"io"

	"github.com/backkem/zrtp/pkg/crypto"
)

// HashChain holds the four chained commitment values of one session.
//
//	h0 = H(seed), h1 = H(h0), h2 = H(h1), h3 = H(h2)
//
// Values are revealed in reverse order: h3 in Hello, h2 in Commit, h1 in
// DHPart and h0 in Confirm.
type HashChain struct {
	links [4][crypto.SHA256LenBytes]byte
}

// GenerateHashChain draws a fresh 256-bit seed from r and derives the chain.
// If r is nil, crypto/rand is used.
func GenerateHashChain(r io.Reader) (*HashChain, error) {
	if r == nil {
		r = rand.Reader
	}

	var seed [HashChainSeedSize]byte
	if _, err := io.ReadFull(r, seed[:]); err != nil {
		return nil, err
	}

	c := &HashChain{}
	c.links[0] = crypto.SHA256(seed[:])
	for i := 1; i < len(c.links); i++ {
		c.links[i] = crypto.SHA256(c.links[i-1][:])
	}
	return c, nil
}

// H returns a copy of link i (0..3).
func (c *HashChain) H(i int) []byte {
	out := make([]byte, crypto.SHA256LenBytes)
	copy(out, c.links[i][:])
	return out
}

// Base64 returns the standard base64 encoding of link i (0..3).
func (c *HashChain) Base64(i int) string {
	return base64.StdEncoding.EncodeToString(c.links[i][:])
}

// H0 returns h0.
func (c *HashChain) H0() []byte { return c.H(0) }

// H1 returns h1.
func (c *HashChain) H1() []byte { return c.H(1) }

// H2 returns h2.
func (c *HashChain) H2() []byte { return c.H(2) }

// H3 returns h3.
func (c *HashChain) H3() []byte { return c.H(3) }

// Verify checks that every link is the hash of the previous one.
func (c *HashChain) Verify() bool {
	for i := 1; i < len(c.links); i++ {
		if !linkValid(c.links[i-1][:], c.links[i][:]) {
			return false
		}
	}
	return true
}

// linkValid reports whether next == H(prev) in constant time.
func linkValid(prev, next []byte) bool {
	h := crypto.SHA256(prev)
	return subtle.ConstantTimeCompare(h[:], next) == 1
}
