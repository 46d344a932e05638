package zrtp

import (
	"bytes"
	"crypto/sha256"
	"testing"
)

func TestGenerateHashChain(t *testing.T) {
	seed := make([]byte, HashChainSeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}

	chain, err := GenerateHashChain(bytes.NewReader(seed))
	if err != nil {
		t.Fatalf("GenerateHashChain failed: %v", err)
	}

	h0 := sha256.Sum256(seed)
	h1 := sha256.Sum256(h0[:])
	h2 := sha256.Sum256(h1[:])
	h3 := sha256.Sum256(h2[:])

	for i, want := range [][32]byte{h0, h1, h2, h3} {
		if !bytes.Equal(chain.H(i), want[:]) {
			t.Errorf("h%d = %x, want %x", i, chain.H(i), want)
		}
	}
	if !chain.Verify() {
		t.Error("Verify() = false for a fresh chain")
	}
}

func TestHashChainAccessorsCopy(t *testing.T) {
	chain, err := GenerateHashChain(nil)
	if err != nil {
		t.Fatalf("GenerateHashChain failed: %v", err)
	}

	h1 := chain.H1()
	h1[0] ^= 0xFF
	if bytes.Equal(h1, chain.H1()) {
		t.Error("H1() returned internal storage")
	}
	if !chain.Verify() {
		t.Error("chain corrupted through accessor")
	}
}

func TestHashChainVerifyDetectsBrokenLink(t *testing.T) {
	chain, err := GenerateHashChain(nil)
	if err != nil {
		t.Fatalf("GenerateHashChain failed: %v", err)
	}

	chain.links[2][0] ^= 0x01
	if chain.Verify() {
		t.Error("Verify() = true after corrupting h2")
	}
}

func TestHashChainShortSeed(t *testing.T) {
	_, err := GenerateHashChain(bytes.NewReader(make([]byte, HashChainSeedSize-1)))
	if err == nil {
		t.Error("expected error for short seed source")
	}
}

func TestHashChainsAreFresh(t *testing.T) {
	a, err := GenerateHashChain(nil)
	if err != nil {
		t.Fatalf("GenerateHashChain failed: %v", err)
	}
	b, err := GenerateHashChain(nil)
	if err != nil {
		t.Fatalf("GenerateHashChain failed: %v", err)
	}
	if bytes.Equal(a.H0(), b.H0()) {
		t.Error("two chains share h0")
	}
}

func TestLinkValid(t *testing.T) {
	chain, err := GenerateHashChain(nil)
	if err != nil {
		t.Fatalf("GenerateHashChain failed: %v", err)
	}

	if !linkValid(chain.H2(), chain.H3()) {
		t.Error("linkValid(h2, h3) = false")
	}
	if linkValid(chain.H3(), chain.H2()) {
		t.Error("linkValid(h3, h2) = true")
	}
	if linkValid(chain.H2(), chain.H3()[:16]) {
		t.Error("linkValid accepted truncated link")
	}
}
