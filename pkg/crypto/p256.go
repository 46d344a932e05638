package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// P-256 constants.
const (
	// P256GroupSizeBytes is the group (scalar and coordinate) size in bytes.
	P256GroupSizeBytes = 32

	// P256PublicKeySizeBytes is the uncompressed public key size.
	// Format: 0x04 || X (32 bytes) || Y (32 bytes) = 65 bytes
	P256PublicKeySizeBytes = 65

	// P256SharedSecretSizeBytes is the ECDH output size (x-coordinate).
	P256SharedSecretSizeBytes = 32
)

// P256KeyPair is a long-term P-256 identity key held by the local party.
//
// It satisfies the key agent contract of the verification protocol: it exposes
// the raw public key and performs ECDH against a peer's public key without ever
// exposing the private scalar to the protocol code.
type P256KeyPair struct {
	private *ecdh.PrivateKey
}

// PublicKey returns the public key in uncompressed format (65 bytes).
func (kp *P256KeyPair) PublicKey() []byte {
	return kp.private.PublicKey().Bytes()
}

// PrivateKey returns the private key as a 32-byte scalar.
func (kp *P256KeyPair) PrivateKey() []byte {
	return kp.private.Bytes()
}

// ECDH computes the shared secret with a peer's uncompressed public key.
func (kp *P256KeyPair) ECDH(peerPublicKey []byte) ([]byte, error) {
	return P256ECDH(kp, peerPublicKey)
}

// P256GenerateKeyPair generates a new P-256 key pair from crypto/rand.
func P256GenerateKeyPair() (*P256KeyPair, error) {
	return P256GenerateKeyPairFrom(rand.Reader)
}

// P256GenerateKeyPairFrom generates a new P-256 key pair from the given source.
func P256GenerateKeyPairFrom(r io.Reader) (*P256KeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ECDH key: %w", err)
	}
	return &P256KeyPair{private: priv}, nil
}

// P256KeyPairFromPrivateKey creates a key pair from an existing private key scalar.
func P256KeyPairFromPrivateKey(privateKey []byte) (*P256KeyPair, error) {
	if len(privateKey) != P256GroupSizeBytes {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", P256GroupSizeBytes, len(privateKey))
	}

	priv, err := ecdh.P256().NewPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return &P256KeyPair{private: priv}, nil
}

// P256ECDH computes the ECDH shared secret.
//
// Parameters:
//   - keyPair: Our private key
//   - peerPublicKey: Peer's 65-byte uncompressed public key (0x04 || X || Y)
//
// Returns the 32-byte shared secret (x-coordinate of the shared point).
func P256ECDH(keyPair *P256KeyPair, peerPublicKey []byte) ([]byte, error) {
	if keyPair == nil || keyPair.private == nil {
		return nil, errors.New("nil key pair")
	}
	if len(peerPublicKey) != P256PublicKeySizeBytes {
		return nil, fmt.Errorf("peer public key must be %d bytes, got %d", P256PublicKeySizeBytes, len(peerPublicKey))
	}

	peerPub, err := ecdh.P256().NewPublicKey(peerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid peer public key: %w", err)
	}

	secret, err := keyPair.private.ECDH(peerPub)
	if err != nil {
		return nil, fmt.Errorf("ECDH computation failed: %w", err)
	}

	return secret, nil
}

// P256ValidatePublicKey validates that a public key is uncompressed and on the curve.
func P256ValidatePublicKey(publicKey []byte) error {
	if len(publicKey) != P256PublicKeySizeBytes {
		return fmt.Errorf("public key must be %d bytes, got %d", P256PublicKeySizeBytes, len(publicKey))
	}
	if publicKey[0] != 0x04 {
		return errors.New("public key must be in uncompressed format (starting with 0x04)")
	}
	if _, err := ecdh.P256().NewPublicKey(publicKey); err != nil {
		return errors.New("public key point is not on the P-256 curve")
	}
	return nil
}
