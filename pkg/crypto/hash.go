// Package crypto provides the hash, keyed-MAC and key-agreement primitives used by
// the ZRTP-style verification protocol.
//
// A single hash primitive, SHA-256, underlies everything: hash-chain links,
// hashed public keys, the HMAC used for message tags and the KDF.
package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// SHA-256 constants.
const (
	// SHA256LenBits is the SHA-256 output length in bits.
	SHA256LenBits = 256

	// SHA256LenBytes is the SHA-256 output length in bytes.
	SHA256LenBytes = 32

	// SHA256BlockSize is the SHA-256 block size in bytes, the HMAC key pad width.
	SHA256BlockSize = 64
)

// SHA256 computes the SHA-256 hash of a message.
func SHA256(message []byte) [SHA256LenBytes]byte {
	return sha256.Sum256(message)
}

// SHA256Slice computes the SHA-256 hash and returns it as a slice.
func SHA256Slice(message []byte) []byte {
	h := sha256.Sum256(message)
	return h[:]
}

// SHA256Concat hashes the concatenation of the given segments without
// allocating the concatenated buffer.
func SHA256Concat(segments ...[]byte) []byte {
	h := sha256.New()
	for _, s := range segments {
		h.Write(s)
	}
	return h.Sum(nil)
}

// HashPublicKey returns SHA-256 of a raw public key. This is the "hk" value
// carried by Hello and Commit messages.
func HashPublicKey(publicKey []byte) []byte {
	return SHA256Slice(publicKey)
}

// HashPublicKeyBase64 returns the standard base64 encoding of HashPublicKey.
func HashPublicKeyBase64(publicKey []byte) string {
	return base64.StdEncoding.EncodeToString(HashPublicKey(publicKey))
}

// Fingerprint returns a short hex fingerprint of a public key for display.
//
// It hashes with SHA-256 and truncates to 10 bytes (20 hex chars).
func Fingerprint(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	return hex.EncodeToString(sum[:10])
}
