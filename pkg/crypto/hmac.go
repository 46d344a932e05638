package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// MACSize is the length in bytes of the tag carried on the wire.
//
// The tag is deliberately short (16 bits) to stay compatible with deployed
// peers. It is not a strong integrity check on its own.
const MACSize = 2

// HMACSHA256 computes the FIPS 198 HMAC-SHA256 of a message.
// Keys longer than the 64-byte block are hashed first, shorter keys are zero padded.
func HMACSHA256(key, message []byte) [SHA256LenBytes]byte {
	h := hmac.New(sha256.New, key)
	h.Write(message)
	var result [SHA256LenBytes]byte
	copy(result[:], h.Sum(nil))
	return result
}

// HMACSHA256Concat computes the untruncated HMAC-SHA256 over the concatenation
// of the given segments.
func HMACSHA256Concat(key []byte, segments ...[]byte) []byte {
	h := hmac.New(sha256.New, key)
	for _, s := range segments {
		h.Write(s)
	}
	return h.Sum(nil)
}

// MAC computes the truncated protocol tag: the first MACSize bytes of
// HMAC-SHA256(key, segments...).
func MAC(key []byte, segments ...[]byte) []byte {
	full := HMACSHA256Concat(key, segments...)
	return full[:MACSize]
}

// MACBase64 computes MAC with a base64-encoded key and returns the base64 tag.
func MACBase64(keyB64 string, segments ...[]byte) (string, error) {
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return "", fmt.Errorf("crypto: invalid MAC key encoding: %w", err)
	}
	return base64.StdEncoding.EncodeToString(MAC(key, segments...)), nil
}

// VerifyMAC recomputes the tag over segments and compares it with tag in
// constant time.
func VerifyMAC(key, tag []byte, segments ...[]byte) bool {
	if len(tag) != MACSize {
		return false
	}
	return HMACEqual(MAC(key, segments...), tag)
}

// HMACEqual compares two MACs for equality in constant time.
func HMACEqual(mac1, mac2 []byte) bool {
	return hmac.Equal(mac1, mac2)
}
