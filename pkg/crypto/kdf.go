package crypto

import (
	"encoding/binary"
	"errors"
)

// KDFMaxBits is the largest output a single KDF invocation can produce.
const KDFMaxBits = SHA256LenBits

// ErrInvalidKDFLength is returned for a bit length outside 1..KDFMaxBits.
var ErrInvalidKDFLength = errors.New("crypto: invalid KDF output length")

// KDF derives key material in counter mode with a single HMAC-SHA256 block:
//
//	KDF(KI, Label, Context, L) = HMAC(KI, BE32(1) || Label || 0x00 || Context || BE32(L))
//
// truncated to the leftmost ceil(L/8) bytes.
func KDF(key []byte, label string, context []byte, bits int) ([]byte, error) {
	if bits <= 0 || bits > KDFMaxBits {
		return nil, ErrInvalidKDFLength
	}

	var counter, length [4]byte
	binary.BigEndian.PutUint32(counter[:], 1)
	binary.BigEndian.PutUint32(length[:], uint32(bits))

	full := HMACSHA256Concat(key, counter[:], []byte(label), []byte{0x00}, context, length[:])
	return full[:(bits+7)/8], nil
}
