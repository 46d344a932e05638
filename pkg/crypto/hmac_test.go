package crypto

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"
)

// Test vectors from RFC 4231 (HMAC-SHA-256 values only).
var hmacSHA256TestVectors = []struct {
	name     string
	key      string // hex-encoded
	data     string // hex-encoded
	expected string // hex-encoded HMAC-SHA-256
}{
	{
		name:     "RFC4231_TC1",
		key:      "0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b",
		data:     "4869205468657265", // "Hi There"
		expected: "b0344c61d8db38535ca8afceaf0bf12b881dc200c9833da726e9376c2e32cff7",
	},
	{
		name:     "RFC4231_TC2",
		key:      "4a656665",                                                 // "Jefe"
		data:     "7768617420646f2079612077616e7420666f72206e6f7468696e673f", // "what do ya want for nothing?"
		expected: "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843",
	},
	{
		// Key larger than the block size is hashed first.
		name:     "RFC4231_TC6",
		key:      strings.Repeat("aa", 131),
		data:     "54657374205573696e67204c6172676572205468616e20426c6f636b2d53697a65204b6579202d2048617368204b6579204669727374",
		expected: "60e431591ee0b67f0d8a26aacbf5b77f8e0bc6213728c5140546040f0ee37f54",
	},
}

func TestHMACSHA256(t *testing.T) {
	for _, tc := range hmacSHA256TestVectors {
		t.Run(tc.name, func(t *testing.T) {
			key, _ := hex.DecodeString(tc.key)
			data, _ := hex.DecodeString(tc.data)
			expected, _ := hex.DecodeString(tc.expected)

			result := HMACSHA256(key, data)
			if !bytes.Equal(result[:], expected) {
				t.Errorf("HMAC mismatch\ngot:  %x\nwant: %x", result[:], expected)
			}

			// Split the data to exercise the segment interface.
			half := len(data) / 2
			if got := HMACSHA256Concat(key, data[:half], data[half:]); !bytes.Equal(got, expected) {
				t.Errorf("HMACSHA256Concat mismatch\ngot:  %x\nwant: %x", got, expected)
			}
		})
	}
}

func TestMAC(t *testing.T) {
	for _, tc := range hmacSHA256TestVectors {
		t.Run(tc.name, func(t *testing.T) {
			key, _ := hex.DecodeString(tc.key)
			data, _ := hex.DecodeString(tc.data)
			expected, _ := hex.DecodeString(tc.expected)

			tag := MAC(key, data)
			if len(tag) != MACSize {
				t.Fatalf("MAC() length = %d, want %d", len(tag), MACSize)
			}
			if !bytes.Equal(tag, expected[:MACSize]) {
				t.Errorf("MAC() = %x, want %x", tag, expected[:MACSize])
			}
			if !VerifyMAC(key, tag, data) {
				t.Error("VerifyMAC() = false for a valid tag")
			}
		})
	}
}

func TestVerifyMACRejectsTampering(t *testing.T) {
	key := []byte("chain-value-used-as-key")
	data := []byte("h3 || hk || clientVersion")
	tag := MAC(key, data)

	tests := []struct {
		name string
		key  []byte
		tag  []byte
		data []byte
	}{
		{"wrong key", []byte("another-key"), tag, data},
		{"wrong data", key, tag, []byte("h3 || hk || clientVersion!")},
		{"flipped tag", key, []byte{tag[0] ^ 0x01, tag[1]}, data},
		{"short tag", key, tag[:1], data},
		{"full-length tag", key, HMACSHA256Concat(key, data), data},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if VerifyMAC(tt.key, tt.tag, tt.data) {
				t.Error("VerifyMAC() = true, want false")
			}
		})
	}
}

func TestMACBase64(t *testing.T) {
	key, _ := hex.DecodeString(hmacSHA256TestVectors[0].key)
	data, _ := hex.DecodeString(hmacSHA256TestVectors[0].data)

	got, err := MACBase64(base64.StdEncoding.EncodeToString(key), data)
	if err != nil {
		t.Fatalf("MACBase64() error = %v", err)
	}
	if got != "sDQ=" {
		t.Errorf("MACBase64() = %q, want %q", got, "sDQ=")
	}

	if _, err := MACBase64("not base64!", data); err == nil {
		t.Error("MACBase64() with invalid key encoding: expected error")
	}
}

func TestHMACEqual(t *testing.T) {
	mac1 := []byte{1, 2, 3, 4}
	mac2 := []byte{1, 2, 3, 4}
	mac3 := []byte{1, 2, 3, 5}

	if !HMACEqual(mac1, mac2) {
		t.Error("HMACEqual returned false for equal MACs")
	}
	if HMACEqual(mac1, mac3) {
		t.Error("HMACEqual returned true for different MACs")
	}
	if HMACEqual(mac1, mac1[:3]) {
		t.Error("HMACEqual returned true for different length MACs")
	}
}

func BenchmarkMAC(b *testing.B) {
	key := make([]byte, 32)
	message := make([]byte, 128)
	for i := range key {
		key[i] = byte(i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		MAC(key, message)
	}
}
