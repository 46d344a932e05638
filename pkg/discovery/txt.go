package discovery

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/backkem/zrtp/pkg/crypto"
)

// TXT record keys published with _zrtpverify._udp.
const (
	// TXTKeyHashedKey carries the base64 SHA-256 of the public key, the same
	// value a Hello message carries in hk.
	TXTKeyHashedKey = "hk"

	// TXTKeyClientVersion carries the client version string.
	TXTKeyClientVersion = "cv"
)

// maxTXTString is the DNS limit for one character-string in a TXT record.
const maxTXTString = 255

// TXT holds the TXT record of a verification endpoint.
type TXT struct {
	// HashedKey is SHA-256 of the endpoint's public key (required).
	HashedKey []byte

	// ClientVersion is the endpoint's client version (optional).
	ClientVersion string
}

// Encode converts the TXT record to DNS-SD format strings.
func (t *TXT) Encode() []string {
	txt := []string{TXTKeyHashedKey + "=" + base64.StdEncoding.EncodeToString(t.HashedKey)}
	if t.ClientVersion != "" {
		txt = append(txt, TXTKeyClientVersion+"="+t.ClientVersion)
	}
	return txt
}

// Validate checks the TXT record for publishing.
func (t *TXT) Validate() error {
	if len(t.HashedKey) != crypto.SHA256LenBytes {
		return fmt.Errorf("%w: hashed key must be %d bytes, got %d",
			ErrInvalidTXTRecord, crypto.SHA256LenBytes, len(t.HashedKey))
	}
	if len(TXTKeyClientVersion)+1+len(t.ClientVersion) > maxTXTString {
		return fmt.Errorf("%w: client version too long", ErrInvalidTXTRecord)
	}
	return nil
}

// ParseTXT parses raw TXT record strings into a key-value map.
// Records without '=' are ignored.
func ParseTXT(records []string) map[string]string {
	result := make(map[string]string)
	for _, record := range records {
		if idx := strings.IndexByte(record, '='); idx > 0 {
			result[record[:idx]] = record[idx+1:]
		}
	}
	return result
}

// DecodeTXT parses raw TXT record strings into a TXT. Unknown keys are
// ignored.
func DecodeTXT(records []string) (*TXT, error) {
	m := ParseTXT(records)

	hk, ok := m[TXTKeyHashedKey]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidTXTRecord, TXTKeyHashedKey)
	}
	raw, err := base64.StdEncoding.DecodeString(hk)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTXTRecord, TXTKeyHashedKey, err)
	}

	t := &TXT{HashedKey: raw, ClientVersion: m[TXTKeyClientVersion]}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}
