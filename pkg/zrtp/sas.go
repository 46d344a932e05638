package zrtp

import (
	"encoding/binary"
	"strconv"

	"github.com/backkem/zrtp/pkg/crypto"
)

// secrets holds the values derived once both DHPart messages are known.
type secrets struct {
	totalHash []byte
	s0        []byte
	sasValue  uint16
	sas       string
}

// TranscriptHash binds the derived secret to the exchanged messages:
//
//	H(Hello2.h3 || Hello2.hk || Hello2.mac ||
//	  Commit.h2 || Commit.hk || Commit.clientVersion || Commit.hvi ||
//	  DHPart1.h1 || DHPart1.pkey || DHPart1.mac ||
//	  DHPart2.h1 || DHPart2.pkey || DHPart2.mac)
func TranscriptHash(hello2 *Hello, commit *Commit, dh1, dh2 *DHPart) []byte {
	return crypto.SHA256Concat(
		hello2.H3, hello2.HashedPublicKey, hello2.MAC,
		commit.H2, commit.HashedPublicKey, []byte(commit.ClientVersion), commit.HVI,
		dh1.H1, dh1.PublicKey, dh1.MAC,
		dh2.H1, dh2.PublicKey, dh2.MAC,
	)
}

// HVI computes the initiator's commitment to its DHPart2 over the
// responder's Hello2.
func HVI(dh2 *DHPart, hello2 *Hello) []byte {
	return crypto.SHA256Concat(
		dh2.H1, dh2.PublicKey, dh2.MAC,
		hello2.H3, hello2.HashedPublicKey, hello2.MAC,
	)
}

// MasterSecret computes s0 from the ECDH result and the transcript hash:
//
//	s0 = H(BE32(1) || DH || "ZRTP-HMAC-KDF" || 0^16 || totalHash || 0^12)
func MasterSecret(dh, totalHash []byte) []byte {
	var counter [4]byte
	binary.BigEndian.PutUint32(counter[:], 1)
	return crypto.SHA256Concat(
		counter[:],
		dh,
		[]byte(MasterSecretLabel),
		make([]byte, 16),
		totalHash,
		make([]byte, 12),
	)
}

// ShortAuthString derives the SAS from s0 and the transcript hash. The
// displayed value is the big-endian uint16 of the first two KDF bytes.
func ShortAuthString(s0, totalHash []byte) (uint16, string, error) {
	context := make([]byte, 0, 16+len(totalHash))
	context = append(context, make([]byte, 16)...)
	context = append(context, totalHash...)

	sasBytes, err := crypto.KDF(s0, SASLabel, context, crypto.SHA256LenBits)
	if err != nil {
		return 0, "", err
	}
	v := binary.BigEndian.Uint16(sasBytes[:2])
	return v, strconv.Itoa(int(v)), nil
}

// deriveSecrets computes the transcript hash, s0 and the SAS.
func deriveSecrets(dh []byte, hello2 *Hello, commit *Commit, dh1, dh2 *DHPart) (*secrets, error) {
	total := TranscriptHash(hello2, commit, dh1, dh2)
	s0 := MasterSecret(dh, total)
	v, sas, err := ShortAuthString(s0, total)
	if err != nil {
		return nil, err
	}
	return &secrets{totalHash: total, s0: s0, sasValue: v, sas: sas}, nil
}
