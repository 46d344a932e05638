package zrtp

import (
	"crypto/subtle"
	"fmt"

	"github.com/backkem/zrtp/pkg/crypto"
)

// verifyLocked runs the checks specific to the message type. Structure,
// role, duplicate and ordering checks have already passed.
func (s *Session) verifyLocked(msg *Message) error {
	switch msg.Type {
	case MessageHello1, MessageHello2:
		return s.verifyHello(msg)
	case MessageCommit:
		return s.verifyCommit(msg)
	case MessageDHPart1:
		return s.verifyDHPart1(msg)
	case MessageDHPart2:
		return s.verifyDHPart2(msg)
	case MessageConfirm1, MessageConfirm2:
		return s.verifyConfirm(msg)
	case MessageConf2Ack:
		return nil
	default:
		return fmt.Errorf("%w: unknown message type", ErrMalformedMessage)
	}
}

// verifyHello checks the versions and that the advertised key is the one we
// expect. The MAC can only be checked once the peer reveals h2.
func (s *Session) verifyHello(msg *Message) error {
	h, err := msg.Hello()
	if err != nil {
		return err
	}
	if h.Version != ProtocolVersion {
		return fmt.Errorf("%w: protocol %q, want %q", ErrVersionMismatch, h.Version, ProtocolVersion)
	}
	if h.ClientVersion != s.clientVersion {
		return fmt.Errorf("%w: client %q, want %q", ErrVersionMismatch, h.ClientVersion, s.clientVersion)
	}
	if !equal(h.HashedPublicKey, crypto.HashPublicKey(s.peerKey)) {
		return mismatch("%s hashed key does not match peer key", msg.Type)
	}
	return nil
}

// verifyCommit checks the Commit against the initiator's Hello1, whose MAC
// becomes verifiable now that h2 is revealed. The Commit MAC itself is
// checked when DHPart2 reveals h1.
func (s *Session) verifyCommit(msg *Message) error {
	c, err := msg.Commit()
	if err != nil {
		return err
	}
	hello1, err := s.messages[MessageHello1].Hello()
	if err != nil {
		return err
	}

	if c.ClientVersion != s.clientVersion {
		return fmt.Errorf("%w: client %q, want %q", ErrVersionMismatch, c.ClientVersion, s.clientVersion)
	}
	if !linkValid(c.H2, hello1.H3) {
		return mismatch("Commit h2 does not hash to Hello1 h3")
	}
	if !equal(c.HashedPublicKey, hello1.HashedPublicKey) ||
		!equal(c.HashedPublicKey, crypto.HashPublicKey(s.peerKey)) {
		return mismatch("Commit hashed key does not match Hello1")
	}
	if !verifyHelloMAC(c.H2, hello1) {
		return mismatch("Hello1 MAC")
	}
	return nil
}

// verifyDHPart1 checks the responder's key and, with h1 revealed, its
// Hello2.
func (s *Session) verifyDHPart1(msg *Message) error {
	d, err := msg.DHPart()
	if err != nil {
		return err
	}
	hello2, err := s.messages[MessageHello2].Hello()
	if err != nil {
		return err
	}

	if !equal(crypto.HashPublicKey(d.PublicKey), hello2.HashedPublicKey) {
		return mismatch("DHPart1 key does not match Hello2 hashed key")
	}
	if !equal(d.PublicKey, s.peerKey) {
		return mismatch("DHPart1 key is not the expected peer key")
	}
	h2 := crypto.SHA256Slice(d.H1)
	if !linkValid(h2, hello2.H3) {
		return mismatch("DHPart1 h1 does not chain to Hello2 h3")
	}
	if !verifyHelloMAC(h2, hello2) {
		return mismatch("Hello2 MAC")
	}
	return nil
}

// verifyDHPart2 checks the initiator's key, the Commit MAC now that h1 is
// revealed, and that DHPart2 matches the commitment made in the Commit.
func (s *Session) verifyDHPart2(msg *Message) error {
	d, err := msg.DHPart()
	if err != nil {
		return err
	}
	commit, err := s.messages[MessageCommit].Commit()
	if err != nil {
		return err
	}
	hello2, err := s.messages[MessageHello2].Hello()
	if err != nil {
		return err
	}

	if !equal(crypto.HashPublicKey(d.PublicKey), commit.HashedPublicKey) {
		return mismatch("DHPart2 key does not match Commit hashed key")
	}
	if !equal(d.PublicKey, s.peerKey) {
		return mismatch("DHPart2 key is not the expected peer key")
	}
	if !linkValid(d.H1, commit.H2) {
		return mismatch("DHPart2 h1 does not hash to Commit h2")
	}
	if !crypto.VerifyMAC(d.H1, commit.MAC, commit.H2, commit.HashedPublicKey, []byte(commit.ClientVersion), commit.HVI) {
		return mismatch("Commit MAC")
	}
	if !equal(commit.HVI, HVI(d, hello2)) {
		return mismatch("DHPart2 does not match Commit hvi")
	}
	return nil
}

// verifyConfirm checks h0 against the sender's DHPart, the DHPart MAC now
// that h0 is revealed, and the Confirm MAC under s0.
func (s *Session) verifyConfirm(msg *Message) error {
	c, err := msg.Confirm()
	if err != nil {
		return err
	}

	dhType := MessageDHPart1
	if msg.Type == MessageConfirm2 {
		dhType = MessageDHPart2
	}
	d, err := s.messages[dhType].DHPart()
	if err != nil {
		return err
	}

	if !linkValid(c.H0, d.H1) {
		return mismatch("%s h0 does not hash to %s h1", msg.Type, dhType)
	}
	if !crypto.VerifyMAC(c.H0, d.MAC, d.H1, d.PublicKey) {
		return mismatch("%s MAC", dhType)
	}

	sec, err := s.secretsLocked()
	if err != nil {
		return err
	}
	if !crypto.VerifyMAC(sec.s0, c.MAC, c.H0) {
		return mismatch("%s MAC", msg.Type)
	}
	return nil
}

func mismatch(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrCryptoMismatch}, args...)...)
}

func equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
