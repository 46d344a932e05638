package zrtp

import (
	"fmt"

	"github.com/backkem/zrtp/pkg/crypto"
)

// generateLocked builds the local message of type t from the hash chain and
// the messages recorded so far.
func (s *Session) generateLocked(t MessageType) (*Message, error) {
	switch t {
	case MessageHello1, MessageHello2:
		return s.hello().Message(t), nil
	case MessageCommit:
		return s.generateCommit()
	case MessageDHPart1, MessageDHPart2:
		return s.dhPart().Message(t), nil
	case MessageConfirm1, MessageConfirm2:
		sec, err := s.secretsLocked()
		if err != nil {
			return nil, err
		}
		h0 := s.chain.H0()
		c := &Confirm{H0: h0, MAC: crypto.MAC(sec.s0, h0)}
		return c.Message(t), nil
	case MessageConf2Ack:
		return NewMessage(MessageConf2Ack), nil
	default:
		return nil, fmt.Errorf("zrtp: cannot generate %s", t)
	}
}

// hello is keyed with h2, revealed later in Commit or DHPart.
func (s *Session) hello() *Hello {
	h3 := s.chain.H3()
	return &Hello{
		Version:         ProtocolVersion,
		H3:              h3,
		HashedPublicKey: s.localHK,
		ClientVersion:   s.clientVersion,
		MAC:             HelloMAC(s.chain.H2(), h3, s.localHK, s.clientVersion),
	}
}

// HelloMAC returns the Hello tag. The keyed data is h3, then H(hk), then the
// client version; hk enters the MAC hashed once more, unlike in Commit.
func HelloMAC(h2, h3, hashedKey []byte, clientVersion string) []byte {
	return crypto.MAC(h2, h3, crypto.SHA256Slice(hashedKey), []byte(clientVersion))
}

// verifyHelloMAC checks a Hello tag once h2 is known.
func verifyHelloMAC(h2 []byte, h *Hello) bool {
	return crypto.HMACEqual(HelloMAC(h2, h.H3, h.HashedPublicKey, h.ClientVersion), h.MAC)
}

// dhPart is keyed with h0, revealed later in Confirm. It is deterministic,
// so the DHPart2 committed to in hvi is the one sent later.
func (s *Session) dhPart() *DHPart {
	h1 := s.chain.H1()
	return &DHPart{
		H1:        h1,
		PublicKey: copyBytes(s.localKey),
		MAC:       crypto.MAC(s.chain.H0(), h1, s.localKey),
	}
}

// generateCommit commits to the initiator's DHPart2 over the responder's
// Hello2 and is keyed with h1.
func (s *Session) generateCommit() (*Message, error) {
	hello2, err := s.messages[MessageHello2].Hello()
	if err != nil {
		return nil, err
	}

	h2 := s.chain.H2()
	hvi := HVI(s.dhPart(), hello2)
	c := &Commit{
		H2:              h2,
		HashedPublicKey: s.localHK,
		ClientVersion:   s.clientVersion,
		HVI:             hvi,
		MAC:             crypto.MAC(s.chain.H1(), h2, s.localHK, []byte(s.clientVersion), hvi),
	}
	return c.Message(), nil
}
