package zrtp

import "context"

// Delegate connects a session to the transport and to the user.
//
// Calls are made without any session lock held, so an implementation may
// feed the peer session synchronously. Implementations must honor ctx.
type Delegate interface {
	// SendMessage delivers one outbound protocol message to the peer.
	SendMessage(ctx context.Context, msg *Message) error

	// ShowSAS displays the short authentication string and returns whether
	// the user confirmed it matches the peer's.
	ShowSAS(ctx context.Context, sas string) (bool, error)
}

// KeyAgent is the long-term identity key of the local party. The private key
// never leaves the agent. crypto.P256KeyPair implements it.
type KeyAgent interface {
	// PublicKey returns the 65-byte uncompressed P-256 public key.
	PublicKey() []byte

	// ECDH returns the 32-byte shared x-coordinate with the peer's public key.
	ECDH(peerPublicKey []byte) ([]byte, error)
}

// DelegateFuncs adapts a pair of functions to the Delegate interface.
type DelegateFuncs struct {
	Send func(ctx context.Context, msg *Message) error
	Show func(ctx context.Context, sas string) (bool, error)
}

// SendMessage implements Delegate.
func (d DelegateFuncs) SendMessage(ctx context.Context, msg *Message) error {
	if d.Send == nil {
		return ErrSendFailed
	}
	return d.Send(ctx, msg)
}

// ShowSAS implements Delegate. A nil Show rejects every SAS.
func (d DelegateFuncs) ShowSAS(ctx context.Context, sas string) (bool, error) {
	if d.Show == nil {
		return false, nil
	}
	return d.Show(ctx, sas)
}
