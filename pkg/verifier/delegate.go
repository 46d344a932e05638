package verifier

import (
	"context"
	"net"

	"github.com/backkem/zrtp/pkg/zrtp"
)

// Prompter shows a SAS to the local user and reports whether it matched the
// one the peer sees.
type Prompter interface {
	ConfirmSAS(ctx context.Context, peer Peer, sas string) (bool, error)
}

// PrompterFunc adapts a function to the Prompter interface.
type PrompterFunc func(ctx context.Context, peer Peer, sas string) (bool, error)

// ConfirmSAS implements Prompter.
func (f PrompterFunc) ConfirmSAS(ctx context.Context, peer Peer, sas string) (bool, error) {
	return f(ctx, peer, sas)
}

// Encoding selects the wire encoding of outbound frames. Inbound frames are
// accepted in either encoding.
type Encoding int

const (
	// EncodingBinary is the compact length-prefixed frame.
	EncodingBinary Encoding = iota
	// EncodingJSON is the flat JSON object.
	EncodingJSON
)

// String returns the encoding name.
func (e Encoding) String() string {
	switch e {
	case EncodingBinary:
		return "binary"
	case EncodingJSON:
		return "json"
	default:
		return "unknown"
	}
}

// sessionDelegate connects one session to the manager's transport and
// prompter.
type sessionDelegate struct {
	m    *Manager
	peer Peer
	addr net.Addr
}

func (d *sessionDelegate) SendMessage(_ context.Context, msg *zrtp.Message) error {
	var (
		data []byte
		err  error
	)
	if d.m.config.Encoding == EncodingJSON {
		data, err = msg.MarshalJSON()
	} else {
		data, err = msg.MarshalBinary()
	}
	if err != nil {
		return err
	}
	return d.m.udp.Send(data, d.addr)
}

func (d *sessionDelegate) ShowSAS(ctx context.Context, sas string) (bool, error) {
	return d.m.config.Prompter.ConfirmSAS(ctx, d.peer, sas)
}

var _ zrtp.Delegate = (*sessionDelegate)(nil)
