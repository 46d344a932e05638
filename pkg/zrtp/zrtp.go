// Package zrtp implements a ZRTP-derived key verification handshake.
//
// Two parties that already hold each other's long-term P-256 public keys run
// the handshake to confirm that nobody is relaying or substituting traffic
// between them. The handshake produces a short numeric string (the SAS) that
// both humans compare out of band. A match marks the peer key as verified.
//
// # Protocol Flow
//
//	Initiator                                  Responder
//	---------                                  ---------
//	Initiate(cfg)
//	Start()        ---- Hello1 ---->           ParseFirstMessage, Respond(cfg, hello1)
//	               <--- Hello2 -----           Start()
//	               ---- Commit ---->
//	               <--- DHPart1 ----
//	               ---- DHPart2 --->           ShowSAS
//	ShowSAS        <--- Confirm1 ---
//	               ---- Confirm2 -->
//	Complete       <--- Conf2Ack ---           Complete
//
// Every party commits to a four-link SHA-256 hash chain (h3 = H(h2) = H(H(h1)) ...)
// and reveals it in reverse order. Each message is tagged with a key that is
// only disclosed by a later message, so tags are checked retroactively once
// the key arrives. The Commit carries hvi, a hash binding the initiator's
// DHPart2 to the responder's Hello2, which prevents the initiator from picking
// its share after seeing the responder's data.
//
// The message tag and the SAS are both 16 bits wide for compatibility with
// deployed peers. That is a much smaller margin than standard ZRTP.
//
// # Usage
//
// Initiator:
//
//	session, err := zrtp.Initiate(zrtp.Config{Keys: kp, PeerPublicKey: peer, Delegate: d})
//	go pump(session)       // feed inbound frames to session.ReadMessage
//	err = session.Start(ctx)
//
// Responder:
//
//	hello1, err := zrtp.ParseFirstMessage(frame)
//	session, err := zrtp.Respond(zrtp.Config{Keys: kp, PeerPublicKey: peer, Delegate: d}, hello1)
//	go pump(session)
//	err = session.Start(ctx)
//
// The ctx passed to Start is the only timeout. When one side rejects the SAS
// or fails, nothing is sent to the other side, which stays waiting until its
// ctx ends or the caller calls Close. Callers must bound every Start with a
// deadline, such as DefaultTimeout.
//
// Starting a session after it completed or failed is a programming error,
// not a protocol outcome: Start returns ErrSessionTerminal and logs at Error.
// Frames handed to a terminal session also return ErrSessionTerminal. They
// can race with completion on a live transport, so they log at Debug only.
// Neither call changes the session.
package zrtp

import (
	"errors"
	"fmt"
	"time"
)

// Protocol constants.
const (
	// ProtocolVersion is the version string carried in Hello messages.
	ProtocolVersion = "1.10"

	// DefaultClientVersion is the client version used when Config leaves it empty.
	DefaultClientVersion = "zrtp-go 1.0"

	// HashChainSeedSize is the number of random bytes hashed into h0.
	HashChainSeedSize = 32

	// MasterSecretLabel is mixed into s0.
	MasterSecretLabel = "ZRTP-HMAC-KDF"

	// SASLabel is the KDF label for the short authentication string.
	SASLabel = "SAS"

	// DefaultTimeout bounds how long a caller should keep a session non-terminal.
	// The session itself has no timer; callers enforce it through the context
	// passed to Start.
	DefaultTimeout = 2 * time.Minute
)

// Errors.
var (
	ErrMalformedMessage = errors.New("zrtp: malformed message")
	ErrVersionMismatch  = fmt.Errorf("%w: version mismatch", ErrMalformedMessage)
	ErrOutOfOrder       = errors.New("zrtp: message out of order")
	ErrRoleViolation    = errors.New("zrtp: message not valid for local role")
	ErrDuplicateMessage = errors.New("zrtp: duplicate message")
	ErrCryptoMismatch   = errors.New("zrtp: message authentication failed")
	ErrSASRejected      = errors.New("zrtp: short authentication string rejected")
	ErrSessionTerminal  = errors.New("zrtp: session already resolved or failed")
	ErrAlreadyStarted   = errors.New("zrtp: session already started")
	ErrAbandoned        = errors.New("zrtp: session abandoned")
	ErrSendFailed       = errors.New("zrtp: message delivery failed")
	ErrUnexpectedFirst  = errors.New("zrtp: first message is not Hello1")
	ErrInvalidConfig    = errors.New("zrtp: invalid configuration")
)

// Role represents the handshake participant role.
type Role int

const (
	// RoleInitiator sends Hello1 and Commit.
	RoleInitiator Role = iota
	// RoleResponder answers a received Hello1.
	RoleResponder
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "Initiator"
	case RoleResponder:
		return "Responder"
	default:
		return "Unknown"
	}
}

// Peer returns the opposite role.
func (r Role) Peer() Role {
	if r == RoleInitiator {
		return RoleResponder
	}
	return RoleInitiator
}

// State represents the session state machine.
type State int

const (
	StateAwaitingStart State = iota
	StateExchanging          // Hello/Commit/DHPart in progress
	StateSASPending          // SAS shown, waiting for the local user
	StateConfirming          // SAS approved, Confirm exchange in progress
	StateCompleted
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateAwaitingStart:
		return "AwaitingStart"
	case StateExchanging:
		return "Exchanging"
	case StateSASPending:
		return "SASPending"
	case StateConfirming:
		return "Confirming"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether the state is Completed or Failed.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}
