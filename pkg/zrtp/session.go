package zrtp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/backkem/zrtp/pkg/crypto"
	"github.com/google/uuid"
	"github.com/pion/logging"
)

// Config configures a Session.
type Config struct {
	// Keys is the local long-term identity key. Required.
	Keys KeyAgent

	// PeerPublicKey is the peer's 65-byte uncompressed P-256 public key as
	// known to the caller. Required.
	PeerPublicKey []byte

	// Delegate carries outbound messages and shows the SAS. Required.
	Delegate Delegate

	// ClientVersion is sent in Hello and Commit and must match the peer's.
	// If empty, DefaultClientVersion is used.
	ClientVersion string

	// Rand is the source for the hash chain seed.
	// If nil, crypto/rand is used.
	Rand io.Reader

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// sasApproval tracks the local user's answer to the SAS prompt.
type sasApproval int

const (
	sasNotShown sasApproval = iota
	sasPending
	sasApproved
	sasDenied
)

// Session runs one verification handshake with one peer.
//
// HandleMessage and ReadMessage must be serialized by the caller. The session
// lock is never held while calling the Delegate, so a delegate may feed the
// peer session synchronously.
type Session struct {
	id            uuid.UUID
	role          Role
	keys          KeyAgent
	localKey      []byte
	localHK       []byte
	peerKey       []byte
	clientVersion string
	delegate      Delegate
	chain         *HashChain
	log           logging.LeveledLogger

	mu       sync.Mutex
	state    State
	started  bool
	messages [numMessageTypes]*Message // write-once, sent and received
	sent     [numMessageTypes]bool
	inFlight [numMessageTypes]bool
	secrets  *secrets // memoized once both DHParts are present
	approval sasApproval
	err      error
	done     chan struct{} // closed on resolve or failure
	doneOnce sync.Once
}

// Initiate creates an initiator session with a fresh hash chain.
func Initiate(config Config) (*Session, error) {
	return newSession(config, RoleInitiator)
}

// ParseFirstMessage decodes and validates the frame that opens a handshake.
// It returns the Hello1 message to pass to Respond.
func ParseFirstMessage(data []byte) (*Message, error) {
	msg, err := DecodeMessage(data)
	if err != nil {
		return nil, err
	}
	if msg.Type != MessageHello1 {
		return nil, ErrUnexpectedFirst
	}
	if _, err := msg.Hello(); err != nil {
		return nil, err
	}
	return msg, nil
}

// Respond creates a responder session pre-seeded with the peer's Hello1.
func Respond(config Config, hello1 *Message) (*Session, error) {
	if hello1 == nil || hello1.Type != MessageHello1 {
		return nil, ErrUnexpectedFirst
	}

	s, err := newSession(config, RoleResponder)
	if err != nil {
		return nil, err
	}
	if err := s.verifyHello(hello1); err != nil {
		return nil, err
	}

	s.messages[MessageHello1] = hello1.Clone()
	return s, nil
}

func newSession(config Config, role Role) (*Session, error) {
	if config.Keys == nil || config.Delegate == nil {
		return nil, ErrInvalidConfig
	}
	localKey := config.Keys.PublicKey()
	if err := crypto.P256ValidatePublicKey(localKey); err != nil {
		return nil, fmt.Errorf("%w: local key: %v", ErrInvalidConfig, err)
	}
	if err := crypto.P256ValidatePublicKey(config.PeerPublicKey); err != nil {
		return nil, fmt.Errorf("%w: peer key: %v", ErrInvalidConfig, err)
	}

	chain, err := GenerateHashChain(config.Rand)
	if err != nil {
		return nil, err
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:            id,
		role:          role,
		keys:          config.Keys,
		localKey:      copyBytes(localKey),
		localHK:       crypto.HashPublicKey(localKey),
		peerKey:       copyBytes(config.PeerPublicKey),
		clientVersion: config.ClientVersion,
		delegate:      config.Delegate,
		chain:         chain,
		state:         StateAwaitingStart,
		done:          make(chan struct{}),
	}
	if s.clientVersion == "" {
		s.clientVersion = DefaultClientVersion
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("zrtp")
	}
	return s, nil
}

// Start begins the handshake and blocks until the session resolves, fails,
// or ctx ends. An ending ctx fails the session with the context error.
//
// Start may be called once. A second call returns ErrAlreadyStarted, a call
// on a terminal session returns ErrSessionTerminal.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state.IsTerminal() {
		s.mu.Unlock()
		if s.log != nil {
			s.log.Errorf("session %s: Start called on a %s session", s.id, s.State())
		}
		return ErrSessionTerminal
	}
	if s.started {
		s.mu.Unlock()
		if s.log != nil {
			s.log.Errorf("session %s: Start called twice", s.id)
		}
		return ErrAlreadyStarted
	}
	s.started = true
	s.state = StateExchanging
	s.mu.Unlock()

	if s.log != nil {
		s.log.Infof("session %s: starting as %s", s.id, s.role)
	}

	if err := s.advance(ctx); err != nil {
		return err
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		s.fail(ctx.Err())
	}
	return s.Err()
}

// ReadMessage decodes a wire frame and handles it. A frame that does not
// decode fails the session.
func (s *Session) ReadMessage(ctx context.Context, data []byte) error {
	msg, err := DecodeMessage(data)
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state.IsTerminal() {
			return ErrSessionTerminal
		}
		s.failLocked(err)
		return err
	}
	return s.HandleMessage(ctx, msg)
}

// HandleMessage validates, verifies and records an inbound message, then
// emits whatever the local role owes next.
//
// Any rejection fails the session. Messages arriving after the session
// resolved or failed are ignored and return ErrSessionTerminal.
func (s *Session) HandleMessage(ctx context.Context, msg *Message) error {
	s.mu.Lock()
	if s.state.IsTerminal() {
		s.mu.Unlock()
		if s.log != nil && msg != nil {
			s.log.Debugf("session %s: ignoring %s on terminal session", s.id, msg.Type)
		}
		return ErrSessionTerminal
	}
	if err := s.acceptLocked(msg); err != nil {
		s.failLocked(err)
		s.mu.Unlock()
		return err
	}
	started := s.started
	s.mu.Unlock()

	if !started {
		return nil
	}
	return s.advance(ctx)
}

// acceptLocked runs the ordering checks and the type-specific verification,
// then records msg.
func (s *Session) acceptLocked(msg *Message) error {
	if err := ValidateStructure(msg); err != nil {
		return err
	}

	t := msg.Type
	if t.Receiver() != s.role {
		return fmt.Errorf("%w: %s cannot receive %s", ErrRoleViolation, s.role, t)
	}
	if s.messages[t] != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateMessage, t)
	}
	for _, p := range t.Prerequisites() {
		if s.messages[p] == nil {
			return fmt.Errorf("%w: %s before %s", ErrOutOfOrder, t, p)
		}
	}

	if err := s.verifyLocked(msg); err != nil {
		return err
	}

	s.messages[t] = msg.Clone()
	if s.log != nil {
		s.log.Debugf("session %s: received %s", s.id, t)
	}

	if t == MessageConf2Ack {
		s.resolveLocked()
	}
	return nil
}

// advance emits pending messages and runs the SAS prompt once both DHPart
// messages are known.
func (s *Session) advance(ctx context.Context) error {
	if err := s.sendNext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	due := !s.state.IsTerminal() && s.approval == sasNotShown &&
		s.messages[MessageDHPart1] != nil && s.messages[MessageDHPart2] != nil
	s.mu.Unlock()

	if due {
		return s.confirmSAS(ctx)
	}
	return nil
}

// confirmSAS derives the SAS, asks the user, and on approval releases the
// Confirm message.
func (s *Session) confirmSAS(ctx context.Context) error {
	s.mu.Lock()
	if s.state.IsTerminal() || s.approval != sasNotShown {
		s.mu.Unlock()
		return nil
	}
	sec, err := s.secretsLocked()
	if err != nil {
		s.failLocked(err)
		s.mu.Unlock()
		return err
	}
	s.approval = sasPending
	s.state = StateSASPending
	s.mu.Unlock()

	ok, err := s.delegate.ShowSAS(ctx, sec.sas)

	s.mu.Lock()
	if s.state.IsTerminal() {
		s.mu.Unlock()
		return s.Err()
	}
	switch {
	case err != nil:
		err = fmt.Errorf("zrtp: SAS prompt failed: %w", err)
		s.failLocked(err)
		s.mu.Unlock()
		return err
	case !ok:
		s.approval = sasDenied
		s.failLocked(ErrSASRejected)
		s.mu.Unlock()
		return ErrSASRejected
	}
	s.approval = sasApproved
	s.state = StateConfirming
	s.mu.Unlock()

	return s.sendNext(ctx)
}

// sendNext emits every message the local role currently owes, in order.
func (s *Session) sendNext(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.state.IsTerminal() {
			s.mu.Unlock()
			return nil
		}
		t, ok := s.nextTypeLocked()
		if !ok || s.inFlight[t] {
			s.mu.Unlock()
			return nil
		}
		if t.IsConfirm() && s.approval != sasApproved {
			s.mu.Unlock()
			return nil
		}

		msg, err := s.generateLocked(t)
		if err != nil {
			s.failLocked(err)
			s.mu.Unlock()
			return err
		}
		s.messages[t] = msg
		s.sent[t] = true
		s.inFlight[t] = true
		s.mu.Unlock()

		if s.log != nil {
			s.log.Debugf("session %s: sending %s", s.id, t)
		}
		err = s.delegate.SendMessage(ctx, msg.Clone())

		s.mu.Lock()
		s.inFlight[t] = false
		if err != nil {
			err = fmt.Errorf("%w: %s: %v", ErrSendFailed, t, err)
			s.failLocked(err)
			s.mu.Unlock()
			return err
		}
		if t == MessageConf2Ack {
			s.resolveLocked()
		}
		s.mu.Unlock()
	}
}

// nextTypeLocked walks back from the message after the highest one present
// and returns the first absent type the local role sends whose
// prerequisites are all present.
func (s *Session) nextTypeLocked() (MessageType, bool) {
	start := 0
	for t := MessageHello1; t < numMessageTypes; t++ {
		if s.messages[t] != nil {
			start = int(t) + 1
		}
	}
	if start >= int(numMessageTypes) {
		return 0, false
	}

	for i := start; i >= 0; i-- {
		t := MessageType(i)
		if s.messages[t] != nil || t.Sender() != s.role {
			continue
		}
		if !s.prerequisitesPresentLocked(t) {
			continue
		}
		return t, true
	}
	return 0, false
}

func (s *Session) prerequisitesPresentLocked(t MessageType) bool {
	for _, p := range t.Prerequisites() {
		if s.messages[p] == nil {
			return false
		}
	}
	return true
}

// secretsLocked returns the memoized secrets, deriving them on first use.
// Both DHPart messages must be present.
func (s *Session) secretsLocked() (*secrets, error) {
	if s.secrets != nil {
		return s.secrets, nil
	}
	for _, t := range []MessageType{MessageHello2, MessageCommit, MessageDHPart1, MessageDHPart2} {
		if s.messages[t] == nil {
			return nil, fmt.Errorf("%w: secrets need %s", ErrOutOfOrder, t)
		}
	}

	hello2, err := s.messages[MessageHello2].Hello()
	if err != nil {
		return nil, err
	}
	commit, err := s.messages[MessageCommit].Commit()
	if err != nil {
		return nil, err
	}
	dh1, err := s.messages[MessageDHPart1].DHPart()
	if err != nil {
		return nil, err
	}
	dh2, err := s.messages[MessageDHPart2].DHPart()
	if err != nil {
		return nil, err
	}

	dh, err := s.keys.ECDH(s.peerKey)
	if err != nil {
		return nil, fmt.Errorf("zrtp: ECDH failed: %w", err)
	}

	sec, err := deriveSecrets(dh, hello2, commit, dh1, dh2)
	if err != nil {
		return nil, err
	}
	s.secrets = sec
	return sec, nil
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLocked(err)
}

// failLocked moves the session to Failed. Only the first terminal
// transition has any effect.
func (s *Session) failLocked(err error) {
	if s.state.IsTerminal() {
		return
	}
	s.state = StateFailed
	s.err = err
	s.doneOnce.Do(func() { close(s.done) })

	if s.log == nil {
		return
	}
	if errors.Is(err, ErrSASRejected) {
		s.log.Warnf("session %s: SAS rejected by user", s.id)
		return
	}
	s.log.Warnf("session %s: failed: %v", s.id, err)
}

func (s *Session) resolveLocked() {
	if s.state.IsTerminal() {
		return
	}
	s.state = StateCompleted
	s.doneOnce.Do(func() { close(s.done) })

	if s.log != nil {
		s.log.Infof("session %s: peer key verified", s.id)
	}
}

// Close abandons the session. Pending and future calls observe ErrAbandoned.
func (s *Session) Close() {
	s.fail(ErrAbandoned)
}

// ID returns the session identifier used in logs.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Role returns the session role.
func (s *Session) Role() Role {
	return s.role
}

// State returns the current protocol state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done returns a channel that is closed once the session resolves or fails.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the failure reason, or nil if the session has not failed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// SAS returns the short authentication string once it has been derived.
func (s *Session) SAS() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.secrets == nil {
		return "", false
	}
	return s.secrets.sas, true
}

// SharedSecret returns a copy of s0, or nil if it has not been derived.
func (s *Session) SharedSecret() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.secrets == nil {
		return nil
	}
	return copyBytes(s.secrets.s0)
}

// TranscriptHash returns a copy of the transcript hash, or nil if it has not
// been derived.
func (s *Session) TranscriptHash() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.secrets == nil {
		return nil
	}
	return copyBytes(s.secrets.totalHash)
}

// Message returns a copy of the recorded message of type t and whether it
// was sent (true) or received (false).
func (s *Session) Message(t MessageType) (msg *Message, sent bool, ok bool) {
	if !t.IsValid() {
		return nil, false, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.messages[t] == nil {
		return nil, false, false
	}
	return s.messages[t].Clone(), s.sent[t], true
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
