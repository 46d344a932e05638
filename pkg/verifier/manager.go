// Package verifier runs ZRTP key verification sessions over a datagram
// transport.
//
// A Manager owns one transport. Verify starts an initiator session towards a
// peer address and blocks until it resolves. Inbound Hello1 frames from
// unknown addresses start responder sessions for peers found in the
// Directory. Every session gets its own inbox goroutine, so frames for one
// session are handled in arrival order.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/backkem/zrtp/pkg/crypto"
	"github.com/backkem/zrtp/pkg/transport"
	"github.com/backkem/zrtp/pkg/zrtp"
	"github.com/google/uuid"
	"github.com/pion/logging"
)

// inboxSize bounds the frames queued for one session.
const inboxSize = 16

// Errors returned by the Manager.
var (
	ErrInvalidConfig  = errors.New("verifier: invalid configuration")
	ErrInvalidPeer    = errors.New("verifier: invalid peer")
	ErrSessionExists  = errors.New("verifier: verification already in progress for address")
	ErrManagerClosed  = errors.New("verifier: manager closed")
	ErrUnknownPeerKey = errors.New("verifier: hashed key not in directory")
)

// Result describes a completed verification.
type Result struct {
	SessionID    uuid.UUID
	Role         zrtp.Role
	Peer         Peer
	Addr         net.Addr
	SAS          string
	SharedSecret []byte
}

// Callbacks provides callback functions for Manager events.
type Callbacks struct {
	// OnVerified is called when a session completes, for both roles.
	OnVerified func(result *Result)

	// OnFailed is called when a session fails, for both roles.
	OnFailed func(peer Peer, addr net.Addr, err error)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Conn is an optional pre-existing PacketConn, such as a
	// transport.PipePacketConn. If nil, a UDP socket is opened on ListenAddr.
	Conn net.PacketConn

	// ListenAddr is the address to listen on. Ignored if Conn is set.
	ListenAddr string

	// Keys is the local identity key. Required.
	Keys zrtp.KeyAgent

	// Directory resolves inbound peers. If nil, inbound sessions are refused.
	Directory Directory

	// Prompter shows the SAS to the user. Required.
	Prompter Prompter

	// ClientVersion is passed to every session.
	ClientVersion string

	// Encoding selects the outbound wire encoding.
	Encoding Encoding

	// Timeout bounds each session. Default: zrtp.DefaultTimeout.
	Timeout time.Duration

	// Callbacks for Manager events.
	Callbacks Callbacks

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// entry is one live session in the table.
type entry struct {
	session *zrtp.Session
	peer    Peer
	addr    net.Addr
	inbox   chan []byte
	first   []byte // Hello1 frame that opened a responder session
}

// Manager runs verification sessions over one transport.
type Manager struct {
	config ManagerConfig
	udp    *transport.UDP
	log    logging.LeveledLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*entry // keyed by transport.AddrKey
	closed   bool
}

// NewManager creates a Manager and starts its transport.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.Keys == nil || config.Prompter == nil {
		return nil, ErrInvalidConfig
	}
	if config.Timeout == 0 {
		config.Timeout = zrtp.DefaultTimeout
	}
	if config.ClientVersion == "" {
		config.ClientVersion = zrtp.DefaultClientVersion
	}

	m := &Manager{
		config:   config,
		sessions: make(map[string]*entry),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("verifier")
	}

	udp, err := transport.NewUDP(transport.UDPConfig{
		Conn:           config.Conn,
		ListenAddr:     config.ListenAddr,
		MessageHandler: m.handleDatagram,
		LoggerFactory:  config.LoggerFactory,
	})
	if err != nil {
		m.cancel()
		return nil, fmt.Errorf("creating transport: %w", err)
	}
	m.udp = udp

	if err := udp.Start(); err != nil {
		m.cancel()
		udp.Stop()
		return nil, err
	}
	return m, nil
}

// LocalAddr returns the address the manager receives on.
func (m *Manager) LocalAddr() net.Addr {
	return m.udp.LocalAddr()
}

// ActiveSessions returns the number of sessions in progress.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Verify runs an initiator session with the peer at addr and blocks until it
// completes, fails, or ctx ends.
func (m *Manager) Verify(ctx context.Context, addr net.Addr, peerPublicKey []byte) (*Result, error) {
	if addr == nil {
		return nil, transport.ErrInvalidAddress
	}

	peer := m.peerFor(peerPublicKey)
	e := &entry{peer: peer, addr: addr, inbox: make(chan []byte, inboxSize)}

	session, err := zrtp.Initiate(m.sessionConfig(e))
	if err != nil {
		return nil, err
	}
	e.session = session

	if err := m.register(e); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	if m.log != nil {
		m.log.Infof("session %s: verifying %s at %v", session.ID(), peer.Name, addr)
	}

	m.wg.Add(1)
	go m.drain(ctx, e)

	err = session.Start(ctx)
	return m.finish(e, err)
}

// Close abandons all sessions and stops the transport.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	m.closed = true
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	for _, e := range entries {
		e.session.Close()
	}
	m.cancel()

	err := m.udp.Stop()
	m.wg.Wait()
	return err
}

func (m *Manager) peerFor(publicKey []byte) Peer {
	if m.config.Directory != nil {
		if p, ok := m.config.Directory.LookupHashedKey(crypto.HashPublicKey(publicKey)); ok {
			return p
		}
	}
	return Peer{Name: crypto.Fingerprint(publicKey), PublicKey: publicKey}
}

func (m *Manager) sessionConfig(e *entry) zrtp.Config {
	return zrtp.Config{
		Keys:          m.config.Keys,
		PeerPublicKey: e.peer.PublicKey,
		Delegate:      &sessionDelegate{m: m, peer: e.peer, addr: e.addr},
		ClientVersion: m.config.ClientVersion,
		LoggerFactory: m.config.LoggerFactory,
	}
}

func (m *Manager) register(e *entry) error {
	key := transport.AddrKey(e.addr)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	if _, ok := m.sessions[key]; ok {
		return fmt.Errorf("%w: %v", ErrSessionExists, e.addr)
	}
	m.sessions[key] = e
	return nil
}

// handleDatagram runs on the transport read loop. Frames for a live session
// go to its inbox; anything else may open a responder session.
func (m *Manager) handleDatagram(msg *transport.ReceivedMessage) {
	key := transport.AddrKey(msg.Addr)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	e, ok := m.sessions[key]
	if ok {
		select {
		case e.inbox <- msg.Data:
		default:
			if m.log != nil {
				m.log.Warnf("session %s: inbox full, dropping frame from %v", e.session.ID(), msg.Addr)
			}
		}
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.accept(msg)
}

// accept starts a responder session if msg is a Hello1 from a known peer.
func (m *Manager) accept(msg *transport.ReceivedMessage) {
	hello1, err := zrtp.ParseFirstMessage(msg.Data)
	if err != nil {
		if m.log != nil {
			m.log.Debugf("dropping frame from %v: %v", msg.Addr, err)
		}
		return
	}
	hello, err := hello1.Hello()
	if err != nil {
		return
	}

	if m.config.Directory == nil {
		if m.log != nil {
			m.log.Warnf("refusing verification from %v: no directory", msg.Addr)
		}
		return
	}
	peer, ok := m.config.Directory.LookupHashedKey(hello.HashedPublicKey)
	if !ok {
		if m.log != nil {
			m.log.Warnf("refusing verification from %v: %v", msg.Addr, ErrUnknownPeerKey)
		}
		return
	}

	e := &entry{peer: peer, addr: msg.Addr, inbox: make(chan []byte, inboxSize), first: msg.Data}
	session, err := zrtp.Respond(m.sessionConfig(e), hello1)
	if err != nil {
		if m.log != nil {
			m.log.Warnf("refusing verification from %s at %v: %v", peer.Name, msg.Addr, err)
		}
		m.notifyFailed(e, err)
		return
	}
	e.session = session

	if err := m.register(e); err != nil {
		return
	}

	if m.log != nil {
		m.log.Infof("session %s: %s at %v requests verification", session.ID(), peer.Name, msg.Addr)
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.config.Timeout)
	m.wg.Add(2)
	go m.drain(ctx, e)
	go func() {
		defer m.wg.Done()
		defer cancel()
		_, _ = m.finish(e, session.Start(ctx))
	}()
}

// drain feeds inbox frames to the session one at a time. Byte-identical
// repeats of a frame already handled are dropped.
func (m *Manager) drain(ctx context.Context, e *entry) {
	defer m.wg.Done()

	seen := make(map[[crypto.SHA256LenBytes]byte]struct{})
	if e.first != nil {
		seen[crypto.SHA256(e.first)] = struct{}{}
	}
	for {
		select {
		case data := <-e.inbox:
			sum := crypto.SHA256(data)
			if _, dup := seen[sum]; dup {
				if m.log != nil {
					m.log.Debugf("session %s: dropping repeated frame", e.session.ID())
				}
				continue
			}
			seen[sum] = struct{}{}
			_ = e.session.ReadMessage(ctx, data)
		case <-e.session.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

// finish removes e from the table and reports the outcome.
func (m *Manager) finish(e *entry, err error) (*Result, error) {
	key := transport.AddrKey(e.addr)
	m.mu.Lock()
	if m.sessions[key] == e {
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	if err != nil {
		m.notifyFailed(e, err)
		return nil, err
	}

	sas, _ := e.session.SAS()
	result := &Result{
		SessionID:    e.session.ID(),
		Role:         e.session.Role(),
		Peer:         e.peer,
		Addr:         e.addr,
		SAS:          sas,
		SharedSecret: e.session.SharedSecret(),
	}
	if m.log != nil {
		m.log.Infof("session %s: %s verified", result.SessionID, e.peer.Name)
	}
	if m.config.Callbacks.OnVerified != nil {
		m.config.Callbacks.OnVerified(result)
	}
	return result, nil
}

func (m *Manager) notifyFailed(e *entry, err error) {
	if m.config.Callbacks.OnFailed != nil {
		m.config.Callbacks.OnFailed(e.peer, e.addr, err)
	}
}
