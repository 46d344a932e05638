// Package integration provides test infrastructure for verification E2E tests
// over real UDP sockets on the loopback interface.
package integration

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/backkem/zrtp/pkg/crypto"
	"github.com/backkem/zrtp/pkg/verifier"
	"github.com/pion/logging"
)

// Party is one endpoint: an identity key, a directory, a prompter and the
// manager serving them.
type Party struct {
	Name      string
	Keys      *crypto.P256KeyPair
	Directory *verifier.MemoryDirectory
	Prompter  *RecordingPrompter
	Manager   *verifier.Manager
	Events    *EventLog
}

// Addr returns the loopback address the party's manager listens on.
func (p *Party) Addr() net.Addr {
	return p.Manager.LocalAddr()
}

// Trust adds other to the party's directory.
func (p *Party) Trust(t *testing.T, other *Party) {
	t.Helper()
	if err := p.Directory.Add(other.Name, other.Keys.PublicKey()); err != nil {
		t.Fatalf("Directory.Add(%s) error = %v", other.Name, err)
	}
}

// RecordingPrompter answers every SAS prompt with Accept and records what
// it was shown.
type RecordingPrompter struct {
	Accept bool

	mu    sync.Mutex
	shown []string
}

// ConfirmSAS implements verifier.Prompter.
func (r *RecordingPrompter) ConfirmSAS(_ context.Context, _ verifier.Peer, sas string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = append(r.shown, sas)
	return r.Accept, nil
}

// Shown returns the SAS values shown so far.
func (r *RecordingPrompter) Shown() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.shown...)
}

// EventLog collects manager callbacks.
type EventLog struct {
	Verified chan *verifier.Result
	Failed   chan error
}

func newEventLog() *EventLog {
	return &EventLog{
		Verified: make(chan *verifier.Result, 16),
		Failed:   make(chan error, 16),
	}
}

func (e *EventLog) callbacks() verifier.Callbacks {
	return verifier.Callbacks{
		OnVerified: func(r *verifier.Result) { e.Verified <- r },
		OnFailed:   func(_ verifier.Peer, _ net.Addr, err error) { e.Failed <- err },
	}
}

// WaitVerified waits for the next OnVerified event.
func (e *EventLog) WaitVerified(t *testing.T, timeout time.Duration) *verifier.Result {
	t.Helper()
	select {
	case r := <-e.Verified:
		return r
	case err := <-e.Failed:
		t.Fatalf("session failed: %v", err)
	case <-time.After(timeout):
		t.Fatal("timeout waiting for verification")
	}
	return nil
}

// WaitFailed waits for the next OnFailed event.
func (e *EventLog) WaitFailed(t *testing.T, timeout time.Duration) error {
	t.Helper()
	select {
	case err := <-e.Failed:
		return err
	case r := <-e.Verified:
		t.Fatalf("unexpected verification of %s", r.Peer.Name)
	case <-time.After(timeout):
		t.Fatal("timeout waiting for failure")
	}
	return nil
}

// PartyConfig configures NewParty.
type PartyConfig struct {
	// Reject makes the party's prompter reject every SAS.
	Reject bool

	// Encoding of outbound frames.
	Encoding verifier.Encoding

	// Timeout per session. Defaults to 10 seconds.
	Timeout time.Duration

	// LoggerFactory for logging. If nil, uses DefaultLoggerFactory.
	LoggerFactory logging.LoggerFactory
}

// NewParty creates a party listening on 127.0.0.1 with an ephemeral port.
// The manager is closed when the test ends.
func NewParty(t *testing.T, name string, config PartyConfig) *Party {
	t.Helper()

	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	loggerFactory := config.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	keys, err := crypto.P256GenerateKeyPair()
	if err != nil {
		t.Fatalf("P256GenerateKeyPair() error = %v", err)
	}

	p := &Party{
		Name:      name,
		Keys:      keys,
		Directory: verifier.NewMemoryDirectory(),
		Prompter:  &RecordingPrompter{Accept: !config.Reject},
		Events:    newEventLog(),
	}

	m, err := verifier.NewManager(verifier.ManagerConfig{
		ListenAddr:    "127.0.0.1:0",
		Keys:          keys,
		Directory:     p.Directory,
		Prompter:      p.Prompter,
		ClientVersion: "integration " + name,
		Encoding:      config.Encoding,
		Timeout:       config.Timeout,
		Callbacks:     p.Events.callbacks(),
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		t.Fatalf("NewManager(%s) error = %v", name, err)
	}
	p.Manager = m
	t.Cleanup(func() { m.Close() })

	return p
}

// NewTrustedPair creates two parties that trust each other.
func NewTrustedPair(t *testing.T, a, b PartyConfig) (*Party, *Party) {
	t.Helper()
	alice := NewParty(t, "alice", a)
	bob := NewParty(t, "bob", b)
	alice.Trust(t, bob)
	bob.Trust(t, alice)
	return alice, bob
}
