package verifier

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/backkem/zrtp/pkg/crypto"
	"github.com/backkem/zrtp/pkg/transport"
	"github.com/backkem/zrtp/pkg/zrtp"
)

func mustKeyPair(t *testing.T) *crypto.P256KeyPair {
	t.Helper()
	kp, err := crypto.P256GenerateKeyPair()
	if err != nil {
		t.Fatalf("P256GenerateKeyPair() error = %v", err)
	}
	return kp
}

// sasRecorder is a Prompter that records every SAS it is shown.
type sasRecorder struct {
	accept bool

	mu   sync.Mutex
	seen []string
}

func (r *sasRecorder) ConfirmSAS(_ context.Context, _ Peer, sas string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, sas)
	return r.accept, nil
}

func (r *sasRecorder) shown() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

// testPair is two managers connected by an in-memory pipe. Manager 0 is
// the initiator in every test; manager 1 knows manager 0 as "alice".
type testPair struct {
	pipe      *transport.Pipe
	keys      [2]*crypto.P256KeyPair
	prompters [2]*sasRecorder
	managers  [2]*Manager
	verified  chan *Result
	failed    chan error
}

type pairOptions struct {
	rejectResponder bool
	emptyDirectory  bool
	encoding        Encoding
	timeout         time.Duration
}

func newTestPair(t *testing.T, opts pairOptions) *testPair {
	t.Helper()

	p := &testPair{
		pipe:     transport.NewPipe(),
		verified: make(chan *Result, 2),
		failed:   make(chan error, 2),
	}
	p.keys[0] = mustKeyPair(t)
	p.keys[1] = mustKeyPair(t)
	p.prompters[0] = &sasRecorder{accept: true}
	p.prompters[1] = &sasRecorder{accept: !opts.rejectResponder}

	if opts.timeout == 0 {
		opts.timeout = 5 * time.Second
	}

	for i := 0; i < 2; i++ {
		dir := NewMemoryDirectory()
		if i == 1 && !opts.emptyDirectory {
			if err := dir.Add("alice", p.keys[0].PublicKey()); err != nil {
				t.Fatalf("Add() error = %v", err)
			}
		}

		var callbacks Callbacks
		if i == 1 {
			callbacks = Callbacks{
				OnVerified: func(r *Result) { p.verified <- r },
				OnFailed:   func(_ Peer, _ net.Addr, err error) { p.failed <- err },
			}
		}

		m, err := NewManager(ManagerConfig{
			Conn:      p.pipe.Conn(i),
			Keys:      p.keys[i],
			Directory: dir,
			Prompter:  p.prompters[i],
			Encoding:  opts.encoding,
			Timeout:   opts.timeout,
			Callbacks: callbacks,
		})
		if err != nil {
			t.Fatalf("NewManager() error = %v", err)
		}
		p.managers[i] = m
	}

	t.Cleanup(func() {
		p.managers[0].Close()
		p.managers[1].Close()
		p.pipe.Close()
	})
	return p
}

func (p *testPair) verify(ctx context.Context) (*Result, error) {
	return p.managers[0].Verify(ctx, p.pipe.Conn(0).PeerAddr(), p.keys[1].PublicKey())
}

func TestManagerVerify(t *testing.T) {
	for _, enc := range []Encoding{EncodingBinary, EncodingJSON} {
		t.Run(enc.String(), func(t *testing.T) {
			p := newTestPair(t, pairOptions{encoding: enc})

			result, err := p.verify(context.Background())
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if result.Role != zrtp.RoleInitiator {
				t.Errorf("Role = %v, want initiator", result.Role)
			}
			if len(result.SharedSecret) != 32 {
				t.Errorf("SharedSecret length = %d", len(result.SharedSecret))
			}

			var remote *Result
			select {
			case remote = <-p.verified:
			case err := <-p.failed:
				t.Fatalf("responder failed: %v", err)
			case <-time.After(5 * time.Second):
				t.Fatal("timeout waiting for responder")
			}

			if remote.Role != zrtp.RoleResponder {
				t.Errorf("responder Role = %v", remote.Role)
			}
			if remote.Peer.Name != "alice" {
				t.Errorf("responder peer = %q, want alice", remote.Peer.Name)
			}
			if remote.SAS != result.SAS {
				t.Errorf("SAS mismatch: %q vs %q", result.SAS, remote.SAS)
			}
			if !bytes.Equal(remote.SharedSecret, result.SharedSecret) {
				t.Error("shared secrets differ")
			}

			for i, pr := range p.prompters {
				if shown := pr.shown(); len(shown) != 1 || shown[0] != result.SAS {
					t.Errorf("prompter %d shown %v, want [%s]", i, shown, result.SAS)
				}
			}

			if n := p.managers[0].ActiveSessions(); n != 0 {
				t.Errorf("initiator ActiveSessions() = %d after completion", n)
			}
		})
	}
}

func TestManagerVerifyDuplicatedDatagrams(t *testing.T) {
	p := newTestPair(t, pairOptions{})
	p.pipe.SetCondition(transport.NetworkCondition{DuplicateRate: 1.0})

	if _, err := p.verify(context.Background()); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
}

func TestManagerResponderRejects(t *testing.T) {
	p := newTestPair(t, pairOptions{rejectResponder: true, timeout: 500 * time.Millisecond})

	_, err := p.verify(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Verify() error = %v, want DeadlineExceeded", err)
	}

	select {
	case err := <-p.failed:
		if !errors.Is(err, zrtp.ErrSASRejected) {
			t.Errorf("responder error = %v, want ErrSASRejected", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for responder failure")
	}
}

func TestManagerUnknownPeerIgnored(t *testing.T) {
	p := newTestPair(t, pairOptions{emptyDirectory: true, timeout: 200 * time.Millisecond})

	_, err := p.verify(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Verify() error = %v, want DeadlineExceeded", err)
	}
	if n := p.managers[1].ActiveSessions(); n != 0 {
		t.Errorf("responder ActiveSessions() = %d, want 0", n)
	}
	select {
	case err := <-p.failed:
		t.Errorf("unexpected responder failure: %v", err)
	default:
	}
}

func TestManagerSessionExists(t *testing.T) {
	p := newTestPair(t, pairOptions{emptyDirectory: true, timeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.verify(ctx)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for p.managers[0].ActiveSessions() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first verification never registered")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := p.verify(context.Background()); !errors.Is(err, ErrSessionExists) {
		t.Errorf("second Verify() error = %v, want ErrSessionExists", err)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("first Verify() error = %v, want Canceled", err)
	}
}

func TestManagerCloseAbandons(t *testing.T) {
	p := newTestPair(t, pairOptions{emptyDirectory: true})

	done := make(chan error, 1)
	go func() {
		_, err := p.verify(context.Background())
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for p.managers[0].ActiveSessions() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("verification never registered")
		}
		time.Sleep(time.Millisecond)
	}

	if err := p.managers[0].Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, zrtp.ErrAbandoned) {
			t.Errorf("Verify() error = %v, want ErrAbandoned", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Verify did not return after Close")
	}

	if _, err := p.verify(context.Background()); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Verify() after Close error = %v, want ErrManagerClosed", err)
	}
}

func TestNewManagerInvalidConfig(t *testing.T) {
	if _, err := NewManager(ManagerConfig{Prompter: &sasRecorder{}}); err != ErrInvalidConfig {
		t.Errorf("NewManager(no keys) error = %v, want %v", err, ErrInvalidConfig)
	}
	if _, err := NewManager(ManagerConfig{Keys: mustKeyPair(t)}); err != ErrInvalidConfig {
		t.Errorf("NewManager(no prompter) error = %v, want %v", err, ErrInvalidConfig)
	}
}
