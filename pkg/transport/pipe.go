package transport

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// NetworkCondition configures network behavior simulation on a Pipe.
type NetworkCondition struct {
	// DropRate is the probability of dropping a datagram (0.0 - 1.0).
	DropRate float64

	// DelayMin is the minimum delay added to each datagram.
	DelayMin time.Duration

	// DelayMax is the maximum delay added to each datagram.
	// The delay is uniformly distributed between DelayMin and DelayMax.
	DelayMax time.Duration

	// DuplicateRate is the probability of delivering a datagram twice (0.0 - 1.0).
	DuplicateRate float64
}

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// AutoProcess enables delivery in a background goroutine.
	AutoProcess bool

	// ProcessInterval is how often the background goroutine delivers.
	// Default: 1ms
	ProcessInterval time.Duration
}

// DefaultPipeConfig returns the default pipe configuration.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		AutoProcess:     true,
		ProcessInterval: 1 * time.Millisecond,
	}
}

// Pipe is an in-memory datagram link between two endpoints built on pion's
// test.Bridge. It lets verification tests run without real sockets.
//
// With AutoProcess (the default) datagrams are delivered in the background.
// Without it, call Tick while a reader is waiting.
type Pipe struct {
	bridge *test.Bridge
	conns  [2]*PipePacketConn

	mu          sync.Mutex
	condition   NetworkCondition
	rng         *rand.Rand
	closed      bool
	autoProcess bool
	interval    time.Duration
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// NewPipe creates a pipe with auto-processing enabled.
func NewPipe() *Pipe {
	return NewPipeWithConfig(DefaultPipeConfig())
}

// NewPipeWithConfig creates a pipe with the given configuration.
func NewPipeWithConfig(config PipeConfig) *Pipe {
	p := &Pipe{
		bridge:      test.NewBridge(),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		autoProcess: config.AutoProcess,
		interval:    config.ProcessInterval,
		stopCh:      make(chan struct{}),
	}
	if p.interval == 0 {
		p.interval = 1 * time.Millisecond
	}

	p.conns[0] = &PipePacketConn{conn: p.bridge.GetConn0(), local: PipeAddr{ID: 0}, peer: PipeAddr{ID: 1}, pipe: p}
	p.conns[1] = &PipePacketConn{conn: p.bridge.GetConn1(), local: PipeAddr{ID: 1}, peer: PipeAddr{ID: 0}, pipe: p}

	if p.autoProcess {
		p.startAutoProcess()
	}
	return p
}

func (p *Pipe) startAutoProcess() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.bridge.Tick()
			}
		}
	}()
}

// Conn returns the packet connection for endpoint id (0 or 1).
func (p *Pipe) Conn(id int) *PipePacketConn {
	if id < 0 || id > 1 {
		return nil
	}
	return p.conns[id]
}

// SetCondition configures network condition simulation for both directions.
func (p *Pipe) SetCondition(cond NetworkCondition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.condition = cond
}

// Tick delivers at most one queued datagram in each direction and returns
// the number delivered.
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Close stops auto-processing and closes both endpoints.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.autoProcess {
		close(p.stopCh)
	}
	p.mu.Unlock()

	p.wg.Wait()

	var firstErr error
	for _, c := range p.conns {
		if err := c.closeOnce(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PipeAddr identifies a pipe endpoint.
type PipeAddr struct {
	ID int // 0 or 1
}

// Network returns "pipe".
func (a PipeAddr) Network() string { return "pipe" }

// String returns a string representation of the address.
func (a PipeAddr) String() string { return fmt.Sprintf("pipe:%d", a.ID) }

// PipePacketConn adapts one pipe endpoint to net.PacketConn so it can back
// a UDP transport. Every datagram goes to, and comes from, the other
// endpoint.
type PipePacketConn struct {
	conn  net.Conn
	local PipeAddr
	peer  PipeAddr
	pipe  *Pipe

	mu     sync.Mutex
	closed bool
}

// ReadFrom reads one datagram. The returned address is always the peer's.
func (c *PipePacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	n, err := c.conn.Read(b)
	return n, c.peer, err
}

// WriteTo writes one datagram to the peer, applying the pipe's network
// condition. addr is ignored.
func (c *PipePacketConn) WriteTo(b []byte, _ net.Addr) (int, error) {
	// rng needs exclusive access.
	c.pipe.mu.Lock()
	cond := c.pipe.condition
	drop := cond.DropRate > 0 && c.pipe.rng.Float64() < cond.DropRate
	dup := cond.DuplicateRate > 0 && c.pipe.rng.Float64() < cond.DuplicateRate
	var delay time.Duration
	if cond.DelayMax > 0 {
		delay = cond.DelayMin
		if cond.DelayMax > cond.DelayMin {
			delay += time.Duration(c.pipe.rng.Int63n(int64(cond.DelayMax - cond.DelayMin)))
		}
	}
	c.pipe.mu.Unlock()

	if drop {
		return len(b), nil
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if dup {
		if _, err := c.conn.Write(b); err != nil {
			return 0, err
		}
	}
	return c.conn.Write(b)
}

// Close closes this endpoint. Closing an already closed endpoint is a no-op.
func (c *PipePacketConn) Close() error {
	return c.closeOnce()
}

func (c *PipePacketConn) closeOnce() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// LocalAddr returns the endpoint's address.
func (c *PipePacketConn) LocalAddr() net.Addr {
	return c.local
}

// PeerAddr returns the address of the other endpoint.
func (c *PipePacketConn) PeerAddr() net.Addr {
	return c.peer
}

// SetDeadline sets the read and write deadlines.
func (c *PipePacketConn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// SetReadDeadline sets the read deadline.
func (c *PipePacketConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline sets the write deadline.
func (c *PipePacketConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

var _ net.PacketConn = (*PipePacketConn)(nil)
