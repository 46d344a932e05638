package transport

import (
	"net"
	"testing"
	"time"
)

func readWithTimeout(t *testing.T, c net.PacketConn, timeout time.Duration) ([]byte, bool) {
	t.Helper()
	buf := make([]byte, MaxFrameSize)
	c.SetReadDeadline(time.Now().Add(timeout))
	defer c.SetReadDeadline(time.Time{})
	n, _, err := c.ReadFrom(buf)
	if err != nil {
		return nil, false
	}
	return buf[:n], true
}

func TestPipe_AutoProcess(t *testing.T) {
	pipe := NewPipe()
	defer pipe.Close()

	if _, err := pipe.Conn(0).WriteTo([]byte("hello"), nil); err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}
	data, ok := readWithTimeout(t, pipe.Conn(1), time.Second)
	if !ok || string(data) != "hello" {
		t.Errorf("read %q, %v", data, ok)
	}
}

func TestPipe_ManualProcess(t *testing.T) {
	pipe := NewPipeWithConfig(PipeConfig{AutoProcess: false})
	defer pipe.Close()

	// The bridge only hands a datagram over to a waiting reader.
	got := make(chan string, 2)
	go func() {
		buf := make([]byte, MaxFrameSize)
		for i := 0; i < 2; i++ {
			n, _, err := pipe.Conn(0).ReadFrom(buf)
			if err != nil {
				return
			}
			got <- string(buf[:n])
		}
	}()

	pipe.Conn(1).WriteTo([]byte("a"), nil)
	pipe.Conn(1).WriteTo([]byte("b"), nil)

	select {
	case s := <-got:
		t.Fatalf("%q delivered without processing", s)
	case <-time.After(20 * time.Millisecond):
	}

	deadline := time.After(2 * time.Second)
	for _, want := range []string{"a", "b"} {
		for delivered := false; !delivered; {
			pipe.Tick()
			select {
			case s := <-got:
				if s != want {
					t.Errorf("read %q, want %q", s, want)
				}
				delivered = true
			case <-time.After(time.Millisecond):
			case <-deadline:
				t.Fatalf("timeout waiting for %q", want)
			}
		}
	}
}

func TestPipe_Addresses(t *testing.T) {
	pipe := NewPipe()
	defer pipe.Close()

	c0, c1 := pipe.Conn(0), pipe.Conn(1)
	if c0.LocalAddr().String() != "pipe:0" || c1.LocalAddr().String() != "pipe:1" {
		t.Errorf("LocalAddr = %v, %v", c0.LocalAddr(), c1.LocalAddr())
	}
	if c0.PeerAddr() != c1.LocalAddr() {
		t.Errorf("PeerAddr() = %v, want %v", c0.PeerAddr(), c1.LocalAddr())
	}
	if pipe.Conn(2) != nil {
		t.Error("Conn(2) not nil")
	}

	c0.WriteTo([]byte("x"), nil)
	buf := make([]byte, 8)
	c1.SetReadDeadline(time.Now().Add(time.Second))
	_, from, err := c1.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom() error = %v", err)
	}
	if from != c0.LocalAddr() {
		t.Errorf("ReadFrom source = %v, want %v", from, c0.LocalAddr())
	}
}

func TestNetworkCondition_Drop(t *testing.T) {
	pipe := NewPipe()
	defer pipe.Close()

	pipe.SetCondition(NetworkCondition{DropRate: 1.0})
	pipe.Conn(0).WriteTo([]byte("lost"), nil)
	if _, ok := readWithTimeout(t, pipe.Conn(1), 50*time.Millisecond); ok {
		t.Error("datagram delivered with DropRate 1.0")
	}

	pipe.SetCondition(NetworkCondition{})
	pipe.Conn(0).WriteTo([]byte("kept"), nil)
	if data, ok := readWithTimeout(t, pipe.Conn(1), time.Second); !ok || string(data) != "kept" {
		t.Errorf("read %q, %v", data, ok)
	}
}

func TestNetworkCondition_Duplicate(t *testing.T) {
	pipe := NewPipe()
	defer pipe.Close()

	pipe.SetCondition(NetworkCondition{DuplicateRate: 1.0})
	pipe.Conn(0).WriteTo([]byte("twice"), nil)

	for i := 0; i < 2; i++ {
		if data, ok := readWithTimeout(t, pipe.Conn(1), time.Second); !ok || string(data) != "twice" {
			t.Fatalf("copy %d: read %q, %v", i, data, ok)
		}
	}
}

func TestNetworkCondition_Delay(t *testing.T) {
	pipe := NewPipe()
	defer pipe.Close()

	pipe.SetCondition(NetworkCondition{DelayMin: 30 * time.Millisecond, DelayMax: 30 * time.Millisecond})

	start := time.Now()
	pipe.Conn(0).WriteTo([]byte("slow"), nil)
	if _, ok := readWithTimeout(t, pipe.Conn(1), time.Second); !ok {
		t.Fatal("datagram not delivered")
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("delivered after %v, want at least 30ms", elapsed)
	}
}

func TestPipe_Close(t *testing.T) {
	pipe := NewPipe()
	if err := pipe.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := pipe.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := pipe.Conn(0).Close(); err != nil {
		t.Errorf("endpoint Close() after pipe Close error = %v", err)
	}
}
