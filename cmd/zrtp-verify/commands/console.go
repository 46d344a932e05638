package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/backkem/zrtp/pkg/verifier"
)

// console serializes terminal output and SAS prompts across sessions.
type console struct {
	out   io.Writer
	lines chan string

	mu sync.Mutex
}

// newConsole starts a reader goroutine that feeds lines from in.
func newConsole(in io.Reader, out io.Writer) *console {
	c := &console{out: out, lines: make(chan string)}
	go func() {
		defer close(c.lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			c.lines <- sc.Text()
		}
	}()
	return c
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// ConfirmSAS implements verifier.Prompter. Anything but y or yes, including
// end of input, is a rejection.
func (c *console) ConfirmSAS(ctx context.Context, peer verifier.Peer, sas string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "\nPeer:  %s (%s)\nSAS:   %s\nDoes %s read the same code? [y/N]: ",
		peer.Name, peer.Fingerprint(), sas, peer.Name)

	select {
	case <-ctx.Done():
		fmt.Fprintln(c.out)
		return false, ctx.Err()
	case line, ok := <-c.lines:
		if !ok {
			fmt.Fprintln(c.out)
			return false, nil
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}

// callbacks reports manager events on the console.
func (c *console) callbacks() verifier.Callbacks {
	return verifier.Callbacks{
		OnVerified: func(r *verifier.Result) {
			c.printf("Verified %s at %v (SAS %s)\n", r.Peer.Name, r.Addr, r.SAS)
		},
		OnFailed: func(peer verifier.Peer, addr net.Addr, err error) {
			c.printf("Verification with %s at %v failed: %v\n", peer.Name, addr, err)
		},
	}
}

var _ verifier.Prompter = (*console)(nil)
