package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/backkem/zrtp/pkg/discovery"
	"github.com/backkem/zrtp/pkg/transport"
	"github.com/backkem/zrtp/pkg/verifier"
	"github.com/pion/logging"
	"github.com/spf13/cobra"
)

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <peer-name> [addr]",
		Short: "Verify a configured peer",
		Long: "Run a verification session with a peer named in the config.\n" +
			"Without addr the peer is located on the local network via mDNS by its hashed key.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			keys, err := loadKeys(s.KeyFile)
			if err != nil {
				return err
			}
			dir, err := buildDirectory(s.Peers)
			if err != nil {
				return err
			}
			peer, ok := dir.LookupName(args[0])
			if !ok {
				return fmt.Errorf("unknown peer %q: add its public key under %s in the config", args[0], keyPeers)
			}

			lf := loggerFactory(s.LogLevel)
			con := newConsole(cmd.InOrStdin(), cmd.OutOrStdout())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var addr net.Addr
			if len(args) == 2 {
				addr, err = transport.ResolveUDPAddr(args[1])
			} else {
				addr, err = locate(ctx, peer, lf)
			}
			if err != nil {
				return err
			}
			con.printf("Verifying %s at %v\n", peer.Name, addr)

			m, err := verifier.NewManager(verifier.ManagerConfig{
				ListenAddr:    ":0",
				Keys:          keys,
				Directory:     dir,
				Prompter:      con,
				ClientVersion: s.ClientVersion,
				Encoding:      s.Encoding,
				Timeout:       s.Timeout,
				LoggerFactory: lf,
			})
			if err != nil {
				return err
			}
			defer m.Close()

			result, err := m.Verify(ctx, addr, peer.PublicKey)
			if err != nil {
				return fmt.Errorf("verification with %s failed: %w", peer.Name, err)
			}
			con.printf("Verified %s (SAS %s, session %s)\n", result.Peer.Name, result.SAS, result.SessionID)
			return nil
		},
	}
}

// locate finds peer on the local network by the hashed key it advertises.
func locate(ctx context.Context, peer verifier.Peer, lf logging.LoggerFactory) (net.Addr, error) {
	r := discovery.NewResolver(discovery.ResolverConfig{LoggerFactory: lf})
	svc, err := r.FindByHashedKey(ctx, peer.HashedKey())
	if err != nil {
		return nil, fmt.Errorf("locating %s via mDNS: %w", peer.Name, err)
	}
	return svc.UDPAddr()
}
