package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/backkem/zrtp/pkg/crypto"
	"github.com/backkem/zrtp/pkg/discovery"
	"github.com/backkem/zrtp/pkg/verifier"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func listenCmd() *cobra.Command {
	var instance string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Answer verification requests from configured peers",
		Args:  cobra.NoArgs,
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

			lf := loggerFactory(s.LogLevel)
			con := newConsole(cmd.InOrStdin(), cmd.OutOrStdout())

			m, err := verifier.NewManager(verifier.ManagerConfig{
				ListenAddr:    fmt.Sprintf(":%d", s.Port),
				Keys:          keys,
				Directory:     dir,
				Prompter:      con,
				ClientVersion: s.ClientVersion,
				Encoding:      s.Encoding,
				Timeout:       s.Timeout,
				Callbacks:     con.callbacks(),
				LoggerFactory: lf,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			g, ctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				<-ctx.Done()
				return m.Close()
			})

			if s.Advertise {
				hk := crypto.HashPublicKey(keys.PublicKey())
				if instance == "" {
					instance = discovery.DefaultInstanceName(hk)
				}
				adv := discovery.NewAdvertiser(discovery.AdvertiserConfig{LoggerFactory: lf})
				txt := discovery.TXT{HashedKey: hk, ClientVersion: s.ClientVersion}
				if err := adv.Start(instance, localPort(m.LocalAddr(), s.Port), txt); err != nil {
					stop()
					_ = g.Wait()
					return err
				}
				con.printf("Advertising %s.%s%s\n", instance, discovery.ServiceType, discovery.DefaultDomain)

				g.Go(func() error {
					<-ctx.Done()
					return adv.Close()
				})
			}

			con.printf("Listening on %v as %s with %d known peers\n",
				m.LocalAddr(), crypto.Fingerprint(keys.PublicKey()), len(dir.Peers()))

			err = g.Wait()
			if err == nil || err == context.Canceled {
				return nil
			}
			return err
		},
	}

	cmd.Flags().Bool("advertise", true, "advertise on the local network via mDNS")
	cmd.Flags().StringVar(&instance, "instance", "", "mDNS instance name (default derived from the key)")
	_ = viper.BindPFlag(keyAdvertise, cmd.Flags().Lookup("advertise"))

	return cmd
}

// localPort returns the UDP port of addr, or fallback.
func localPort(addr net.Addr, fallback int) int {
	if u, ok := addr.(*net.UDPAddr); ok && u.Port != 0 {
		return u.Port
	}
	return fallback
}
