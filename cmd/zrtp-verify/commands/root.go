// Package commands implements the zrtp-verify command tree.
package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "zrtp-verify",
		Short:        "Verify peer public keys with a short authentication string",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default $HOME/.zrtp-verify/config.yaml)")
	flags.String("key-file", "", "base64 private key file (default $HOME/.zrtp-verify/key)")
	flags.Int("port", 0, "UDP port (default 7714)")
	flags.String("log-level", "", "log level: disable, error, warn, info, debug, trace")
	flags.Duration("timeout", 0, "per-session timeout (default 2m)")
	flags.String("encoding", "", "outbound frame encoding: binary or json")

	_ = viper.BindPFlag(keyKeyFile, flags.Lookup("key-file"))
	_ = viper.BindPFlag(keyPort, flags.Lookup("port"))
	_ = viper.BindPFlag(keyLogLevel, flags.Lookup("log-level"))
	_ = viper.BindPFlag(keyTimeout, flags.Lookup("timeout"))
	_ = viper.BindPFlag(keyEncoding, flags.Lookup("encoding"))

	root.AddCommand(keygenCmd(), fingerprintCmd(), listenCmd(), verifyCmd())
	return root
}
