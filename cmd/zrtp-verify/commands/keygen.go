package commands

import (
	"encoding/base64"
	"fmt"

	"github.com/backkem/zrtp/pkg/crypto"
	"github.com/spf13/cobra"
)

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a P-256 identity key",
		Long: "Generate a P-256 identity key and print it base64 encoded.\n" +
			"Save the private key line to the key file and give the public key to your peers.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := crypto.P256GenerateKeyPair()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Private key: %s\n", base64.StdEncoding.EncodeToString(kp.PrivateKey()))
			fmt.Fprintf(out, "Public key:  %s\n", base64.StdEncoding.EncodeToString(kp.PublicKey()))
			fmt.Fprintf(out, "Fingerprint: %s\n", crypto.Fingerprint(kp.PublicKey()))
			return nil
		},
	}
}

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the public key, hashed key and fingerprint of the configured key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			kp, err := loadKeys(s.KeyFile)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Public key:  %s\n", base64.StdEncoding.EncodeToString(kp.PublicKey()))
			fmt.Fprintf(out, "Hashed key:  %s\n", crypto.HashPublicKeyBase64(kp.PublicKey()))
			fmt.Fprintf(out, "Fingerprint: %s\n", crypto.Fingerprint(kp.PublicKey()))
			return nil
		},
	}
}
