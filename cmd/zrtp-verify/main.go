// zrtp-verify checks, out of band, that two hosts hold each other's public
// keys.
//
// Both sides run the ZRTP-style commitment exchange over UDP and show the
// same short authentication string; the users compare it by voice or in
// person and confirm.
//
// Usage:
//
//	zrtp-verify keygen
//	zrtp-verify fingerprint
//	zrtp-verify listen [--advertise]
//	zrtp-verify verify <peer-name> [addr]
//
// Configuration is read from $HOME/.zrtp-verify/config.yaml or --config:
//
//	key_file: /home/alice/.zrtp-verify/key
//	port: 7714
//	log_level: warn
//	peers:
//	  bob: BPm4...base64 public key...
package main

import (
	"os"

	"github.com/backkem/zrtp/cmd/zrtp-verify/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
