package commands

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/backkem/zrtp/pkg/crypto"
	"github.com/backkem/zrtp/pkg/transport"
	"github.com/backkem/zrtp/pkg/verifier"
	"github.com/backkem/zrtp/pkg/zrtp"
	"github.com/pion/logging"
	"github.com/spf13/viper"
)

const (
	configDirName = ".zrtp-verify"
	envPrefix     = "ZRTP_VERIFY"
)

// Config keys.
const (
	keyKeyFile       = "key_file"
	keyPort          = "port"
	keyClientVersion = "client_version"
	keyTimeout       = "timeout"
	keyLogLevel      = "log_level"
	keyAdvertise     = "advertise"
	keyEncoding      = "encoding"
	keyPeers         = "peers"
)

var cfgFile string

// configDir returns $HOME/.zrtp-verify.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configDirName), nil
}

// initConfig loads the config file and environment into viper. A missing
// default config file is not an error.
func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDir()
		if err != nil {
			return err
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}

func setDefaults() {
	viper.SetDefault(keyPort, transport.DefaultPort)
	viper.SetDefault(keyClientVersion, zrtp.DefaultClientVersion)
	viper.SetDefault(keyTimeout, zrtp.DefaultTimeout)
	viper.SetDefault(keyLogLevel, "warn")
	viper.SetDefault(keyAdvertise, true)
	viper.SetDefault(keyEncoding, verifier.EncodingBinary.String())
}

// settings is the resolved configuration of one command run.
type settings struct {
	KeyFile       string
	Port          int
	ClientVersion string
	Timeout       time.Duration
	LogLevel      logging.LogLevel
	Advertise     bool
	Encoding      verifier.Encoding
	Peers         map[string]string
}

func loadSettings() (*settings, error) {
	s := &settings{
		KeyFile:       viper.GetString(keyKeyFile),
		Port:          viper.GetInt(keyPort),
		ClientVersion: viper.GetString(keyClientVersion),
		Timeout:       viper.GetDuration(keyTimeout),
		Advertise:     viper.GetBool(keyAdvertise),
		Peers:         viper.GetStringMapString(keyPeers),
	}

	if s.KeyFile == "" {
		dir, err := configDir()
		if err != nil {
			return nil, err
		}
		s.KeyFile = filepath.Join(dir, "key")
	}
	if s.Port < 0 || s.Port > 65535 {
		return nil, fmt.Errorf("%s: %d out of range", keyPort, s.Port)
	}
	if s.Timeout <= 0 {
		return nil, fmt.Errorf("%s must be positive", keyTimeout)
	}

	var err error
	if s.LogLevel, err = parseLogLevel(viper.GetString(keyLogLevel)); err != nil {
		return nil, err
	}
	if s.Encoding, err = parseEncoding(viper.GetString(keyEncoding)); err != nil {
		return nil, err
	}
	return s, nil
}

func parseLogLevel(s string) (logging.LogLevel, error) {
	switch strings.ToLower(s) {
	case "disable", "off":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	default:
		return 0, fmt.Errorf("%s: unknown level %q", keyLogLevel, s)
	}
}

func parseEncoding(s string) (verifier.Encoding, error) {
	switch strings.ToLower(s) {
	case verifier.EncodingBinary.String():
		return verifier.EncodingBinary, nil
	case verifier.EncodingJSON.String():
		return verifier.EncodingJSON, nil
	default:
		return 0, fmt.Errorf("%s: unknown encoding %q", keyEncoding, s)
	}
}

// loggerFactory returns a pion factory logging at level for every scope.
// PION_LOG_* environment variables still override individual scopes.
func loggerFactory(level logging.LogLevel) logging.LoggerFactory {
	f := logging.NewDefaultLoggerFactory()
	f.DefaultLogLevel = level
	return f
}

// loadKeys reads a base64 P-256 private key from path.
func loadKeys(path string) (*crypto.P256KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("key file %s: %w", path, err)
	}
	kp, err := crypto.P256KeyPairFromPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("key file %s: %w", path, err)
	}
	return kp, nil
}

// buildDirectory decodes the configured peers. Names are processed in
// sorted order so errors are reported deterministically.
func buildDirectory(peers map[string]string) (*verifier.MemoryDirectory, error) {
	names := make([]string, 0, len(peers))
	for name := range peers {
		names = append(names, name)
	}
	sort.Strings(names)

	dir := verifier.NewMemoryDirectory()
	for _, name := range names {
		pk, err := base64.StdEncoding.DecodeString(strings.TrimSpace(peers[name]))
		if err != nil {
			return nil, fmt.Errorf("peer %s: %w", name, err)
		}
		if err := dir.Add(name, pk); err != nil {
			return nil, fmt.Errorf("peer %s: %w", name, err)
		}
	}
	return dir, nil
}
