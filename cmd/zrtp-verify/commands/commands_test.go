package commands

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/backkem/zrtp/pkg/crypto"
	"github.com/backkem/zrtp/pkg/verifier"
	"github.com/pion/logging"
	"github.com/spf13/viper"
)

// runCommand executes the root command with args and returns its output.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	cfgFile = ""
	t.Cleanup(viper.Reset)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// writeFile writes content under t.TempDir and returns its path.
func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

// outputField returns the value after "label:" in command output.
func outputField(t *testing.T, out, label string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, label+":"); ok {
			return strings.TrimSpace(rest)
		}
	}
	t.Fatalf("output has no %q line:\n%s", label, out)
	return ""
}

func TestKeygenAndFingerprint(t *testing.T) {
	cfg := writeFile(t, "config.yaml", "log_level: error\n")

	out, err := runCommand(t, "--config", cfg, "keygen")
	if err != nil {
		t.Fatalf("keygen error = %v\n%s", err, out)
	}
	priv := outputField(t, out, "Private key")
	pub := outputField(t, out, "Public key")

	keyFile := writeFile(t, "key", priv+"\n")
	out, err = runCommand(t, "--config", cfg, "--key-file", keyFile, "fingerprint")
	if err != nil {
		t.Fatalf("fingerprint error = %v\n%s", err, out)
	}

	if got := outputField(t, out, "Public key"); got != pub {
		t.Errorf("fingerprint public key = %s, want %s", got, pub)
	}
	pk, _ := base64.StdEncoding.DecodeString(pub)
	if got := outputField(t, out, "Hashed key"); got != crypto.HashPublicKeyBase64(pk) {
		t.Errorf("hashed key = %s", got)
	}
	if got := outputField(t, out, "Fingerprint"); got != crypto.Fingerprint(pk) {
		t.Errorf("fingerprint = %s", got)
	}
}

func TestMissingConfigFile(t *testing.T) {
	if _, err := runCommand(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "keygen"); err == nil {
		t.Error("expected error for missing --config file")
	}
}

func TestVerifyUnknownPeer(t *testing.T) {
	kp, err := crypto.P256GenerateKeyPair()
	if err != nil {
		t.Fatalf("P256GenerateKeyPair() error = %v", err)
	}
	keyFile := writeFile(t, "key", base64.StdEncoding.EncodeToString(kp.PrivateKey()))
	cfg := writeFile(t, "config.yaml", "key_file: "+keyFile+"\n")

	_, err = runCommand(t, "--config", cfg, "verify", "mallory", "127.0.0.1:1")
	if err == nil || !strings.Contains(err.Error(), "unknown peer") {
		t.Errorf("verify error = %v, want unknown peer", err)
	}
}

func TestLoadSettings(t *testing.T) {
	pub := base64.StdEncoding.EncodeToString(mustKeyPair(t).PublicKey())
	cfg := writeFile(t, "config.yaml", strings.Join([]string{
		"key_file: /tmp/k",
		"port: 9000",
		"timeout: 30s",
		"log_level: debug",
		"encoding: json",
		"advertise: false",
		"peers:",
		"  bob: " + pub,
	}, "\n"))

	viper.Reset()
	t.Cleanup(viper.Reset)
	cfgFile = cfg
	t.Cleanup(func() { cfgFile = "" })

	if err := initConfig(); err != nil {
		t.Fatalf("initConfig() error = %v", err)
	}
	s, err := loadSettings()
	if err != nil {
		t.Fatalf("loadSettings() error = %v", err)
	}

	if s.KeyFile != "/tmp/k" || s.Port != 9000 || s.Timeout != 30*time.Second {
		t.Errorf("settings = %+v", s)
	}
	if s.LogLevel != logging.LogLevelDebug || s.Encoding != verifier.EncodingJSON || s.Advertise {
		t.Errorf("settings = %+v", s)
	}
	if s.Peers["bob"] != pub {
		t.Errorf("peers = %v", s.Peers)
	}
}

func TestLoadSettingsDefaults(t *testing.T) {
	cfg := writeFile(t, "config.yaml", "client_version: test\n")

	viper.Reset()
	t.Cleanup(viper.Reset)
	cfgFile = cfg
	t.Cleanup(func() { cfgFile = "" })

	if err := initConfig(); err != nil {
		t.Fatalf("initConfig() error = %v", err)
	}
	s, err := loadSettings()
	if err != nil {
		t.Fatalf("loadSettings() error = %v", err)
	}
	if s.Port != 7714 || s.Timeout != 2*time.Minute || s.LogLevel != logging.LogLevelWarn {
		t.Errorf("defaults = %+v", s)
	}
	if !s.Advertise || s.Encoding != verifier.EncodingBinary || s.ClientVersion != "test" {
		t.Errorf("defaults = %+v", s)
	}
	if filepath.Base(s.KeyFile) != "key" {
		t.Errorf("KeyFile = %q", s.KeyFile)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    logging.LogLevel
		wantErr bool
	}{
		{"disable", logging.LogLevelDisabled, false},
		{"ERROR", logging.LogLevelError, false},
		{"warn", logging.LogLevelWarn, false},
		{"warning", logging.LogLevelWarn, false},
		{"info", logging.LogLevelInfo, false},
		{"Debug", logging.LogLevelDebug, false},
		{"trace", logging.LogLevelTrace, false},
		{"loud", 0, true},
	}

	for _, tt := range tests {
		got, err := parseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseEncoding(t *testing.T) {
	if e, err := parseEncoding("JSON"); err != nil || e != verifier.EncodingJSON {
		t.Errorf("parseEncoding(JSON) = %v, %v", e, err)
	}
	if e, err := parseEncoding("binary"); err != nil || e != verifier.EncodingBinary {
		t.Errorf("parseEncoding(binary) = %v, %v", e, err)
	}
	if _, err := parseEncoding("xml"); err == nil {
		t.Error("parseEncoding(xml) succeeded")
	}
}

func TestLoadKeys(t *testing.T) {
	kp := mustKeyPair(t)
	path := writeFile(t, "key", "  "+base64.StdEncoding.EncodeToString(kp.PrivateKey())+"\n")

	got, err := loadKeys(path)
	if err != nil {
		t.Fatalf("loadKeys() error = %v", err)
	}
	if !bytes.Equal(got.PublicKey(), kp.PublicKey()) {
		t.Error("loaded key does not match")
	}

	for name, content := range map[string]string{
		"not base64": "!!!",
		"short":      base64.StdEncoding.EncodeToString([]byte{1, 2, 3}),
	} {
		if _, err := loadKeys(writeFile(t, "key", content)); err == nil {
			t.Errorf("loadKeys(%s) succeeded", name)
		}
	}
	if _, err := loadKeys(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("loadKeys(missing) succeeded")
	}
}

func TestBuildDirectory(t *testing.T) {
	bob := mustKeyPair(t)

	dir, err := buildDirectory(map[string]string{
		"bob": base64.StdEncoding.EncodeToString(bob.PublicKey()),
	})
	if err != nil {
		t.Fatalf("buildDirectory() error = %v", err)
	}
	if p, ok := dir.LookupHashedKey(crypto.HashPublicKey(bob.PublicKey())); !ok || p.Name != "bob" {
		t.Errorf("LookupHashedKey(bob) = %+v, %v", p, ok)
	}

	_, err = buildDirectory(map[string]string{"eve": base64.StdEncoding.EncodeToString([]byte{4, 1})})
	if !errors.Is(err, verifier.ErrInvalidPeer) {
		t.Errorf("buildDirectory(bad key) error = %v, want %v", err, verifier.ErrInvalidPeer)
	}
	if _, err := buildDirectory(map[string]string{"eve": "%%%"}); err == nil {
		t.Error("buildDirectory(bad base64) succeeded")
	}
}

func TestConsoleConfirmSAS(t *testing.T) {
	peer := verifier.Peer{Name: "bob", PublicKey: mustKeyPair(t).PublicKey()}

	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{" YES \n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}

	for _, tt := range tests {
		var out bytes.Buffer
		c := newConsole(strings.NewReader(tt.input), &out)

		got, err := c.ConfirmSAS(context.Background(), peer, "12345")
		if err != nil {
			t.Errorf("ConfirmSAS(%q) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("ConfirmSAS(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if !strings.Contains(out.String(), "12345") || !strings.Contains(out.String(), "bob") {
			t.Errorf("prompt = %q", out.String())
		}
	}
}

func TestConsoleConfirmSASCancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	c := newConsole(pr, &bytes.Buffer{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ok, err := c.ConfirmSAS(ctx, verifier.Peer{Name: "bob"}, "1")
	if ok || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ConfirmSAS() = %v, %v, want false, DeadlineExceeded", ok, err)
	}
}

func TestLocalPort(t *testing.T) {
	if got := localPort(&net.UDPAddr{Port: 9999}, 1); got != 9999 {
		t.Errorf("localPort(udp) = %d", got)
	}
	if got := localPort(nil, 7714); got != 7714 {
		t.Errorf("localPort(nil) = %d", got)
	}
}

func mustKeyPair(t *testing.T) *crypto.P256KeyPair {
	t.Helper()
	kp, err := crypto.P256GenerateKeyPair()
	if err != nil {
		t.Fatalf("P256GenerateKeyPair() error = %v", err)
	}
	return kp
}
