//go:build !race

package discovery

import (
	"context"
	"testing"
	"time"
)

// TestE2E_AdvertiseAndFind advertises on the real network with zeroconf and
// finds the endpoint again by hashed key.
//
// Note: This test requires multicast and may be affected by firewall rules.
func TestE2E_AdvertiseAndFind(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E test in short mode")
	}

	adv := NewAdvertiser(AdvertiserConfig{})
	defer adv.Close()

	hk := hashedKeyN(0x5A)
	if err := adv.Start(DefaultInstanceName(hk), 17714, TXT{HashedKey: hk, ClientVersion: "e2e"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	time.Sleep(1 * time.Second)

	r := NewResolver(ResolverConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	svc, err := r.FindByHashedKey(ctx, hk)
	if err != nil {
		t.Fatalf("FindByHashedKey() error = %v", err)
	}
	if svc.Port != 17714 {
		t.Errorf("Port = %d, want 17714", svc.Port)
	}
	if svc.TXT.ClientVersion != "e2e" {
		t.Errorf("ClientVersion = %q, want e2e", svc.TXT.ClientVersion)
	}
	if svc.PreferredIP() == nil {
		t.Error("no addresses resolved")
	}
}
