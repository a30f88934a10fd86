package config

import (
	"errors"
	"testing"

	"github.com/spf13/cobra"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.SSID != "WiFi Connect" {
		t.Errorf("default SSID = %q, want WiFi Connect", cfg.SSID)
	}
	if cfg.Gateway != "192.168.42.1" {
		t.Errorf("default gateway = %q, want 192.168.42.1", cfg.Gateway)
	}
	if cfg.DHCPRange != "192.168.42.2,192.168.42.254" {
		t.Errorf("default DHCP range = %q", cfg.DHCPRange)
	}
	if cfg.ListeningPort != 80 {
		t.Errorf("default port = %d, want 80", cfg.ListeningPort)
	}
	if cfg.ActivityTimeout != 0 {
		t.Errorf("default activity timeout = %d, want 0", cfg.ActivityTimeout)
	}
	if cfg.ConnectRetries != 1 {
		t.Errorf("default connect retries = %d, want 1", cfg.ConnectRetries)
	}
	if cfg.WiFiDirectMode {
		t.Error("WiFi Direct mode on by default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORTAL_SSID", "Device Setup")
	t.Setenv("PORTAL_LISTENING_PORT", "8080")
	t.Setenv("ACTIVITY_TIMEOUT", "600")
	t.Setenv("WIFI_DIRECT_MODE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.SSID != "Device Setup" {
		t.Errorf("SSID from env = %q, want Device Setup", cfg.SSID)
	}
	if cfg.ListeningPort != 8080 {
		t.Errorf("port from env = %d, want 8080", cfg.ListeningPort)
	}
	if cfg.ActivityTimeout != 600 {
		t.Errorf("activity timeout from env = %d, want 600", cfg.ActivityTimeout)
	}
	if !cfg.WiFiDirectMode {
		t.Error("WiFi Direct mode from env not applied")
	}
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("PORTAL_SSID", "From Env")
	t.Setenv("PORTAL_LISTENING_PORT", "8080")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	cmd := &cobra.Command{RunE: func(*cobra.Command, []string) error { return nil }}
	cfg.BindFlags(cmd)
	cmd.SetArgs([]string{"--portal-ssid", "From Flag"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if cfg.SSID != "From Flag" {
		t.Errorf("SSID = %q, want the flag to win", cfg.SSID)
	}
	if cfg.ListeningPort != 8080 {
		t.Errorf("port = %d, want the env value to survive unset flags", cfg.ListeningPort)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Settings {
		return &Settings{
			SSID:           "WiFi Connect",
			Gateway:        "192.168.42.1",
			DHCPRange:      "192.168.42.2,192.168.42.254",
			ListeningPort:  80,
			ConnectRetries: 1,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"valid defaults", func(s *Settings) {}, false},
		{"valid passphrase", func(s *Settings) { s.Passphrase = "hunter22" }, false},
		{"short passphrase", func(s *Settings) { s.Passphrase = "short" }, true},
		{"empty ssid", func(s *Settings) { s.SSID = "" }, true},
		{"oversized ssid", func(s *Settings) { s.SSID = "0123456789012345678901234567890123" }, true},
		{"bad gateway", func(s *Settings) { s.Gateway = "not-an-ip" }, true},
		{"ipv6 gateway", func(s *Settings) { s.Gateway = "fe80::1" }, true},
		{"bad dhcp range", func(s *Settings) { s.DHCPRange = "192.168.42.2" }, true},
		{"bad range address", func(s *Settings) { s.DHCPRange = "192.168.42.2,banana" }, true},
		{"port zero", func(s *Settings) { s.ListeningPort = 0 }, true},
		{"port too big", func(s *Settings) { s.ListeningPort = 70000 }, true},
		{"negative timeout", func(s *Settings) { s.ActivityTimeout = -1 }, true},
		{"negative retries", func(s *Settings) { s.ConnectRetries = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			err := s.Validate()
			if tt.wantErr && !errors.Is(err, ErrConfig) {
				t.Errorf("Validate() = %v, want ErrConfig", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestListenAddr(t *testing.T) {
	s := &Settings{Gateway: "192.168.42.1", ListeningPort: 8080}
	if got := s.ListenAddr(); got != "192.168.42.1:8080" {
		t.Errorf("ListenAddr = %q", got)
	}
}

func TestGatewayIP(t *testing.T) {
	s := &Settings{Gateway: "192.168.42.1"}
	ip := s.GatewayIP()
	if ip == nil || ip.String() != "192.168.42.1" {
		t.Errorf("GatewayIP = %v", ip)
	}
}
