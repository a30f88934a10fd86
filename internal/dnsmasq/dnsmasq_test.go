package dnsmasq

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/cenkalti/backoff/v4"
)

func baseConfig() Config {
	return Config{
		Interface: "wlan0",
		Gateway:   "192.168.42.1",
		DHCPRange: "192.168.42.2,192.168.42.254",
	}
}

func TestBuildArgsDefaults(t *testing.T) {
	got := BuildArgs(baseConfig())

	want := []string{
		"--address=/#/192.168.42.1",
		"--dhcp-range=192.168.42.2,192.168.42.254",
		"--dhcp-option=option:router,192.168.42.1",
		"--interface=wlan0",
		"--keep-in-foreground",
		"--bind-interfaces",
		"--except-interface=lo",
		"--conf-file",
		"--no-hosts",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("BuildArgs() =\n  %v\nwant\n  %v", got, want)
	}
}

func TestBuildArgsSuppression(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		absent  []string
		present []string
	}{
		{
			name:   "no dhcp dns drops wildcard address",
			mutate: func(c *Config) { c.NoDHCPDNS = true },
			absent: []string{"--address=/#/192.168.42.1"},
		},
		{
			name:   "no dhcp gateway drops router option",
			mutate: func(c *Config) { c.NoDHCPGateway = true },
			absent: []string{"--dhcp-option=option:router,192.168.42.1"},
		},
		{
			name: "empty router option when both flags set",
			mutate: func(c *Config) {
				c.NoDHCPGateway = true
				c.NoDHCPRouterOption = true
			},
			absent:  []string{"--dhcp-option=option:router,192.168.42.1"},
			present: []string{"--dhcp-option=option:router"},
		},
		{
			name: "router option suppression requires no gateway",
			mutate: func(c *Config) {
				c.NoDHCPRouterOption = true
			},
			present: []string{"--dhcp-option=option:router,192.168.42.1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(&cfg)
			args := BuildArgs(cfg)
			joined := " " + strings.Join(args, " ") + " "

			for _, a := range tt.absent {
				if strings.Contains(joined, " "+a+" ") {
					t.Errorf("args contain %q, want it absent:\n%v", a, args)
				}
			}
			for _, p := range tt.present {
				if !strings.Contains(joined, " "+p+" ") {
					t.Errorf("args missing %q:\n%v", p, args)
				}
			}
		})
	}
}

func TestBuildArgsWifiDirectInterface(t *testing.T) {
	cfg := baseConfig()
	cfg.Interface = "p2p-wlan0-0"

	args := BuildArgs(cfg)

	found := false
	for _, a := range args {
		if a == "--interface=p2p-wlan0-0" {
			found = true
		}
	}
	if !found {
		t.Errorf("args missing group interface binding: %v", args)
	}
}

func TestStopWithoutStart(t *testing.T) {
	s := New(baseConfig())
	if err := s.Stop(); err != nil {
		t.Errorf("Stop on never-started service: %v", err)
	}
	if s.Running() {
		t.Error("never-started service reports running")
	}
}

// newFastService shrinks the start retry policy so failure tests do not sit
// through the production backoff.
func newFastService(cfg Config) *Service {
	s := New(cfg)
	s.newPolicy = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1)
	}
	return s
}

func TestStartSurfacesInstantExit(t *testing.T) {
	cfg := baseConfig()
	cfg.Binary = "false" // exits immediately, like a bind failure

	s := newFastService(cfg)
	err := s.Start()
	if !errors.Is(err, ErrBind) {
		t.Fatalf("Start = %v, want ErrBind for an instantly-exiting helper", err)
	}
	if s.Running() {
		t.Error("service reports running after a failed start")
	}
}

func TestStartSurfacesMissingBinary(t *testing.T) {
	cfg := baseConfig()
	cfg.Binary = "definitely-not-a-real-binary-4242"

	s := newFastService(cfg)
	if err := s.Start(); !errors.Is(err, ErrBind) {
		t.Fatalf("Start = %v, want ErrBind for a missing binary", err)
	}
}

func TestStartStopHealthyProcess(t *testing.T) {
	cfg := baseConfig()
	cfg.Binary = "yes" // ignores the generated args and runs until signaled

	s := newFastService(cfg)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.Running() {
		t.Error("service not running after a successful start")
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Running() {
		t.Error("service still running after Stop")
	}
}

func TestNewDefaultsBinary(t *testing.T) {
	s := New(baseConfig())
	if s.cfg.Binary != "dnsmasq" {
		t.Errorf("default binary = %q, want dnsmasq", s.cfg.Binary)
	}
}
