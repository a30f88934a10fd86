// Package config provides application configuration from environment
// variables, with command-line flags layered on top.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"
)

// ErrConfig marks every configuration validation failure.
var ErrConfig = errors.New("invalid configuration")

// Settings holds all application configuration. Every field has an
// environment variable and a matching command-line flag; the flag wins when
// both are set.
type Settings struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Hotspot settings
	Interface      string `envconfig:"PORTAL_INTERFACE" default:""`
	SSID           string `envconfig:"PORTAL_SSID" default:"WiFi Connect"`
	Passphrase     string `envconfig:"PORTAL_PASSPHRASE" default:""`
	Gateway        string `envconfig:"PORTAL_GATEWAY" default:"192.168.42.1"`
	DHCPRange      string `envconfig:"PORTAL_DHCP_RANGE" default:"192.168.42.2,192.168.42.254"`
	ListeningPort  int    `envconfig:"PORTAL_LISTENING_PORT" default:"80"`
	WiFiDirectMode bool   `envconfig:"WIFI_DIRECT_MODE" default:"false"`

	// DHCP/DNS helper settings
	NoDHCPGateway      bool `envconfig:"NO_DHCP_GATEWAY" default:"false"`
	NoDHCPDNS          bool `envconfig:"NO_DHCP_DNS" default:"false"`
	NoDHCPRouterOption bool `envconfig:"NO_DHCP_ROUTER_OPTION" default:"false"`

	// Workflow settings
	ActivityTimeout int  `envconfig:"ACTIVITY_TIMEOUT" default:"0"` // seconds, 0 disables
	ConnectRetries  int  `envconfig:"CONNECT_RETRIES" default:"1"`
	ExitOnConnect   bool `envconfig:"EXIT_ON_CONNECT" default:"false"`

	// Portal UI
	UIDirectory string `envconfig:"UI_DIRECTORY" default:"ui"`
}

// Load creates a Settings instance from environment variables.
func Load() (*Settings, error) {
	s := &Settings{}
	if err := envconfig.Process("", s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return s, nil
}

// BindFlags registers one flag per setting on cmd, defaulting to the
// environment-derived values already loaded into s. Cobra overwrites the
// bound fields only for flags the user actually passed, which gives flags
// precedence over the environment.
func (s *Settings) BindFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&s.LogLevel, "log-level", s.LogLevel, "log level (debug, info, warn, error)")
	f.StringVarP(&s.Interface, "portal-interface", "i", s.Interface, "WiFi interface to use (default: first managed WiFi device)")
	f.StringVarP(&s.SSID, "portal-ssid", "s", s.SSID, "SSID of the captive portal hotspot")
	f.StringVarP(&s.Passphrase, "portal-passphrase", "p", s.Passphrase, "WPA2 passphrase of the hotspot (empty for an open hotspot)")
	f.StringVarP(&s.Gateway, "portal-gateway", "g", s.Gateway, "gateway address of the hotspot")
	f.StringVarP(&s.DHCPRange, "portal-dhcp-range", "d", s.DHCPRange, "DHCP range served to hotspot clients")
	f.IntVarP(&s.ListeningPort, "portal-listening-port", "o", s.ListeningPort, "listening port of the captive portal")
	f.BoolVar(&s.WiFiDirectMode, "wifi-direct", s.WiFiDirectMode, "run the hotspot as a WiFi Direct group owner")
	f.BoolVar(&s.NoDHCPGateway, "no-dhcp-gateway", s.NoDHCPGateway, "do not advertise this device as the default gateway")
	f.BoolVar(&s.NoDHCPDNS, "no-dhcp-dns", s.NoDHCPDNS, "do not resolve all DNS names to the gateway")
	f.BoolVar(&s.NoDHCPRouterOption, "no-dhcp-router-option", s.NoDHCPRouterOption, "advertise an empty router DHCP option")
	f.IntVarP(&s.ActivityTimeout, "activity-timeout", "a", s.ActivityTimeout, "exit after this many seconds without portal activity (0 disables)")
	f.IntVar(&s.ConnectRetries, "connect-retries", s.ConnectRetries, "retries for a timed-out connection attempt")
	f.BoolVar(&s.ExitOnConnect, "exit-on-connect", s.ExitOnConnect, "exit once a connection succeeds")
	f.StringVarP(&s.UIDirectory, "ui-directory", "u", s.UIDirectory, "directory of the portal web UI")
}

// Validate checks the settings for values that cannot work. It reports the
// first problem found.
func (s *Settings) Validate() error {
	if n := len(s.SSID); n == 0 || n > 32 {
		return fmt.Errorf("%w: SSID must be 1-32 bytes, got %d", ErrConfig, len(s.SSID))
	}
	if s.Passphrase != "" && (len(s.Passphrase) < 8 || len(s.Passphrase) > 63) {
		return fmt.Errorf("%w: passphrase must be 8-63 characters", ErrConfig)
	}
	if ip := net.ParseIP(s.Gateway); ip == nil || ip.To4() == nil {
		return fmt.Errorf("%w: gateway %q is not an IPv4 address", ErrConfig, s.Gateway)
	}
	lo, hi, ok := strings.Cut(s.DHCPRange, ",")
	if !ok || net.ParseIP(lo) == nil || net.ParseIP(hi) == nil {
		return fmt.Errorf("%w: DHCP range %q must be two addresses separated by a comma", ErrConfig, s.DHCPRange)
	}
	if s.ListeningPort < 1 || s.ListeningPort > 65535 {
		return fmt.Errorf("%w: listening port %d out of range", ErrConfig, s.ListeningPort)
	}
	if s.ActivityTimeout < 0 {
		return fmt.Errorf("%w: activity timeout cannot be negative", ErrConfig)
	}
	if s.ConnectRetries < 0 {
		return fmt.Errorf("%w: connect retries cannot be negative", ErrConfig)
	}
	return nil
}

// GatewayIP returns the validated gateway address.
func (s *Settings) GatewayIP() net.IP {
	return net.ParseIP(s.Gateway).To4()
}

// ListenAddr returns the address string for the portal HTTP server.
func (s *Settings) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.Gateway, s.ListeningPort)
}

// ActivityTimeoutDuration converts the timeout seconds to a duration.
func (s *Settings) ActivityTimeoutDuration() time.Duration {
	return time.Duration(s.ActivityTimeout) * time.Second
}
