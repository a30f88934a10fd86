// Package hotspot owns the lifecycle of the access-point interface. Two
// modes share one start/stop/is-active contract: a standard managed AP
// profile on NetworkManager, and a WiFi Direct group-owner interface that
// NetworkManager does not manage. The orchestrator only ever sees the
// shared contract.
package hotspot

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrStart means the hotspot could not be brought up. Without a hotspot the
// device has no recovery path, so the orchestrator treats this as fatal
// after its own bounded retries.
var ErrStart = errors.New("hotspot start failed")

// Mode selects how the access point is realized.
type Mode string

const (
	// ModeStandard creates a managed AP profile on NetworkManager.
	ModeStandard Mode = "standard"
	// ModeWifiDirect establishes a P2P group via wpa_supplicant; the group
	// interface is configured manually.
	ModeWifiDirect Mode = "wifi-direct"
)

// State is the manager's lifecycle phase.
type State int

const (
	StateDown State = iota
	StateStarting
	StateUp
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateUp:
		return "up"
	case StateStopping:
		return "stopping"
	default:
		return "down"
	}
}

// Config describes the hotspot. It is built once at startup and, apart from
// Mode being fixed per run, never changes.
type Config struct {
	SSID       string
	Passphrase string // empty means an open network; otherwise >= 8 chars
	Gateway    net.IP
	Interface  string
	Mode       Mode
}

// APService is the slice of the NetworkManager client the standard-mode
// backend needs.
type APService interface {
	CreateAccessPoint(ctx context.Context, ssid, passphrase string, gateway net.IP) error
	RemoveAccessPoint(ssid string) error
	HasAccessPoint(ssid string) bool
}

// backend is the mode-specific half of the manager.
type backend interface {
	start(ctx context.Context) error
	stop() error
	active() bool
}

// Manager sequences the hotspot lifecycle: Down -> Starting -> Up ->
// Stopping -> Down. Stop from Down is a no-op success.
type Manager struct {
	mu      sync.Mutex
	state   State
	cfg     Config
	backend backend
}

// New builds a Manager for the config. ap is required for ModeStandard and
// ignored for ModeWifiDirect.
func New(cfg Config, ap APService) *Manager {
	m := &Manager{cfg: cfg}
	switch cfg.Mode {
	case ModeWifiDirect:
		m.backend = newWifiDirect(cfg)
	default:
		m.backend = &standardAP{cfg: cfg, nm: ap}
	}
	return m
}

// newForTesting injects a fake backend.
func newForTesting(cfg Config, b backend) *Manager {
	return &Manager{cfg: cfg, backend: b}
}

// Start brings the hotspot up. On failure any partially-created state is
// torn down and the manager returns to Down.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateUp {
		log.Warn().Str("ssid", m.cfg.SSID).Msg("hotspot already running")
		return nil
	}

	m.state = StateStarting
	log.Info().Str("ssid", m.cfg.SSID).Str("mode", string(m.cfg.Mode)).
		Msg("starting hotspot")

	if err := m.backend.start(ctx); err != nil {
		_ = m.backend.stop()
		m.state = StateDown
		return fmt.Errorf("%w: %v", ErrStart, err)
	}

	m.state = StateUp
	log.Info().Str("ssid", m.cfg.SSID).Msg("hotspot up")
	return nil
}

// Stop tears the hotspot down and releases the interface. Idempotent:
// stopping from Down succeeds without doing anything.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateDown {
		return nil
	}

	m.state = StateStopping
	log.Info().Str("ssid", m.cfg.SSID).Msg("stopping hotspot")

	err := m.backend.stop()
	m.state = StateDown
	if err != nil {
		return fmt.Errorf("stopping hotspot: %w", err)
	}
	return nil
}

// IsActive is a cheap status check: true only when the most recent completed
// operation left the hotspot up and the backend still confirms it.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateUp && m.backend.active()
}

// DHCPInterface is the interface the DHCP/DNS helper must bind: the P2P
// group interface in WiFi Direct mode, the configured interface otherwise.
func (m *Manager) DHCPInterface() string {
	if wd, ok := m.backend.(*wifiDirect); ok {
		return wd.GroupInterface()
	}
	return m.cfg.Interface
}

// StateName reports the current lifecycle phase for the status surface.
func (m *Manager) StateName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.String()
}

// standardAP backs ModeStandard with a managed NetworkManager AP profile.
type standardAP struct {
	cfg Config
	nm  APService
}

func (s *standardAP) start(ctx context.Context) error {
	// A stale profile from an earlier run would collide with the new one.
	_ = s.nm.RemoveAccessPoint(s.cfg.SSID)
	return s.nm.CreateAccessPoint(ctx, s.cfg.SSID, s.cfg.Passphrase, s.cfg.Gateway)
}

func (s *standardAP) stop() error {
	return s.nm.RemoveAccessPoint(s.cfg.SSID)
}

func (s *standardAP) active() bool {
	return s.nm.HasAccessPoint(s.cfg.SSID)
}
