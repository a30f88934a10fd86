package hotspot

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// 2.4GHz channel 1 for the widest peer compatibility.
	p2pFrequency = "2412"
	p2pGoIntent  = "15"

	groupInterfaceWait = 3 * time.Second
	interfaceConfWait  = 2 * time.Second
)

// runCommand abstracts external tool invocation so tests can fake wpa_cli
// and ip.
type runCommand func(name string, args ...string) ([]byte, error)

func execRun(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// wifiDirect backs ModeWifiDirect: an autonomous P2P group with this device
// as group owner. NetworkManager does not manage P2P interfaces, so the
// group interface gets its gateway address assigned manually.
type wifiDirect struct {
	cfg        Config
	groupIface string
	run        runCommand
	up         bool
}

func newWifiDirect(cfg Config) *wifiDirect {
	return &wifiDirect{
		cfg:        cfg,
		groupIface: "p2p-" + cfg.Interface + "-0",
		run:        execRun,
	}
}

func (w *wifiDirect) start(ctx context.Context) error {
	if err := w.ensureP2PSupport(); err != nil {
		return err
	}

	deviceName := "DIRECT-" + w.cfg.SSID
	if out, err := w.run("wpa_cli", "-i", w.cfg.Interface, "set", "device_name", deviceName); err != nil {
		return fmt.Errorf("setting P2P device name: %v (%s)", err, strings.TrimSpace(string(out)))
	}

	// Maximum GO intent so this device always becomes group owner.
	if out, err := w.run("wpa_cli", "-i", w.cfg.Interface, "set", "p2p_go_intent", p2pGoIntent); err != nil {
		return fmt.Errorf("setting GO intent: %v (%s)", err, strings.TrimSpace(string(out)))
	}

	if out, err := w.run("wpa_cli", "-i", w.cfg.Interface, "p2p_group_add", "freq="+p2pFrequency); err != nil {
		return fmt.Errorf("creating P2P group: %v (%s)", err, strings.TrimSpace(string(out)))
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(groupInterfaceWait):
	}

	if w.cfg.Passphrase != "" {
		if out, err := w.run("wpa_cli", "-i", w.groupIface, "wps_pin", "any", w.cfg.Passphrase); err != nil {
			return fmt.Errorf("setting WPS pin: %v (%s)", err, strings.TrimSpace(string(out)))
		}
	} else {
		if out, err := w.run("wpa_cli", "-i", w.groupIface, "wps_pbc"); err != nil {
			return fmt.Errorf("enabling WPS push-button: %v (%s)", err, strings.TrimSpace(string(out)))
		}
	}

	if err := w.configureInterface(ctx); err != nil {
		return err
	}

	w.up = true
	log.Info().Str("group", w.groupIface).Msg("WiFi Direct group established")
	return nil
}

// ensureP2PSupport verifies wpa_supplicant exposes a P2P device.
func (w *wifiDirect) ensureP2PSupport() error {
	out, err := w.run("iw", "dev")
	if err != nil {
		return fmt.Errorf("probing P2P support: %v", err)
	}
	if !strings.Contains(string(out), "type P2P-device") {
		return fmt.Errorf("no P2P device found; wpa_supplicant must run with P2P support")
	}
	return nil
}

// configureInterface assigns the gateway address to the group interface and
// brings it up.
func (w *wifiDirect) configureInterface(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(interfaceConfWait):
	}

	addr := w.cfg.Gateway.String() + "/24"
	if out, err := w.run("ip", "addr", "add", addr, "dev", w.groupIface); err != nil {
		return fmt.Errorf("assigning %s to %s: %v (%s)", addr, w.groupIface, err, strings.TrimSpace(string(out)))
	}
	if out, err := w.run("ip", "link", "set", w.groupIface, "up"); err != nil {
		return fmt.Errorf("bringing up %s: %v (%s)", w.groupIface, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (w *wifiDirect) stop() error {
	if out, err := w.run("wpa_cli", "-i", w.cfg.Interface, "p2p_group_remove", w.groupIface); err != nil {
		log.Warn().Err(err).Str("output", strings.TrimSpace(string(out))).
			Msg("removing P2P group")
	}
	w.up = false
	return nil
}

func (w *wifiDirect) active() bool {
	return w.up
}

// GroupInterface reports the P2P group interface name; dnsmasq binds this
// interface rather than the parent in WiFi Direct mode.
func (w *wifiDirect) GroupInterface() string {
	return w.groupIface
}
