package netman

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/Wifx/gonetworkmanager/v2"
	"github.com/rs/zerolog/log"
)

// CreateAccessPoint stands up an AP-mode profile on the WiFi device with a
// shared IPv4 configuration at the gateway address, and blocks until the
// interface reports activated. Partial state is torn down on failure.
func (c *Client) CreateAccessPoint(ctx context.Context, ssid, passphrase string, gateway net.IP) error {
	dev, err := c.findDevice()
	if err != nil {
		return err
	}

	log.Info().Str("ssid", ssid).Str("gateway", gateway.String()).
		Msg("creating access point")

	settings := buildAccessPointSettings(ssid, passphrase, gateway)
	if _, err := c.nm.AddAndActivateConnection(settings, dev); err != nil {
		return fmt.Errorf("activating access point: %w", err)
	}

	if err := c.waitDeviceActivated(ctx, dev); err != nil {
		_ = c.RemoveAccessPoint(ssid)
		return err
	}
	return nil
}

// buildAccessPointSettings produces the AP-mode profile: shared IPv4 at the
// gateway address, 2.4GHz band, WPA2 when a passphrase is set.
func buildAccessPointSettings(ssid, passphrase string, gateway net.IP) gonetworkmanager.ConnectionSettings {
	settings := gonetworkmanager.ConnectionSettings{
		"connection": map[string]interface{}{
			"id":          ssid,
			"type":        connectionTypeWifi,
			"autoconnect": false,
		},
		connectionTypeWifi: map[string]interface{}{
			"ssid": []byte(ssid),
			"mode": wifiModeAP,
			"band": "bg",
		},
		"ipv4": map[string]interface{}{
			"method": "shared",
			"address-data": []map[string]interface{}{
				{"address": gateway.String(), "prefix": uint32(24)},
			},
		},
		"ipv6": map[string]interface{}{"method": "ignore"},
	}

	if passphrase != "" {
		settings[connectionTypeWifi]["security"] = "802-11-wireless-security"
		settings["802-11-wireless-security"] = map[string]interface{}{
			"key-mgmt": "wpa-psk",
			"psk":      passphrase,
		}
	}
	return settings
}

// waitDeviceActivated blocks until the device reaches the activated state or
// the connect timeout elapses.
func (c *Client) waitDeviceActivated(ctx context.Context, dev gonetworkmanager.Device) error {
	deadline := time.After(c.connectTimeout)
	tick := time.NewTicker(statePollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("interface did not come up within %s", c.connectTimeout)
		case <-tick.C:
			state, err := dev.GetPropertyState()
			if err != nil {
				continue
			}
			switch state {
			case gonetworkmanager.NmDeviceStateActivated:
				return nil
			case gonetworkmanager.NmDeviceStateFailed:
				return fmt.Errorf("interface activation failed")
			}
		}
	}
}

// RemoveAccessPoint deletes every AP-mode profile matching the SSID,
// deactivating the interface with it. Safe to call when none exists.
func (c *Client) RemoveAccessPoint(ssid string) error {
	conns, err := c.settings.ListConnections()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}

	for _, conn := range conns {
		s, err := conn.GetSettings()
		if err != nil {
			continue
		}
		if connSSID, mode := wifiSettingsOf(s); connSSID == ssid && mode == wifiModeAP {
			if err := conn.Delete(); err != nil {
				log.Warn().Err(err).Str("ssid", ssid).Msg("removing access point profile")
				continue
			}
			log.Debug().Str("ssid", ssid).Msg("access point profile removed")
		}
	}
	return nil
}

// HasAccessPoint reports whether an AP-mode profile with the SSID exists.
func (c *Client) HasAccessPoint(ssid string) bool {
	conns, err := c.settings.ListConnections()
	if err != nil {
		return false
	}
	for _, conn := range conns {
		s, err := conn.GetSettings()
		if err != nil {
			continue
		}
		if connSSID, mode := wifiSettingsOf(s); connSSID == ssid && mode == wifiModeAP {
			return true
		}
	}
	return false
}
