package netman

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Wifx/gonetworkmanager/v2"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

const (
	dbusNMService           = "org.freedesktop.NetworkManager"
	dbusNMDeviceInterface   = "org.freedesktop.NetworkManager.Device"
	dbusNMWirelessInterface = "org.freedesktop.NetworkManager.Device.Wireless"

	connectionTypeWifi = "802-11-wireless"
	wifiModeAP         = "ap"

	defaultScanTimeout    = 10 * time.Second
	defaultConnectTimeout = 20 * time.Second
	statePollInterval     = 500 * time.Millisecond
)

// NetworkManager device state reasons relevant to failure classification.
const (
	nmReasonNoSecrets            = 6
	nmReasonSecretsRequired      = 7
	nmReasonWrongPassword        = 8
	nmReasonSupplicantDisconnect = 23
	nmReasonSupplicantTimeout    = 24
	nmReasonSupplicantFailed     = 25
)

// Client is a synchronous wrapper around the NetworkManager system service.
// All operations block; the orchestrator's control loop is the only caller
// of the mutating ones.
type Client struct {
	nm       gonetworkmanager.NetworkManager
	settings gonetworkmanager.Settings
	bus      *dbus.Conn

	iface      string // requested interface; empty means first managed WiFi device
	portalSSID string // the hotspot's own SSID, filtered out of scan results

	scanTimeout    time.Duration
	connectTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithPortalSSID hides the hotspot's own network from scan results.
func WithPortalSSID(ssid string) Option {
	return func(c *Client) { c.portalSSID = ssid }
}

// WithScanTimeout bounds the wait for a scan to complete.
func WithScanTimeout(d time.Duration) Option {
	return func(c *Client) { c.scanTimeout = d }
}

// WithConnectTimeout bounds the wait for a connection to activate.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) { c.connectTimeout = d }
}

// New connects to NetworkManager on the system bus. iface may be empty, in
// which case the first managed WiFi device is used for all operations.
func New(iface string, opts ...Option) (*Client, error) {
	nm, err := gonetworkmanager.NewNetworkManager()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}

	settings, err := gonetworkmanager.NewSettings()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}

	bus, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}

	c := &Client{
		nm:             nm,
		settings:       settings,
		bus:            bus,
		iface:          iface,
		scanTimeout:    defaultScanTimeout,
		connectTimeout: defaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// IsAvailable probes NetworkManager liveness. Used by the health surface;
// a false result is surfaced, never fatal.
func (c *Client) IsAvailable() bool {
	_, err := c.nm.GetDevices()
	return err == nil
}

// findDevice resolves the WiFi device for the configured interface, or the
// first managed WiFi device when no interface was requested.
func (c *Client) findDevice() (gonetworkmanager.Device, error) {
	devices, err := c.nm.GetDevices()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}

	for _, dev := range devices {
		devType, err := dev.GetPropertyDeviceType()
		if err != nil || devType != gonetworkmanager.NmDeviceTypeWifi {
			continue
		}
		if managed, _ := dev.GetPropertyManaged(); !managed {
			continue
		}
		name, err := dev.GetPropertyInterface()
		if err != nil {
			continue
		}
		if c.iface == "" || name == c.iface {
			return dev, nil
		}
	}

	if c.iface != "" {
		return nil, fmt.Errorf("%w: interface %q", ErrNoWiFiDevice, c.iface)
	}
	return nil, ErrNoWiFiDevice
}

// InterfaceName reports the resolved WiFi interface name.
func (c *Client) InterfaceName() (string, error) {
	dev, err := c.findDevice()
	if err != nil {
		return "", err
	}
	return dev.GetPropertyInterface()
}

// Scan requests a fresh scan and returns the visible networks ordered by
// signal strength. On scan-completion timeout the cached access-point list
// is returned instead of an error: a stale list is more useful to the portal
// than a failure.
func (c *Client) Scan(ctx context.Context) ([]ScanResult, error) {
	dev, err := c.findDevice()
	if err != nil {
		return nil, err
	}

	wifi, err := gonetworkmanager.NewDeviceWireless(dev.GetPath())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}

	before := c.lastScan(dev.GetPath())
	if err := wifi.RequestScan(); err != nil {
		log.Warn().Err(err).Msg("scan request failed, using cached access points")
	} else if err := c.waitScanDone(ctx, dev.GetPath(), before); err != nil {
		log.Warn().Err(err).Msg("scan wait timed out, using cached access points")
	}

	aps, err := wifi.GetAccessPoints()
	if err != nil {
		return nil, fmt.Errorf("listing access points: %w", err)
	}

	results := make([]ScanResult, 0, len(aps))
	for _, ap := range aps {
		ssid, err := ap.GetPropertySSID()
		if err != nil || ssid == "" || ssid == c.portalSSID {
			continue // hidden networks and our own hotspot are not offered
		}
		strength, _ := ap.GetPropertyStrength()
		flags, _ := ap.GetPropertyFlags()
		wpaFlags, _ := ap.GetPropertyWPAFlags()
		rsnFlags, _ := ap.GetPropertyRSNFlags()
		freq, _ := ap.GetPropertyFrequency()

		results = append(results, ScanResult{
			SSID:           ssid,
			Security:       classifySecurity(flags, wpaFlags, rsnFlags),
			SignalStrength: strength,
			FrequencyBand:  frequencyBand(freq),
		})
	}

	results = dedupeBySSID(results)
	sortScanResults(results)

	log.Debug().Int("count", len(results)).Msg("scan complete")
	return results, nil
}

// lastScan reads the wireless device's LastScan timestamp directly from the
// bus; the wrapper has no accessor for it.
func (c *Client) lastScan(path dbus.ObjectPath) int64 {
	obj := c.bus.Object(dbusNMService, path)
	variant, err := obj.GetProperty(dbusNMWirelessInterface + ".LastScan")
	if err != nil {
		return -1
	}
	if v, ok := variant.Value().(int64); ok {
		return v
	}
	return -1
}

// waitScanDone blocks until the LastScan property advances past its
// pre-request value or the scan timeout elapses.
func (c *Client) waitScanDone(ctx context.Context, path dbus.ObjectPath, before int64) error {
	deadline := time.After(c.scanTimeout)
	tick := time.NewTicker(statePollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("scan did not complete within %s", c.scanTimeout)
		case <-tick.C:
			if now := c.lastScan(path); now > before {
				return nil
			}
		}
	}
}

// Connect attempts to join the given network. If a saved profile for the
// SSID already exists it is activated and the supplied passphrase ignored;
// otherwise a new profile is created from the request. The call blocks until
// NetworkManager reports Activated or Failed, subject to the configured
// bound. On failure any profile created here is deleted so the saved store
// is not polluted with half-configured entries.
func (c *Client) Connect(ctx context.Context, req ConnectRequest) error {
	dev, err := c.findDevice()
	if err != nil {
		return err
	}

	if saved, err := c.findSavedConnection(req.SSID); err == nil && saved != nil {
		log.Info().Str("ssid", req.SSID).Msg("activating saved profile")
		if _, err := c.nm.ActivateConnection(saved, dev, nil); err != nil {
			return fmt.Errorf("activating saved profile: %w", err)
		}
		return c.waitActivated(ctx, dev, nil)
	}

	ap, err := c.findAccessPoint(dev, req.SSID)
	if err != nil {
		return err
	}

	flags, _ := ap.GetPropertyFlags()
	wpaFlags, _ := ap.GetPropertyWPAFlags()
	rsnFlags, _ := ap.GetPropertyRSNFlags()
	security := classifySecurity(flags, wpaFlags, rsnFlags)

	conn, err := c.settings.AddConnection(buildWifiSettings(req, security))
	if err != nil {
		return fmt.Errorf("creating profile: %w", err)
	}

	log.Info().Str("ssid", req.SSID).Str("security", string(security)).
		Msg("activating new profile")
	if _, err := c.nm.ActivateWirelessConnection(conn, dev, ap); err != nil {
		_ = conn.Delete()
		return fmt.Errorf("activating profile: %w", err)
	}

	return c.waitActivated(ctx, dev, conn)
}

// buildWifiSettings produces the NetworkManager settings map for a new
// client profile, keyed by the target network's security class.
func buildWifiSettings(req ConnectRequest, security Security) gonetworkmanager.ConnectionSettings {
	settings := gonetworkmanager.ConnectionSettings{
		"connection": map[string]interface{}{
			"id":          req.SSID,
			"type":        connectionTypeWifi,
			"autoconnect": true,
		},
		"ipv4": map[string]interface{}{"method": "auto"},
		"ipv6": map[string]interface{}{"method": "auto"},
	}

	wireless := map[string]interface{}{
		"ssid": []byte(req.SSID),
		"mode": "infrastructure",
	}

	switch security {
	case SecurityEnterprise:
		wireless["security"] = "802-11-wireless-security"
		settings["802-11-wireless-security"] = map[string]interface{}{
			"key-mgmt": "wpa-eap",
		}
		eap := map[string]interface{}{
			"eap":         []string{"peap"},
			"phase2-auth": "mschapv2",
			"password":    req.Passphrase,
		}
		if req.Identity != "" {
			eap["identity"] = req.Identity
		}
		settings["802-1x"] = eap
	case SecurityWPA:
		wireless["security"] = "802-11-wireless-security"
		settings["802-11-wireless-security"] = map[string]interface{}{
			"key-mgmt": "wpa-psk",
			"psk":      req.Passphrase,
		}
	}

	settings[connectionTypeWifi] = wireless
	return settings
}

// findAccessPoint locates the AP for an SSID. After a hotspot teardown the
// list can take a few seconds to repopulate, so it retries briefly.
func (c *Client) findAccessPoint(dev gonetworkmanager.Device, ssid string) (gonetworkmanager.AccessPoint, error) {
	wifi, err := gonetworkmanager.NewDeviceWireless(dev.GetPath())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}

	for attempt := 0; attempt < 10; attempt++ {
		aps, err := wifi.GetAccessPoints()
		if err == nil {
			for _, ap := range aps {
				if s, err := ap.GetPropertySSID(); err == nil && s == ssid {
					return ap, nil
				}
			}
		}
		time.Sleep(time.Second)
	}
	return nil, fmt.Errorf("%w: %q", ErrNetworkNotFound, ssid)
}

// waitActivated polls the device state until Activated or Failed, bounded by
// the connect timeout. created, when non-nil, is a profile this attempt made
// and is removed on any failure.
func (c *Client) waitActivated(ctx context.Context, dev gonetworkmanager.Device, created gonetworkmanager.Connection) error {
	cleanup := func() {
		if created != nil {
			if err := created.Delete(); err != nil {
				log.Warn().Err(err).Msg("removing failed profile")
			}
		}
	}

	deadline := time.After(c.connectTimeout)
	tick := time.NewTicker(statePollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			cleanup()
			return fmt.Errorf("%w: %v", ErrConnectTimeout, ctx.Err())
		case <-deadline:
			cleanup()
			return ErrConnectTimeout
		case <-tick.C:
			state, err := dev.GetPropertyState()
			if err != nil {
				continue
			}
			switch state {
			case gonetworkmanager.NmDeviceStateActivated:
				return nil
			case gonetworkmanager.NmDeviceStateFailed,
				gonetworkmanager.NmDeviceStateDisconnected:
				reason := c.deviceStateReason(dev)
				cleanup()
				return classifyStateReason(reason)
			}
		}
	}
}

// deviceStateReason reads the device's StateReason (state, reason) struct
// directly from the bus.
func (c *Client) deviceStateReason(dev gonetworkmanager.Device) uint32 {
	obj := c.bus.Object(dbusNMService, dev.GetPath())
	variant, err := obj.GetProperty(dbusNMDeviceInterface + ".StateReason")
	if err != nil {
		return 0
	}
	if pair, ok := variant.Value().([]interface{}); ok && len(pair) >= 2 {
		if reason, ok := pair[1].(uint32); ok {
			return reason
		}
	}
	return 0
}

// classifyStateReason maps a NetworkManager failure reason onto the
// orchestrator's error classes.
func classifyStateReason(reason uint32) error {
	switch reason {
	case nmReasonWrongPassword, nmReasonNoSecrets, nmReasonSecretsRequired,
		nmReasonSupplicantFailed:
		return ErrConnectRejected
	case nmReasonSupplicantTimeout, nmReasonSupplicantDisconnect:
		return ErrConnectTimeout
	default:
		return fmt.Errorf("%w: reason %d", ErrConnectRejected, reason)
	}
}

// findSavedConnection returns the saved client (non-AP) profile matching an
// SSID, or nil when none exists.
func (c *Client) findSavedConnection(ssid string) (gonetworkmanager.Connection, error) {
	conns, err := c.settings.ListConnections()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}
	for _, conn := range conns {
		s, err := conn.GetSettings()
		if err != nil {
			continue
		}
		if connSSID, mode := wifiSettingsOf(s); connSSID == ssid && mode != wifiModeAP {
			return conn, nil
		}
	}
	return nil, nil
}

// wifiSettingsOf extracts (ssid, mode) from a connection settings map, or
// empty strings when it is not a WiFi profile.
func wifiSettingsOf(s gonetworkmanager.ConnectionSettings) (ssid, mode string) {
	meta, ok := s["connection"]
	if !ok {
		return "", ""
	}
	if t, _ := meta["type"].(string); t != connectionTypeWifi {
		return "", ""
	}
	wifi, ok := s[connectionTypeWifi]
	if !ok {
		return "", ""
	}
	if b, ok := wifi["ssid"].([]byte); ok {
		ssid = string(b)
	}
	mode, _ = wifi["mode"].(string)
	return ssid, mode
}

// ListSaved returns the saved WiFi profiles, excluding access-point profiles
// (the hotspot's own), deduplicated by SSID.
func (c *Client) ListSaved() ([]NetworkProfile, error) {
	conns, err := c.settings.ListConnections()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}

	seen := make(map[string]bool)
	var profiles []NetworkProfile
	for _, conn := range conns {
		s, err := conn.GetSettings()
		if err != nil {
			continue
		}
		ssid, mode := wifiSettingsOf(s)
		if ssid == "" || mode == wifiModeAP || seen[ssid] {
			continue
		}
		seen[ssid] = true

		profile := NetworkProfile{SSID: ssid, Security: savedSecurity(s)}
		if meta, ok := s["connection"]; ok {
			profile.ConnectionID, _ = meta["id"].(string)
		}
		profiles = append(profiles, profile)
	}

	sort.Slice(profiles, func(i, j int) bool { return profiles[i].SSID < profiles[j].SSID })
	return profiles, nil
}

// savedSecurity derives the Security class from a saved profile's key
// management setting.
func savedSecurity(s gonetworkmanager.ConnectionSettings) Security {
	sec, ok := s["802-11-wireless-security"]
	if !ok {
		return SecurityOpen
	}
	switch keyMgmt, _ := sec["key-mgmt"].(string); keyMgmt {
	case "wpa-eap":
		return SecurityEnterprise
	case "":
		return SecurityOpen
	default:
		return SecurityWPA
	}
}

// Forget deletes every saved client profile matching the SSID and returns
// how many were removed.
func (c *Client) Forget(ssid string) (int, error) {
	conns, err := c.settings.ListConnections()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}

	removed := 0
	for _, conn := range conns {
		s, err := conn.GetSettings()
		if err != nil {
			continue
		}
		if connSSID, mode := wifiSettingsOf(s); connSSID == ssid && mode != wifiModeAP {
			if err := conn.Delete(); err != nil {
				log.Warn().Err(err).Str("ssid", ssid).Msg("deleting profile")
				continue
			}
			removed++
		}
	}
	return removed, nil
}

// ForgetAll deletes every saved WiFi profile, access-point profiles
// included, and returns how many were removed.
func (c *Client) ForgetAll() (int, error) {
	conns, err := c.settings.ListConnections()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}

	removed := 0
	for _, conn := range conns {
		s, err := conn.GetSettings()
		if err != nil {
			continue
		}
		meta, ok := s["connection"]
		if !ok {
			continue
		}
		if t, _ := meta["type"].(string); t != connectionTypeWifi {
			continue
		}
		if err := conn.Delete(); err != nil {
			log.Warn().Err(err).Msg("deleting profile")
			continue
		}
		removed++
	}
	return removed, nil
}

// CurrentConnection reports the active managed connection on the WiFi
// interface, or nil when the device is not activated.
func (c *Client) CurrentConnection() (*ConnectedInfo, error) {
	dev, err := c.findDevice()
	if err != nil {
		return nil, err
	}

	state, err := dev.GetPropertyState()
	if err != nil || state != gonetworkmanager.NmDeviceStateActivated {
		return nil, nil
	}

	iface, _ := dev.GetPropertyInterface()
	info := &ConnectedInfo{Interface: iface, Security: SecurityOpen}

	if wifi, err := gonetworkmanager.NewDeviceWireless(dev.GetPath()); err == nil {
		if ap, err := wifi.GetPropertyActiveAccessPoint(); err == nil && ap != nil && ap.GetPath() != "/" {
			info.SSID, _ = ap.GetPropertySSID()
			info.SignalStrength, _ = ap.GetPropertyStrength()
			flags, _ := ap.GetPropertyFlags()
			wpaFlags, _ := ap.GetPropertyWPAFlags()
			rsnFlags, _ := ap.GetPropertyRSNFlags()
			info.Security = classifySecurity(flags, wpaFlags, rsnFlags)
		}
	}

	if active, err := dev.GetPropertyActiveConnection(); err == nil && active != nil {
		info.ConnectionName, _ = active.GetPropertyID()
		if ip4, err := active.GetPropertyIP4Config(); err == nil && ip4 != nil {
			if addrs, err := ip4.GetPropertyAddressData(); err == nil && len(addrs) > 0 {
				info.IPAddress = addrs[0].Address
			}
		}
	}

	// The hotspot's own AP profile also activates the device; that is not a
	// managed uplink, so the portal sees it as "not connected".
	if c.portalSSID != "" && info.SSID == c.portalSSID {
		return nil, nil
	}

	return info, nil
}
