// Package netman wraps the NetworkManager control bus for WiFi scanning,
// connection management and saved-profile maintenance. NetworkManager stays
// the system of record for saved networks; this package only queries and
// mutates that store, it never duplicates it.
package netman

import (
	"sort"

	"github.com/Wifx/gonetworkmanager/v2"
)

// Security classifies a network's authentication scheme as the portal
// understands it. WEP folds into SecurityWPA: the portal only needs to know
// whether a passphrase is required and whether an identity is too.
type Security string

const (
	SecurityOpen       Security = "none"
	SecurityWPA        Security = "wpa"
	SecurityEnterprise Security = "enterprise"
)

// ScanResult is one visible network from a fresh scan. Results are not
// persisted across process restarts.
type ScanResult struct {
	SSID           string   `json:"ssid"`
	Security       Security `json:"security"`
	SignalStrength uint8    `json:"signal_strength"`
	FrequencyBand  string   `json:"frequency"`
}

// NetworkProfile is a saved NetworkManager connection. Identity is the
// (SSID, Security) pair.
type NetworkProfile struct {
	SSID         string   `json:"ssid"`
	Security     Security `json:"security"`
	ConnectionID string   `json:"connection_id,omitempty"`
}

// ConnectedInfo describes the currently active managed connection on the
// WiFi interface.
type ConnectedInfo struct {
	SSID           string   `json:"ssid"`
	Interface      string   `json:"interface"`
	Security       Security `json:"security"`
	ConnectionName string   `json:"connection_name"`
	IPAddress      string   `json:"ip_address,omitempty"`
	SignalStrength uint8    `json:"signal_strength,omitempty"`
}

// ConnectRequest carries one portal submission. Identity is only meaningful
// for enterprise networks.
type ConnectRequest struct {
	SSID       string `json:"ssid"`
	Passphrase string `json:"passphrase,omitempty"`
	Identity   string `json:"identity,omitempty"`
}

// classifySecurity maps 802.11 AP capability flags to a Security class.
func classifySecurity(flags, wpaFlags, rsnFlags uint32) Security {
	enterprise := uint32(gonetworkmanager.Nm80211APSecKeyMgmt8021X)
	if wpaFlags&enterprise != 0 || rsnFlags&enterprise != 0 {
		return SecurityEnterprise
	}
	if flags != uint32(gonetworkmanager.Nm80211APFlagsNone) ||
		wpaFlags != uint32(gonetworkmanager.Nm80211APSecNone) ||
		rsnFlags != uint32(gonetworkmanager.Nm80211APSecNone) {
		return SecurityWPA
	}
	return SecurityOpen
}

// frequencyBand maps a channel frequency in MHz to the band label shown in
// the portal.
func frequencyBand(freqMHz uint32) string {
	if freqMHz < 3000 {
		return "2.4GHz"
	}
	return "5GHz"
}

// dedupeBySSID collapses networks sharing an SSID, keeping the strongest
// signal. Access points broadcast one entry per BSSID/band; the portal wants
// one row per network.
func dedupeBySSID(results []ScanResult) []ScanResult {
	best := make(map[string]int, len(results))
	out := results[:0]
	for _, r := range results {
		if i, seen := best[r.SSID]; seen {
			if r.SignalStrength > out[i].SignalStrength {
				out[i] = r
			}
			continue
		}
		best[r.SSID] = len(out)
		out = append(out, r)
	}
	return out
}

// sortScanResults orders by signal strength descending, breaking ties by
// SSID so listings are deterministic.
func sortScanResults(results []ScanResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].SignalStrength != results[j].SignalStrength {
			return results[i].SignalStrength > results[j].SignalStrength
		}
		return results[i].SSID < results[j].SSID
	})
}
