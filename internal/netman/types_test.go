package netman

import (
	"testing"

	"github.com/Wifx/gonetworkmanager/v2"
)

func TestClassifySecurity(t *testing.T) {
	privacy := uint32(gonetworkmanager.Nm80211APFlagsPrivacy)
	psk := uint32(gonetworkmanager.Nm80211APSecKeyMgmtPSK)
	eap := uint32(gonetworkmanager.Nm80211APSecKeyMgmt8021X)

	tests := []struct {
		name  string
		flags uint32
		wpa   uint32
		rsn   uint32
		want  Security
	}{
		{"open", 0, 0, 0, SecurityOpen},
		{"wpa2 psk", privacy, 0, psk, SecurityWPA},
		{"wpa1 psk", privacy, psk, 0, SecurityWPA},
		{"wep privacy only", privacy, 0, 0, SecurityWPA},
		{"enterprise rsn", privacy, 0, eap, SecurityEnterprise},
		{"enterprise wpa", privacy, eap, 0, SecurityEnterprise},
		{"enterprise beats psk", privacy, psk, eap, SecurityEnterprise},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifySecurity(tt.flags, tt.wpa, tt.rsn); got != tt.want {
				t.Errorf("classifySecurity(%#x, %#x, %#x) = %q, want %q",
					tt.flags, tt.wpa, tt.rsn, got, tt.want)
			}
		})
	}
}

func TestFrequencyBand(t *testing.T) {
	tests := []struct {
		freq uint32
		want string
	}{
		{2412, "2.4GHz"},
		{2484, "2.4GHz"},
		{5180, "5GHz"},
		{5825, "5GHz"},
	}
	for _, tt := range tests {
		if got := frequencyBand(tt.freq); got != tt.want {
			t.Errorf("frequencyBand(%d) = %q, want %q", tt.freq, got, tt.want)
		}
	}
}

func TestDedupeBySSID(t *testing.T) {
	in := []ScanResult{
		{SSID: "office", SignalStrength: 40},
		{SSID: "home", SignalStrength: 80},
		{SSID: "office", SignalStrength: 70},
		{SSID: "office", SignalStrength: 55},
	}

	out := dedupeBySSID(in)

	if len(out) != 2 {
		t.Fatalf("got %d results, want 2", len(out))
	}
	for _, r := range out {
		if r.SSID == "office" && r.SignalStrength != 70 {
			t.Errorf("office kept signal %d, want the strongest 70", r.SignalStrength)
		}
		if r.SSID == "home" && r.SignalStrength != 80 {
			t.Errorf("home kept signal %d, want 80", r.SignalStrength)
		}
	}
}

func TestSortScanResults(t *testing.T) {
	results := []ScanResult{
		{SSID: "beta", SignalStrength: 50},
		{SSID: "alpha", SignalStrength: 50},
		{SSID: "strong", SignalStrength: 90},
		{SSID: "weak", SignalStrength: 10},
	}

	sortScanResults(results)

	wantOrder := []string{"strong", "alpha", "beta", "weak"}
	for i, want := range wantOrder {
		if results[i].SSID != want {
			t.Errorf("position %d: got %q, want %q", i, results[i].SSID, want)
		}
	}
}

func TestBuildWifiSettingsWPA(t *testing.T) {
	s := buildWifiSettings(ConnectRequest{SSID: "home", Passphrase: "hunter22"}, SecurityWPA)

	sec, ok := s["802-11-wireless-security"]
	if !ok {
		t.Fatal("missing 802-11-wireless-security section")
	}
	if sec["key-mgmt"] != "wpa-psk" {
		t.Errorf("key-mgmt = %v, want wpa-psk", sec["key-mgmt"])
	}
	if sec["psk"] != "hunter22" {
		t.Errorf("psk = %v, want the passphrase", sec["psk"])
	}
	if got := string(s[connectionTypeWifi]["ssid"].([]byte)); got != "home" {
		t.Errorf("ssid = %q, want home", got)
	}
	if s[connectionTypeWifi]["mode"] != "infrastructure" {
		t.Errorf("mode = %v, want infrastructure", s[connectionTypeWifi]["mode"])
	}
}

func TestBuildWifiSettingsOpen(t *testing.T) {
	s := buildWifiSettings(ConnectRequest{SSID: "cafe"}, SecurityOpen)

	if _, ok := s["802-11-wireless-security"]; ok {
		t.Error("open network must not carry a security section")
	}
	if _, ok := s["802-1x"]; ok {
		t.Error("open network must not carry an 802-1x section")
	}
}

func TestBuildWifiSettingsEnterprise(t *testing.T) {
	s := buildWifiSettings(ConnectRequest{
		SSID:       "corp",
		Passphrase: "secret99",
		Identity:   "jdoe",
	}, SecurityEnterprise)

	if s["802-11-wireless-security"]["key-mgmt"] != "wpa-eap" {
		t.Errorf("key-mgmt = %v, want wpa-eap", s["802-11-wireless-security"]["key-mgmt"])
	}
	eap, ok := s["802-1x"]
	if !ok {
		t.Fatal("missing 802-1x section")
	}
	if eap["identity"] != "jdoe" {
		t.Errorf("identity = %v, want jdoe", eap["identity"])
	}
	if eap["password"] != "secret99" {
		t.Errorf("password = %v, want the passphrase", eap["password"])
	}
	if eap["phase2-auth"] != "mschapv2" {
		t.Errorf("phase2-auth = %v, want mschapv2", eap["phase2-auth"])
	}
}

func TestClassifyStateReason(t *testing.T) {
	tests := []struct {
		name   string
		reason uint32
		want   error
	}{
		{"wrong password", nmReasonWrongPassword, ErrConnectRejected},
		{"no secrets", nmReasonNoSecrets, ErrConnectRejected},
		{"supplicant timeout", nmReasonSupplicantTimeout, ErrConnectTimeout},
		{"supplicant disconnect", nmReasonSupplicantDisconnect, ErrConnectTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyStateReason(tt.reason); got != tt.want {
				t.Errorf("classifyStateReason(%d) = %v, want %v", tt.reason, got, tt.want)
			}
		})
	}
}

func TestSavedSecurity(t *testing.T) {
	tests := []struct {
		name    string
		keyMgmt string
		none    bool
		want    Security
	}{
		{"open profile", "", true, SecurityOpen},
		{"psk profile", "wpa-psk", false, SecurityWPA},
		{"sae profile", "sae", false, SecurityWPA},
		{"enterprise profile", "wpa-eap", false, SecurityEnterprise},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := gonetworkmanager.ConnectionSettings{}
			if !tt.none {
				s["802-11-wireless-security"] = map[string]interface{}{"key-mgmt": tt.keyMgmt}
			}
			if got := savedSecurity(s); got != tt.want {
				t.Errorf("savedSecurity = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWifiSettingsOf(t *testing.T) {
	s := gonetworkmanager.ConnectionSettings{
		"connection": map[string]interface{}{"type": connectionTypeWifi},
		connectionTypeWifi: map[string]interface{}{
			"ssid": []byte("home"),
			"mode": "infrastructure",
		},
	}
	ssid, mode := wifiSettingsOf(s)
	if ssid != "home" || mode != "infrastructure" {
		t.Errorf("got (%q, %q), want (home, infrastructure)", ssid, mode)
	}

	ethernet := gonetworkmanager.ConnectionSettings{
		"connection": map[string]interface{}{"type": "802-3-ethernet"},
	}
	if ssid, _ := wifiSettingsOf(ethernet); ssid != "" {
		t.Errorf("non-wifi profile yielded ssid %q", ssid)
	}
}
