package hotspot

import (
	"context"
	"errors"
	"net"
	"testing"
)

type fakeBackend struct {
	startErr   error
	stopErr    error
	up         bool
	startCalls int
	stopCalls  int
}

func (f *fakeBackend) start(ctx context.Context) error {
	f.startCalls++
	if f.startErr != nil {
		return f.startErr
	}
	f.up = true
	return nil
}

func (f *fakeBackend) stop() error {
	f.stopCalls++
	f.up = false
	return f.stopErr
}

func (f *fakeBackend) active() bool { return f.up }

func testConfig() Config {
	return Config{
		SSID:      "Setup Portal",
		Gateway:   net.IPv4(192, 168, 42, 1),
		Interface: "wlan0",
		Mode:      ModeStandard,
	}
}

func TestStartStop(t *testing.T) {
	b := &fakeBackend{}
	m := newForTesting(testConfig(), b)

	if m.IsActive() {
		t.Fatal("fresh manager reports active")
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !m.IsActive() {
		t.Error("manager not active after Start")
	}
	if got := m.StateName(); got != "up" {
		t.Errorf("state = %q, want up", got)
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if m.IsActive() {
		t.Error("manager still active after Stop")
	}
	if got := m.StateName(); got != "down" {
		t.Errorf("state = %q, want down", got)
	}
}

func TestStartFailureReturnsToDown(t *testing.T) {
	b := &fakeBackend{startErr: errors.New("interface busy")}
	m := newForTesting(testConfig(), b)

	err := m.Start(context.Background())
	if !errors.Is(err, ErrStart) {
		t.Fatalf("Start error = %v, want ErrStart", err)
	}
	if got := m.StateName(); got != "down" {
		t.Errorf("state after failed start = %q, want down", got)
	}
	if b.stopCalls == 0 {
		t.Error("failed start did not tear down partial state")
	}
	if m.IsActive() {
		t.Error("manager active after failed start")
	}
}

func TestStopIdempotent(t *testing.T) {
	b := &fakeBackend{}
	m := newForTesting(testConfig(), b)

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop from down: %v", err)
	}
	if b.stopCalls != 0 {
		t.Errorf("Stop from down reached the backend %d times", b.stopCalls)
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if b.stopCalls != 1 {
		t.Errorf("backend stopped %d times, want 1", b.stopCalls)
	}
}

func TestStartWhileUpIsNoop(t *testing.T) {
	b := &fakeBackend{}
	m := newForTesting(testConfig(), b)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if b.startCalls != 1 {
		t.Errorf("backend started %d times, want 1", b.startCalls)
	}
}

func TestDHCPInterface(t *testing.T) {
	std := New(testConfig(), nil)
	if got := std.DHCPInterface(); got != "wlan0" {
		t.Errorf("standard mode DHCP interface = %q, want wlan0", got)
	}

	cfg := testConfig()
	cfg.Mode = ModeWifiDirect
	wd := New(cfg, nil)
	if got := wd.DHCPInterface(); got != "p2p-wlan0-0" {
		t.Errorf("wifi-direct DHCP interface = %q, want p2p-wlan0-0", got)
	}
}

type fakeAP struct {
	created map[string]bool
	removed []string
}

func (f *fakeAP) CreateAccessPoint(_ context.Context, ssid, _ string, _ net.IP) error {
	f.created[ssid] = true
	return nil
}

func (f *fakeAP) RemoveAccessPoint(ssid string) error {
	f.removed = append(f.removed, ssid)
	delete(f.created, ssid)
	return nil
}

func (f *fakeAP) HasAccessPoint(ssid string) bool { return f.created[ssid] }

func TestStandardAPRemovesStaleProfile(t *testing.T) {
	ap := &fakeAP{created: map[string]bool{"Setup Portal": true}}
	m := New(testConfig(), ap)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(ap.removed) == 0 {
		t.Error("stale profile was not removed before creation")
	}
	if !m.IsActive() {
		t.Error("manager not active after standard AP start")
	}
}
