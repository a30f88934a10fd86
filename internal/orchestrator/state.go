package orchestrator

import (
	"sync"

	"github.com/envoidshield/wifi-connect/internal/netman"
)

// stateHolder guards the operational state. The control loop writes, portal
// handlers read copies.
type stateHolder struct {
	mu   sync.RWMutex
	snap Snapshot
}

func newStateHolder() *stateHolder {
	return &stateHolder{snap: Snapshot{Phase: PhaseInit}}
}

func (s *stateHolder) snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.snap
	if s.snap.Connected != nil {
		c := *s.snap.Connected
		out.Connected = &c
	}
	out.Networks = append([]netman.ScanResult(nil), s.snap.Networks...)
	return out
}

func (s *stateHolder) phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Phase
}

func (s *stateHolder) setPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Phase = p
}

func (s *stateHolder) setHotspot(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.HotspotActive = active
}

func (s *stateHolder) setNetworks(networks []netman.ScanResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Networks = networks
}

// setConnected records a successful attempt, clearing any prior failure.
func (s *stateHolder) setConnected(info *netman.ConnectedInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Phase = PhaseConnected
	s.snap.Connected = info
	s.snap.LastFailure = ""
}

// setFailure records a failed attempt and drops any stale connection info.
func (s *stateHolder) setFailure(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Connected = nil
	s.snap.LastFailure = msg
}
