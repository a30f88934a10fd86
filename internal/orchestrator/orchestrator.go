// Package orchestrator drives the connect/hotspot workflow: no connection ->
// hotspot -> portal submission -> connection attempt -> success or retry.
// Its control loop is the sole writer of the operational state and the only
// caller of mutating hotspot, DHCP and NetworkManager operations; portal
// handlers feed it intents over a single ordered channel.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/envoidshield/wifi-connect/internal/hotspot"
	"github.com/envoidshield/wifi-connect/internal/netman"
)

// Phase is the orchestrator's current position in the workflow.
type Phase string

const (
	PhaseInit         Phase = "init"
	PhaseScanning     Phase = "scanning"
	PhaseHotspotUp    Phase = "hotspot"
	PhaseConnecting   Phase = "connecting"
	PhaseConnected    Phase = "connected"
	PhaseTimedOut     Phase = "timed_out"
	PhaseShuttingDown Phase = "shutting_down"
)

// Stable outward error vocabulary. Collaborator failures never cross the
// channel boundary untranslated; the portal only ever sees these.
var (
	ErrRequestTimeout  = errors.New("the request timed out; the device may be busy changing networks")
	ErrConnectTimeout  = errors.New("the connection attempt timed out")
	ErrConnectRejected = errors.New("the network rejected the credentials")
	ErrNetworkNotFound = errors.New("the requested network is not in range")
	ErrConnectFailed   = errors.New("could not join the network")
	ErrScanFailed      = errors.New("could not scan for networks")
	ErrShuttingDown    = errors.New("the service is shutting down")
)

// NetworkClient is the slice of the NetworkManager wrapper the control loop
// uses.
type NetworkClient interface {
	Scan(ctx context.Context) ([]netman.ScanResult, error)
	Connect(ctx context.Context, req netman.ConnectRequest) error
	Forget(ssid string) (int, error)
	ForgetAll() (int, error)
	CurrentConnection() (*netman.ConnectedInfo, error)
	IsAvailable() bool
}

// Hotspot is the access-point lifecycle contract.
type Hotspot interface {
	Start(ctx context.Context) error
	Stop() error
	IsActive() bool
}

// DHCPService is the DHCP/DNS helper lifecycle contract.
type DHCPService interface {
	Start() error
	Stop() error
	Running() bool
}

// Config tunes the control loop.
type Config struct {
	// ActivityTimeout forces shutdown after this long without portal
	// activity. Zero disables the watchdog.
	ActivityTimeout time.Duration

	// ConnectRetries is how many automatic retries a timed-out connection
	// attempt gets. Other failure classes are never retried.
	ConnectRetries int

	// ExitOnConnect makes a successful connection terminate the run loop,
	// for one-shot credential-setter deployments.
	ExitOnConnect bool

	// HotspotStartRetries bounds hotspot bring-up attempts before the
	// failure is fatal.
	HotspotStartRetries int
}

// Snapshot is the immutable view of the operational state handed to portal
// handlers. Reads never observe a partially-updated state.
type Snapshot struct {
	Phase         Phase
	HotspotActive bool
	Connected     *netman.ConnectedInfo
	LastFailure   string
	Networks      []netman.ScanResult
}

type intentKind int

const (
	intentConnect intentKind = iota
	intentRescan
	intentForget
	intentForgetAll
	intentShutdown
)

// result travels back over an intent's reply channel.
type result struct {
	networks []netman.ScanResult
	count    int
	err      error
}

// intent is one queued request for the control loop. The reply channel is
// buffered so the loop never blocks on a caller that gave up.
type intent struct {
	id      uuid.UUID
	kind    intentKind
	connect netman.ConnectRequest
	ssid    string
	reply   chan result
}

// Orchestrator sequences the hotspot, DHCP helper and NetworkManager client.
type Orchestrator struct {
	cfg     Config
	nm      NetworkClient
	hotspot Hotspot
	dhcp    DHCPService

	intents  chan intent
	watchdog *watchdog

	ready     chan struct{}
	readyOnce sync.Once

	state *stateHolder
}

// New wires the orchestrator. Run must be called before intents are
// serviced.
func New(cfg Config, nm NetworkClient, hs Hotspot, dhcp DHCPService) *Orchestrator {
	if cfg.HotspotStartRetries <= 0 {
		cfg.HotspotStartRetries = 3
	}
	o := &Orchestrator{
		cfg:     cfg,
		nm:      nm,
		hotspot: hs,
		dhcp:    dhcp,
		intents: make(chan intent),
		ready:   make(chan struct{}),
		state:   newStateHolder(),
	}
	o.watchdog = newWatchdog(cfg.ActivityTimeout, o.postShutdown)
	return o
}

// postShutdown is the watchdog's expiry action: shutdown rides the same
// intent channel as everything else, so teardown always happens inside the
// control loop.
func (o *Orchestrator) postShutdown() {
	log.Warn().Dur("timeout", o.cfg.ActivityTimeout).
		Msg("no portal activity, requesting shutdown")
	go func() {
		o.intents <- intent{id: uuid.New(), kind: intentShutdown, reply: make(chan result, 1)}
	}()
}

// Ready is closed once the hotspot and its gateway address exist, so the
// portal listener can bind. It never closes when startup fails; wait on it
// together with Run's error.
func (o *Orchestrator) Ready() <-chan struct{} {
	return o.ready
}

// Touch records portal activity, deferring the watchdog.
func (o *Orchestrator) Touch() {
	o.watchdog.Reset()
}

// Snapshot returns a copy of the operational state safe for concurrent
// reads.
func (o *Orchestrator) Snapshot() Snapshot {
	return o.state.snapshot()
}

// Connect submits credentials and blocks until the attempt resolves or ctx
// expires.
func (o *Orchestrator) Connect(ctx context.Context, req netman.ConnectRequest) error {
	res, err := o.submit(ctx, intent{kind: intentConnect, connect: req})
	if err != nil {
		return err
	}
	return res.err
}

// Rescan tears the hotspot down, scans, restores the hotspot and returns the
// fresh list. Clients of the hotspot are disconnected while it runs.
func (o *Orchestrator) Rescan(ctx context.Context) ([]netman.ScanResult, error) {
	res, err := o.submit(ctx, intent{kind: intentRescan})
	if err != nil {
		return nil, err
	}
	return res.networks, res.err
}

// Forget removes the saved profiles for one SSID and reports how many were
// deleted.
func (o *Orchestrator) Forget(ctx context.Context, ssid string) (int, error) {
	res, err := o.submit(ctx, intent{kind: intentForget, ssid: ssid})
	if err != nil {
		return 0, err
	}
	return res.count, res.err
}

// ForgetAll removes every saved WiFi profile and reports how many were
// deleted.
func (o *Orchestrator) ForgetAll(ctx context.Context) (int, error) {
	res, err := o.submit(ctx, intent{kind: intentForgetAll})
	if err != nil {
		return 0, err
	}
	return res.count, res.err
}

// submit enqueues an intent and waits for its reply, bounded by ctx. A slow
// control loop degrades to a client-visible timeout, never a hung handler.
func (o *Orchestrator) submit(ctx context.Context, in intent) (result, error) {
	in.id = uuid.New()
	in.reply = make(chan result, 1)

	select {
	case o.intents <- in:
	case <-ctx.Done():
		return result{}, ErrRequestTimeout
	}

	select {
	case res := <-in.reply:
		return res, nil
	case <-ctx.Done():
		log.Warn().Str("intent", in.id.String()).Msg("caller abandoned intent")
		return result{}, ErrRequestTimeout
	}
}

// Run executes the control loop until the context is canceled, the watchdog
// fires, or (with ExitOnConnect) a connection succeeds. The returned error
// is fatal and means the process has no recovery path.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.state.setPhase(PhaseInit)
	if !o.nm.IsAvailable() {
		return netman.ErrBusUnavailable
	}

	// Seed the portal's network list. A failed scan is not fatal: the portal
	// shows an empty list and the user can rescan.
	o.state.setPhase(PhaseScanning)
	if networks, err := o.nm.Scan(ctx); err != nil {
		log.Warn().Err(err).Msg("initial scan failed, portal starts with an empty list")
	} else {
		o.state.setNetworks(networks)
	}

	if err := o.raiseHotspot(ctx); err != nil {
		return err
	}
	defer o.teardown()

	o.watchdog.Arm()
	defer o.watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			o.state.setPhase(PhaseShuttingDown)
			return nil
		case in := <-o.intents:
			done, err := o.handle(ctx, in)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

// handle dispatches one intent. done requests a clean exit; a non-nil error
// is fatal.
func (o *Orchestrator) handle(ctx context.Context, in intent) (done bool, fatal error) {
	o.watchdog.Reset()

	switch in.kind {
	case intentConnect:
		return o.handleConnect(ctx, in)
	case intentRescan:
		return false, o.handleRescan(ctx, in)
	case intentForget, intentForgetAll:
		return false, o.handleForget(ctx, in)
	case intentShutdown:
		o.state.setPhase(PhaseTimedOut)
		o.state.setPhase(PhaseShuttingDown)
		in.reply <- result{}
		return true, nil
	default:
		in.reply <- result{err: fmt.Errorf("unknown intent")}
		return false, nil
	}
}

// handleConnect runs one portal submission to completion: hotspot down,
// managed connect, then either hold the connection or restore the hotspot.
func (o *Orchestrator) handleConnect(ctx context.Context, in intent) (bool, error) {
	log.Info().Str("intent", in.id.String()).Str("ssid", in.connect.SSID).
		Msg("connection attempt requested")

	o.state.setPhase(PhaseConnecting)
	o.lowerHotspot()

	var err error
	for attempt := 0; ; attempt++ {
		err = o.nm.Connect(ctx, in.connect)
		if err == nil || !errors.Is(err, netman.ErrConnectTimeout) || attempt >= o.cfg.ConnectRetries {
			break
		}
		log.Warn().Str("ssid", in.connect.SSID).Int("attempt", attempt+1).
			Msg("connection timed out, retrying")
	}

	if err == nil {
		info, cerr := o.nm.CurrentConnection()
		if cerr != nil {
			log.Warn().Err(cerr).Msg("reading connection details")
		}
		o.state.setConnected(info)
		o.watchdog.Stop()
		in.reply <- result{}
		log.Info().Str("ssid", in.connect.SSID).Msg("connected")
		return o.cfg.ExitOnConnect, nil
	}

	translated := translate(err)
	o.state.setFailure(translated.Error())
	log.Warn().Err(err).Str("ssid", in.connect.SSID).Msg("connection attempt failed")

	if rerr := o.raiseHotspot(ctx); rerr != nil {
		in.reply <- result{err: translated}
		return false, rerr
	}
	in.reply <- result{err: translated}
	return false, nil
}

// handleRescan refreshes the network cache. While the hotspot serves the
// portal the interface must be freed first, so hotspot clients drop; on a
// managed connection the scan runs in place and the connection is kept.
func (o *Orchestrator) handleRescan(ctx context.Context, in intent) error {
	connected := o.state.phase() == PhaseConnected
	if connected {
		log.Info().Str("intent", in.id.String()).Msg("rescan requested on managed connection")
	} else {
		log.Info().Str("intent", in.id.String()).Msg("rescan requested, hotspot clients will drop")
		o.state.setPhase(PhaseScanning)
		o.lowerHotspot()
	}

	networks, err := o.nm.Scan(ctx)
	if err == nil {
		o.state.setNetworks(networks)
	} else {
		err = ErrScanFailed
	}

	if !connected {
		if rerr := o.raiseHotspot(ctx); rerr != nil {
			in.reply <- result{networks: networks, err: err}
			return rerr
		}
	}

	in.reply <- result{networks: networks, err: err}
	return nil
}

// handleForget removes saved profiles. When the hotspot is serving, it is
// cycled so the interface comes back in a known-good state; on a managed
// connection the interface is left alone so the connection survives.
func (o *Orchestrator) handleForget(ctx context.Context, in intent) error {
	var (
		count int
		err   error
	)
	if in.kind == intentForgetAll {
		count, err = o.nm.ForgetAll()
	} else {
		count, err = o.nm.Forget(in.ssid)
	}
	if err != nil {
		in.reply <- result{err: translate(err)}
		return nil
	}

	if o.state.phase() != PhaseConnected {
		o.lowerHotspot()
		if rerr := o.raiseHotspot(ctx); rerr != nil {
			in.reply <- result{count: count}
			return rerr
		}
	}

	in.reply <- result{count: count}
	return nil
}

// raiseHotspot brings up the access point and DHCP helper with bounded
// retries. Failure is fatal to the caller: without a hotspot the device has
// no recovery path.
func (o *Orchestrator) raiseHotspot(ctx context.Context) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(o.cfg.HotspotStartRetries)),
		ctx,
	)
	if err := backoff.Retry(func() error { return o.hotspot.Start(ctx) }, policy); err != nil {
		return fmt.Errorf("%w: %v", hotspot.ErrStart, err)
	}

	if err := o.dhcp.Start(); err != nil {
		_ = o.hotspot.Stop()
		return err
	}

	o.state.setHotspot(true)
	o.state.setPhase(PhaseHotspotUp)
	o.readyOnce.Do(func() { close(o.ready) })
	return nil
}

// lowerHotspot stops the DHCP helper and the access point. The interface
// cannot scan or join a network while it serves the hotspot.
func (o *Orchestrator) lowerHotspot() {
	if err := o.dhcp.Stop(); err != nil {
		log.Warn().Err(err).Msg("stopping DHCP helper")
	}
	if err := o.hotspot.Stop(); err != nil {
		log.Warn().Err(err).Msg("stopping hotspot")
	}
	o.state.setHotspot(false)
}

// teardown releases the interface on the way out; it always runs inside the
// control loop.
func (o *Orchestrator) teardown() {
	o.lowerHotspot()
}

// translate maps collaborator failures onto the portal's stable vocabulary.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, netman.ErrConnectTimeout):
		return ErrConnectTimeout
	case errors.Is(err, netman.ErrConnectRejected):
		return ErrConnectRejected
	case errors.Is(err, netman.ErrNetworkNotFound):
		return ErrNetworkNotFound
	default:
		return ErrConnectFailed
	}
}
