// Package dnsmasq manages the dnsmasq helper process that serves DHCP and
// wildcard DNS to hotspot clients. At most one instance may bind the
// interface at a time; starting a new one always stops the previous first.
package dnsmasq

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/process"
)

// ErrBind means dnsmasq could not bind the interface after bounded retries.
// Without DHCP/DNS the portal cannot be served, so the caller treats this as
// fatal.
var ErrBind = errors.New("dnsmasq failed to bind")

const (
	maxStartAttempts = 5
	startProbeDelay  = 300 * time.Millisecond
	stopWait         = 3 * time.Second
)

// Config describes one dnsmasq instance. In standard mode the hotspot
// advertises itself as gateway and DNS server; WiFi Direct peers must not
// assume an outbound route, so the suppression flags drop those options.
type Config struct {
	Interface string
	Gateway   string
	DHCPRange string // "start,end"

	NoDHCPGateway      bool // omit the router option entirely
	NoDHCPDNS          bool // no wildcard DNS redirection
	NoDHCPRouterOption bool // force an empty router option instead

	Binary string // defaults to "dnsmasq"
}

// BuildArgs produces the dnsmasq argument list for a config.
func BuildArgs(cfg Config) []string {
	var args []string

	if !cfg.NoDHCPDNS {
		args = append(args, fmt.Sprintf("--address=/#/%s", cfg.Gateway))
	}

	args = append(args, fmt.Sprintf("--dhcp-range=%s", cfg.DHCPRange))

	if !cfg.NoDHCPGateway {
		args = append(args, fmt.Sprintf("--dhcp-option=option:router,%s", cfg.Gateway))
	} else if cfg.NoDHCPRouterOption {
		// Empty router option stops clients auto-detecting a gateway.
		args = append(args, "--dhcp-option=option:router")
	}

	args = append(args,
		fmt.Sprintf("--interface=%s", cfg.Interface),
		"--keep-in-foreground",
		"--bind-interfaces",
		"--except-interface=lo",
		"--conf-file",
		"--no-hosts",
	)
	return args
}

// Service owns the lifecycle of a single dnsmasq process.
type Service struct {
	mu   sync.Mutex
	cfg  Config
	cmd  *exec.Cmd
	done chan struct{} // closed once the child has been reaped

	newPolicy func() backoff.BackOff
}

// New returns a Service for the given config.
func New(cfg Config) *Service {
	if cfg.Binary == "" {
		cfg.Binary = "dnsmasq"
	}
	return &Service{
		cfg: cfg,
		newPolicy: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxStartAttempts)
		},
	}
}

// Start launches dnsmasq, stopping any previous instance first. Bind
// failures (interface not yet up, port taken by a stale instance) are
// retried with backoff before ErrBind is reported.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.stopStale()

	args := BuildArgs(s.cfg)

	err := backoff.Retry(func() error {
		cmd := exec.Command(s.cfg.Binary, args...)
		if err := cmd.Start(); err != nil {
			return err
		}

		done := make(chan struct{})
		go func() {
			_ = cmd.Wait()
			close(done)
		}()

		// dnsmasq exits almost immediately when it cannot bind. Waiting on
		// the reaped child distinguishes that from a healthy foreground
		// process; the process table cannot, since an unreaped child still
		// has a live entry.
		select {
		case <-done:
			return fmt.Errorf("dnsmasq exited during startup: %v", cmd.ProcessState)
		case <-time.After(startProbeDelay):
		}

		s.cmd = cmd
		s.done = done
		return nil
	}, s.newPolicy())

	if err != nil {
		return fmt.Errorf("%w: %v", ErrBind, err)
	}

	log.Info().Str("interface", s.cfg.Interface).Str("range", s.cfg.DHCPRange).
		Int("pid", s.cmd.Process.Pid).Msg("dnsmasq started")
	return nil
}

// Stop terminates the running instance. Calling Stop when nothing is
// running is a no-op success.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	return nil
}

func (s *Service) stopLocked() {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	pid := s.cmd.Process.Pid

	if err := s.cmd.Process.Signal(syscall.SIGTERM); err == nil {
		select {
		case <-s.done:
		case <-time.After(stopWait):
		}
	}

	select {
	case <-s.done:
	default:
		log.Warn().Int("pid", pid).Msg("dnsmasq did not exit, killing")
		_ = s.cmd.Process.Kill()
		<-s.done
	}

	log.Debug().Int("pid", pid).Msg("dnsmasq stopped")
	s.cmd = nil
	s.done = nil
}

// stopStale terminates dnsmasq instances left over from an earlier run that
// still hold the interface; a survivor would keep the port bound and defeat
// every start attempt.
func (s *Service) stopStale() {
	procs, err := process.Processes()
	if err != nil {
		return
	}

	marker := "--interface=" + s.cfg.Interface
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || name != "dnsmasq" {
			continue
		}
		cmdline, err := p.Cmdline()
		if err != nil || !strings.Contains(cmdline, marker) {
			continue
		}
		log.Warn().Int32("pid", p.Pid).Msg("terminating stale dnsmasq instance")
		_ = p.Terminate()
	}
}

// Running reports whether the managed dnsmasq process is alive.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil || s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}
