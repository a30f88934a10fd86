// Package main is the entry point for the wifi-connect portal.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/envoidshield/wifi-connect/internal/config"
	"github.com/envoidshield/wifi-connect/internal/dnsmasq"
	"github.com/envoidshield/wifi-connect/internal/hotspot"
	"github.com/envoidshield/wifi-connect/internal/netman"
	"github.com/envoidshield/wifi-connect/internal/orchestrator"
	"github.com/envoidshield/wifi-connect/internal/portal"
)

// oneShot holds the flags that run a single operation and exit instead of
// starting the portal.
type oneShot struct {
	listNetworks  bool
	listConnected bool
	listSaved     bool
	forgetAll     bool
	forgetSSID    string
	connectSSID   string
	passphrase    string
	identity      string
}

func (o *oneShot) requested() bool {
	return o.listNetworks || o.listConnected || o.listSaved || o.forgetAll ||
		o.forgetSSID != "" || o.connectSSID != ""
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var ops oneShot

	root := &cobra.Command{
		Use:   "wifi-connect",
		Short: "WiFi credential provisioning over a captive portal hotspot",
		Long: "wifi-connect turns a headless device into a temporary hotspot with a\n" +
			"captive portal, takes WiFi credentials from a connecting phone or laptop,\n" +
			"and hands them to NetworkManager. If the attempt fails the hotspot comes\n" +
			"back so the user can try again.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cfg.LogLevel)
			if err := cfg.Validate(); err != nil {
				return err
			}
			if ops.requested() {
				return runOneShot(cfg, &ops)
			}
			return runPortal(cfg)
		},
	}

	cfg.BindFlags(root)
	f := root.Flags()
	f.BoolVar(&ops.listNetworks, "list-networks", false, "scan and print visible networks, then exit")
	f.BoolVar(&ops.listConnected, "list-connected", false, "print the current WiFi connection, then exit")
	f.BoolVar(&ops.listSaved, "list-saved", false, "print saved WiFi profiles, then exit")
	f.BoolVar(&ops.forgetAll, "forget-all", false, "delete all saved WiFi profiles, then exit")
	f.StringVar(&ops.forgetSSID, "forget-network", "", "delete saved profiles for one SSID, then exit")
	f.StringVar(&ops.connectSSID, "connect", "", "connect to one SSID directly, then exit")
	f.StringVar(&ops.passphrase, "passphrase", "", "passphrase for --connect")
	f.StringVar(&ops.identity, "identity", "", "username for --connect to an enterprise network")

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("wifi-connect failed")
		os.Exit(1)
	}
}

// setupLogging configures zerolog based on log level.
func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// runOneShot services the maintenance flags without starting a hotspot.
func runOneShot(cfg *config.Settings, ops *oneShot) error {
	nm, err := netman.New(cfg.Interface, netman.WithPortalSSID(cfg.SSID))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	switch {
	case ops.listNetworks:
		networks, err := nm.Scan(ctx)
		if err != nil {
			return err
		}
		for _, n := range networks {
			fmt.Printf("%-32s %3d%%  %-7s %s\n", n.SSID, n.SignalStrength, n.FrequencyBand, n.Security)
		}

	case ops.listConnected:
		info, err := nm.CurrentConnection()
		if err != nil {
			return err
		}
		if info == nil {
			fmt.Println("not connected")
			return nil
		}
		fmt.Printf("%s on %s (%s), %s, signal %d%%\n",
			info.SSID, info.Interface, info.IPAddress, info.Security, info.SignalStrength)

	case ops.listSaved:
		profiles, err := nm.ListSaved()
		if err != nil {
			return err
		}
		for _, p := range profiles {
			fmt.Printf("%-32s %s\n", p.SSID, p.Security)
		}

	case ops.forgetAll:
		count, err := nm.ForgetAll()
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d saved networks\n", count)

	case ops.forgetSSID != "":
		count, err := nm.Forget(ops.forgetSSID)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d saved networks\n", count)

	case ops.connectSSID != "":
		err := nm.Connect(ctx, netman.ConnectRequest{
			SSID:       ops.connectSSID,
			Passphrase: ops.passphrase,
			Identity:   ops.identity,
		})
		if err != nil {
			return err
		}
		fmt.Printf("connected to %s\n", ops.connectSSID)
	}
	return nil
}

// runPortal wires the full hotspot-and-portal workflow and blocks until a
// signal, the activity watchdog, or (with --exit-on-connect) success.
func runPortal(cfg *config.Settings) error {
	log.Info().
		Str("ssid", cfg.SSID).
		Str("gateway", cfg.Gateway).
		Int("port", cfg.ListeningPort).
		Bool("wifi_direct", cfg.WiFiDirectMode).
		Msg("starting wifi-connect")

	nm, err := netman.New(cfg.Interface, netman.WithPortalSSID(cfg.SSID))
	if err != nil {
		return err
	}

	iface, err := nm.InterfaceName()
	if err != nil {
		return err
	}

	mode := hotspot.ModeStandard
	if cfg.WiFiDirectMode {
		mode = hotspot.ModeWifiDirect
	}
	hs := hotspot.New(hotspot.Config{
		SSID:       cfg.SSID,
		Passphrase: cfg.Passphrase,
		Gateway:    cfg.GatewayIP(),
		Interface:  iface,
		Mode:       mode,
	}, nm)

	dhcp := dnsmasq.New(dnsmasq.Config{
		Interface:          hs.DHCPInterface(),
		Gateway:            cfg.Gateway,
		DHCPRange:          cfg.DHCPRange,
		NoDHCPGateway:      cfg.NoDHCPGateway,
		NoDHCPDNS:          cfg.NoDHCPDNS,
		NoDHCPRouterOption: cfg.NoDHCPRouterOption,
	})

	orch := orchestrator.New(orchestrator.Config{
		ActivityTimeout: cfg.ActivityTimeoutDuration(),
		ConnectRetries:  cfg.ConnectRetries,
		ExitOnConnect:   cfg.ExitOnConnect,
	}, nm, hs, dhcp)

	server := portal.NewServer(orch, nm, cfg.UIDirectory)

	srv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The control loop owns all network state changes; the HTTP server only
	// feeds it. Either one finishing brings the whole process down.
	runErr := make(chan error, 1)
	go func() {
		runErr <- orch.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// The listener binds the hotspot's gateway address, which does not exist
	// until the control loop has raised the access point. Bind after Ready,
	// and bail out if the loop dies before getting there.
	select {
	case <-orch.Ready():
		go func() {
			log.Info().Str("addr", cfg.ListenAddr()).Msg("portal listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("portal server error")
				cancel()
			}
		}()
	case err := <-runErr:
		if err != nil {
			log.Error().Err(err).Msg("control loop failed before the portal could start")
		}
		return err
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
		return <-runErr
	}

	var exitErr error
	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
		exitErr = <-runErr
	case exitErr = <-runErr:
		if exitErr != nil {
			log.Error().Err(exitErr).Msg("control loop failed")
		} else {
			log.Info().Msg("control loop finished")
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("portal server forced to shut down")
	}

	log.Info().Msg("stopped")
	return exitErr
}
