// Package main provides the entry point for VPN Rotator.
// VPN Rotator periodically tears down and re-establishes an OpenVPN
// tunnel, then verifies that the host's public IPv4 address changed,
// rotating the apparent network identity of a single host.
//
// Usage:
//
//	sudo vpn-rotator
//
// Environment:
//
//	The rotation loop requires root privileges and the openvpn,
//	killall, and pgrep commands on PATH. All files (configuration,
//	credentials, logs, history) live in the install directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/yllada/vpn-rotator/cli"
	"github.com/yllada/vpn-rotator/common"
	"github.com/yllada/vpn-rotator/config"
	"github.com/yllada/vpn-rotator/keyring"
	"github.com/yllada/vpn-rotator/publicip"
	"github.com/yllada/vpn-rotator/store"
	"github.com/yllada/vpn-rotator/vpn"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

var (
	showVersion = flag.Bool("version", false, "Show version and exit")
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	showHelp    = flag.Bool("help", false, "Show help message")

	runCheck     = flag.Bool("check", false, "Run preflight checks and exit")
	historyCount = flag.Int("history", 0, "Show the N most recent rotation cycles")
	saveAuth     = flag.Bool("save-auth", false, "Store tunnel credentials in the keyring")
)

func main() {
	flag.Parse()

	if *showHelp {
		cli.PrintHelp()
		os.Exit(0)
	}

	if *showVersion {
		fmt.Printf("VPN Rotator v%s\n", appVersion)
		if buildTime != "unknown" {
			fmt.Printf("  Build:  %s\n", buildTime)
			fmt.Printf("  Commit: %s\n", commitSHA)
		}
		os.Exit(0)
	}

	installDir, err := common.InstallDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// CLI modes run without root and without touching the tunnel.
	if *runCheck || *historyCount > 0 || *saveAuth {
		runCLI(installDir)
		return
	}

	// The rotation loop controls system-wide tunnel processes.
	if os.Geteuid() != 0 {
		fmt.Fprintln(os.Stderr, "This program must be run as root (sudo)")
		os.Exit(1)
	}

	cfg, err := config.Load(installDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logLevel := common.LevelInfo
	if *verbose {
		logLevel = common.LevelDebug
	}

	if err := common.InitLogger(common.LogConfig{
		Level:    logLevel,
		FilePath: cfg.LogFile,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}
	defer common.CloseLogger()

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandler(cancel)

	if err := verifyRequirements(cfg, installDir); err != nil {
		common.LogError("%v", err)
		os.Exit(1)
	}

	resolver := publicip.NewResolver(cfg.Endpoints, cfg.LookupTimeout.Std())
	rotator := vpn.NewRotator(
		cfg,
		common.GetLogger(),
		resolver,
		vpn.ExecController{},
		vpn.OpenVPNLauncher{Binary: cfg.TunnelBinary},
	)

	if history, err := store.Open(cfg.HistoryDB); err != nil {
		common.LogWarn("Rotation history unavailable: %v", err)
	} else {
		defer history.Close()
		rotator.SetHistory(history)
	}

	// The initial address is the baseline every rotation is compared
	// against; not being able to resolve it is a startup failure.
	initialIP, err := resolver.Resolve(ctx)
	if err != nil {
		if ctx.Err() != nil {
			common.LogInfo("Shutdown requested before startup completed")
			os.Exit(0)
		}
		common.LogError("Unable to get current IP. Exiting.")
		os.Exit(1)
	}
	common.LogInfo("Current IP: %s", initialIP)
	rotator.SetCurrentIP(initialIP)

	common.LogInfo("Starting %s v%s", common.AppName, appVersion)
	_ = rotator.Run(ctx)

	os.Exit(0)
}

// runCLI handles the non-rotating command modes.
func runCLI(installDir string) {
	cliApp, err := cli.New(installDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var cliErr error
	switch {
	case *runCheck:
		cliErr = cliApp.Check()
	case *historyCount > 0:
		cliErr = cliApp.History(*historyCount)
	case *saveAuth:
		cliErr = cliApp.SaveAuth()
	}

	if cliErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", cliErr)
		os.Exit(1)
	}
}

// setupSignalHandler configures graceful shutdown on SIGINT/SIGTERM.
// Cancelling the context makes the rotator finish its bounded teardown
// and Run return.
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		common.LogInfo("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
	}()
}

// verifyRequirements checks everything the rotation loop depends on.
// Any failure here aborts the process before the loop begins.
func verifyRequirements(cfg *config.Config, installDir string) error {
	configDir := filepath.Dir(cfg.TunnelConfig)
	if !common.FileExists(configDir) {
		return fmt.Errorf("configuration directory %s not found", configDir)
	}
	if !common.FileExists(cfg.TunnelConfig) {
		return fmt.Errorf("config file %s not found", cfg.TunnelConfig)
	}

	if !common.FileExists(cfg.AuthFile) {
		// Fall back to stored credentials before giving up.
		ks := keyring.New(filepath.Join(installDir, ".credentials"))
		if err := ks.WriteAuthFile(cfg.AuthFile); err != nil {
			return fmt.Errorf("credentials file %s not found", cfg.AuthFile)
		}
		common.LogInfo("Materialized %s from stored credentials", cfg.AuthFile)
	}

	for _, cmd := range []string{cfg.TunnelBinary, "killall", "pgrep"} {
		if !common.CommandExists(cmd) {
			return fmt.Errorf("command %q is not installed", cmd)
		}
	}

	return nil
}
