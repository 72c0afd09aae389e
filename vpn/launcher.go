package vpn

import (
	"fmt"
	"os/exec"

	"github.com/yllada/vpn-rotator/common"
)

// Launcher starts one tunnel client instance in background mode. The
// caller is responsible for the warm-up wait and for inspecting the
// instance's log afterwards.
type Launcher interface {
	Start(configPath, authPath, logPath string) error
}

// OpenVPNLauncher launches the OpenVPN binary as a daemon with the
// transport forced to IPv4.
type OpenVPNLauncher struct {
	// Binary is the tunnel client binary name. Defaults to "openvpn".
	Binary string
}

// Start launches one daemonized instance writing to the given log path.
// With --daemon the foreground process exits as soon as daemonization
// succeeds, so a non-nil return means the client rejected its
// invocation before the tunnel ever came up.
func (l OpenVPNLauncher) Start(configPath, authPath, logPath string) error {
	bin := l.Binary
	if bin == "" {
		bin = common.TunnelProcessName
	}

	cmd := exec.Command(bin,
		"--config", configPath,
		"--auth-user-pass", authPath,
		"--daemon",
		"--log", logPath,
		"--proto", "udp4", // force IPv4 transport
	)

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to start %s: %w", bin, err)
	}
	return nil
}
