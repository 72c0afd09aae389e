// Package cli provides the terminal commands of VPN Rotator that run
// outside the rotation loop: preflight checks, rotation history, and
// credential entry.
package cli

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/yllada/vpn-rotator/common"
	"github.com/yllada/vpn-rotator/config"
	"github.com/yllada/vpn-rotator/keyring"
	"github.com/yllada/vpn-rotator/store"
	"github.com/yllada/vpn-rotator/vpn"
)

var (
	passStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	subduedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// CLI represents the command-line interface.
type CLI struct {
	cfg        *config.Config
	installDir string
}

// New creates a CLI instance bound to the install directory.
func New(installDir string) (*CLI, error) {
	cfg, err := config.Load(installDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return &CLI{
		cfg:        cfg,
		installDir: installDir,
	}, nil
}

// Check runs the preflight validation suite without touching the
// tunnel: credential file format and permissions, config file
// presence, and required external commands. Returns an error when any
// check failed.
func (c *CLI) Check() error {
	fmt.Println(headerStyle.Render("VPN Rotator preflight checks"))
	fmt.Println()

	failures := 0
	report := func(name string, err error) {
		if err != nil {
			failures++
			fmt.Printf("%s %s: %v\n", failStyle.Render("FAIL"), name, err)
		} else {
			fmt.Printf("%s %s\n", passStyle.Render(" OK "), name)
		}
	}

	report("credential file", ValidateAuthFile(c.cfg.AuthFile))
	report("tunnel config file", c.checkTunnelConfig())
	report("tunnel client", c.checkTunnelBinary())
	report("killall utility", checkCommand("killall"))
	report("pgrep utility", checkCommand("pgrep"))

	fmt.Println()
	if failures > 0 {
		fmt.Println(failStyle.Render(fmt.Sprintf("%d check(s) failed", failures)))
		return fmt.Errorf("%d preflight check(s) failed", failures)
	}
	fmt.Println(passStyle.Render("All checks passed"))
	return nil
}

// ValidateAuthFile verifies the two-line credential file: it must
// exist, be readable only by its owner (0600), and contain exactly two
// non-empty lines (username, password).
func ValidateAuthFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s does not exist", common.ErrInvalidAuthFile, path)
		}
		return err
	}

	if perm := info.Mode().Perm(); perm != 0600 {
		return fmt.Errorf("%w: permissions are %04o, should be 0600", common.ErrInvalidAuthFile, perm)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		return fmt.Errorf("%w: expected exactly 2 lines, found %d", common.ErrInvalidAuthFile, len(lines))
	}
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			return fmt.Errorf("%w: contains an empty line", common.ErrInvalidAuthFile)
		}
	}

	return nil
}

func (c *CLI) checkTunnelConfig() error {
	if !common.FileExists(c.cfg.TunnelConfig) {
		return fmt.Errorf("%s does not exist", c.cfg.TunnelConfig)
	}
	return nil
}

func (c *CLI) checkTunnelBinary() error {
	if !common.CommandExists(c.cfg.TunnelBinary) {
		return fmt.Errorf("%s is not installed", c.cfg.TunnelBinary)
	}

	out, err := exec.Command(c.cfg.TunnelBinary, "--version").CombinedOutput()
	if err == nil || len(out) > 0 {
		if line, _, ok := strings.Cut(string(out), "\n"); ok && line != "" {
			fmt.Printf("     %s\n", subduedStyle.Render(line))
		}
	}
	return nil
}

func checkCommand(name string) error {
	if !common.CommandExists(name) {
		return fmt.Errorf("command %q is not installed", name)
	}
	return nil
}

// History prints the most recent rotation cycles from the history
// database, newest first.
func (c *CLI) History(limit int) error {
	if !common.FileExists(c.cfg.HistoryDB) {
		fmt.Println("No rotation history recorded yet.")
		return nil
	}

	h, err := store.Open(c.cfg.HistoryDB)
	if err != nil {
		return err
	}
	defer h.Close()

	records, err := h.Recent(limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No rotation history recorded yet.")
		return nil
	}

	fmt.Println(headerStyle.Render("Rotation history"))
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tPREVIOUS IP\tNEW IP\tOUTCOME\tATTEMPTS")

	for _, rec := range records {
		outcome := string(rec.Outcome)
		switch rec.Outcome {
		case vpn.OutcomeRotated:
			outcome = passStyle.Render(outcome)
		case vpn.OutcomeUnchanged:
			outcome = warnStyle.Render(outcome)
		case vpn.OutcomeFailed:
			outcome = failStyle.Render(outcome)
		}

		prev := rec.PreviousIP
		if prev == "" {
			prev = "-"
		}
		next := rec.NewIP
		if next == "" {
			next = "-"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			rec.StartedAt.Local().Format("2006-01-02 15:04:05"),
			prev, next, outcome, rec.ReconnectAttempts)
	}

	return w.Flush()
}

// SaveAuth prompts for the tunnel username and password and stores them
// in the credential store. The password is read without echo.
func (c *CLI) SaveAuth() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Print("Username: ")
	username, err := reader.ReadString('\n')
	if err != nil {
		return err
	}
	username = strings.TrimSpace(username)

	fmt.Print("Password: ")
	passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return err
	}
	password := strings.TrimSpace(string(passwordBytes))

	ks := keyring.New(filepath.Join(c.installDir, ".credentials"))
	if err := ks.Save(keyring.Credentials{Username: username, Password: password}); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	fmt.Println(passStyle.Render("Credentials saved."))
	return nil
}

// PrintHelp prints CLI usage help.
func PrintHelp() {
	fmt.Println(`VPN Rotator - periodic VPN exit address rotation

Usage:
  vpn-rotator [OPTIONS]

Run without options to start the rotation loop (requires root).

Options:
  --version       Show version and exit
  --verbose       Enable verbose logging
  --check         Run preflight checks and exit
  --history N     Show the N most recent rotation cycles
  --save-auth     Store tunnel credentials in the keyring
  --help          Show this help message

Examples:
  sudo vpn-rotator
  vpn-rotator --check
  vpn-rotator --history 20`)
}
