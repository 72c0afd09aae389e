package vpn

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/yllada/vpn-rotator/common"
	"github.com/yllada/vpn-rotator/config"
)

// testConfig returns a config with all paths in a temp dir and all
// delays shrunk so cycles complete in milliseconds.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.TunnelConfig = filepath.Join(dir, "client.ovpn")
	cfg.AuthFile = filepath.Join(dir, "auth.txt")
	cfg.AttemptLog = filepath.Join(dir, "attempt.log")
	cfg.HistoryDB = filepath.Join(dir, "history.db")
	cfg.LogFile = filepath.Join(dir, "rotator.log")

	short := config.Duration(time.Millisecond)
	cfg.CheckInterval = config.Duration(250 * time.Millisecond)
	cfg.RecheckDelay = short
	cfg.WarmupDelay = short
	cfg.SettleDelay = short
	cfg.RetryCooldown = short
	cfg.VerifySpacing = short

	if err := os.WriteFile(cfg.TunnelConfig, []byte("client\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.AuthFile, []byte("user\npass\n"), 0600); err != nil {
		t.Fatal(err)
	}

	return cfg
}

func quietLogger() *common.AppLogger {
	logger := common.GetLogger()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeController counts stop broadcasts and serves a scripted sequence
// of process-presence answers (empty sequence means "nothing running").
type fakeController struct {
	mu        sync.Mutex
	stopCalls int
	running   []bool
	stopErr   error
}

func (f *fakeController) StopAll(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return f.stopErr
}

func (f *fakeController) AnyRunning(name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.running) == 0 {
		return false, nil
	}
	r := f.running[0]
	f.running = f.running[1:]
	return r, nil
}

func (f *fakeController) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

// fakeLauncher writes a tunnel log per attempt; scripted outcomes
// decide whether the log carries the completion marker.
type fakeLauncher struct {
	outcomes []bool
	starts   int
}

func (f *fakeLauncher) Start(configPath, authPath, logPath string) error {
	ok := f.starts < len(f.outcomes) && f.outcomes[f.starts]
	f.starts++

	content := "TUN/TAP device tun0 opened\n"
	if ok {
		content += common.InitCompletedMarker + "\n"
	}
	return os.WriteFile(logPath, []byte(content), 0600)
}

// fakeResolver serves a scripted sequence of answers; the last entry
// repeats once the script runs out.
type fakeResolver struct {
	ips   []string
	errs  []error
	calls int
}

func (f *fakeResolver) Resolve(ctx context.Context) (string, error) {
	i := f.calls
	if i >= len(f.ips) {
		i = len(f.ips) - 1
	}
	f.calls++
	return f.ips[i], f.errs[i]
}

type fakeRecorder struct {
	records []CycleResult
}

func (f *fakeRecorder) Record(res CycleResult) error {
	f.records = append(f.records, res)
	return nil
}

func newTestRotator(t *testing.T, ctrl *fakeController, launcher *fakeLauncher, resolver *fakeResolver) (*Rotator, *config.Config) {
	t.Helper()
	cfg := testConfig(t)
	return NewRotator(cfg, quietLogger(), resolver, ctrl, launcher), cfg
}

func TestRotator_ReconnectSucceedsOnThirdAttempt(t *testing.T) {
	ctrl := &fakeController{}
	launcher := &fakeLauncher{outcomes: []bool{false, false, true}}
	r, cfg := newTestRotator(t, ctrl, launcher, &fakeResolver{ips: []string{""}, errs: []error{common.ErrNoAddress}})

	attempts, err := r.reconnect(context.Background())
	if err != nil {
		t.Fatalf("reconnect() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if launcher.starts != 3 {
		t.Errorf("launch calls = %d, want 3", launcher.starts)
	}
	if common.FileExists(cfg.AttemptLog) {
		t.Error("attempt log should be deleted after success")
	}
}

func TestRotator_ReconnectExhausted(t *testing.T) {
	ctrl := &fakeController{}
	launcher := &fakeLauncher{outcomes: []bool{false, false, false}}
	r, cfg := newTestRotator(t, ctrl, launcher, &fakeResolver{ips: []string{""}, errs: []error{common.ErrNoAddress}})

	attempts, err := r.reconnect(context.Background())
	if !errors.Is(err, common.ErrAttemptsExhausted) {
		t.Fatalf("reconnect() error = %v, want ErrAttemptsExhausted", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if launcher.starts != 3 {
		t.Errorf("launch calls = %d, want 3", launcher.starts)
	}
	// Every failed launch is followed by a terminate of the partial instance.
	if ctrl.stopCalls != 3 {
		t.Errorf("stop broadcasts = %d, want 3", ctrl.stopCalls)
	}
	if common.FileExists(cfg.AttemptLog) {
		t.Error("attempt log should be deleted after failure")
	}
}

func TestRotator_ReconnectMissingConfig(t *testing.T) {
	ctrl := &fakeController{}
	launcher := &fakeLauncher{}
	r, cfg := newTestRotator(t, ctrl, launcher, &fakeResolver{ips: []string{""}, errs: []error{common.ErrNoAddress}})

	os.Remove(cfg.TunnelConfig)

	if _, err := r.reconnect(context.Background()); err == nil {
		t.Error("reconnect() should fail when the tunnel config is missing")
	}
	if launcher.starts != 0 {
		t.Errorf("launch calls = %d, want 0", launcher.starts)
	}
}

func TestRotator_TerminateReportsSurvivor(t *testing.T) {
	ctrl := &fakeController{running: []bool{true}}
	r, _ := newTestRotator(t, ctrl, &fakeLauncher{}, &fakeResolver{ips: []string{""}, errs: []error{common.ErrNoAddress}})

	err := r.Terminate(context.Background())
	if !errors.Is(err, common.ErrTerminateFailed) {
		t.Errorf("Terminate() error = %v, want ErrTerminateFailed", err)
	}
	if ctrl.stopCalls != 1 {
		t.Errorf("stop broadcasts = %d, want 1", ctrl.stopCalls)
	}
}

func TestRotator_RunCycle_Rotated(t *testing.T) {
	ctrl := &fakeController{}
	launcher := &fakeLauncher{outcomes: []bool{true}}
	resolver := &fakeResolver{ips: []string{"203.0.113.9"}, errs: []error{nil}}
	r, _ := newTestRotator(t, ctrl, launcher, resolver)

	recorder := &fakeRecorder{}
	r.SetHistory(recorder)
	r.SetCurrentIP("198.51.100.1")

	res := r.RunCycle(context.Background())
	if res.Outcome != OutcomeRotated {
		t.Errorf("Outcome = %v, want %v", res.Outcome, OutcomeRotated)
	}
	if res.PreviousIP != "198.51.100.1" || res.NewIP != "203.0.113.9" {
		t.Errorf("IPs = %s -> %s, want 198.51.100.1 -> 203.0.113.9", res.PreviousIP, res.NewIP)
	}
	if r.CurrentIP() != "203.0.113.9" {
		t.Errorf("CurrentIP() = %s, want the verified address", r.CurrentIP())
	}
	if len(recorder.records) != 1 {
		t.Fatalf("recorded cycles = %d, want 1", len(recorder.records))
	}
	if recorder.records[0].ID == "" {
		t.Error("recorded cycle should carry an ID")
	}
}

func TestRotator_RunCycle_UnchangedIsStillSuccess(t *testing.T) {
	ctrl := &fakeController{}
	launcher := &fakeLauncher{outcomes: []bool{true}}
	resolver := &fakeResolver{ips: []string{"198.51.100.1"}, errs: []error{nil}}
	r, _ := newTestRotator(t, ctrl, launcher, resolver)
	r.SetCurrentIP("198.51.100.1")

	res := r.RunCycle(context.Background())
	if res.Outcome != OutcomeUnchanged {
		t.Errorf("Outcome = %v, want %v", res.Outcome, OutcomeUnchanged)
	}
	if res.Error != "" {
		t.Errorf("Error = %q, want empty (unchanged address is not a failure)", res.Error)
	}
}

func TestRotator_RunCycle_VerifyExhausted(t *testing.T) {
	ctrl := &fakeController{}
	launcher := &fakeLauncher{outcomes: []bool{true}}
	resolver := &fakeResolver{ips: []string{""}, errs: []error{common.ErrNoAddress}}
	r, _ := newTestRotator(t, ctrl, launcher, resolver)
	r.SetCurrentIP("198.51.100.1")

	res := r.RunCycle(context.Background())
	if res.Outcome != OutcomeFailed {
		t.Errorf("Outcome = %v, want %v", res.Outcome, OutcomeFailed)
	}
	if resolver.calls != 3 {
		t.Errorf("resolve calls = %d, want 3", resolver.calls)
	}
	if r.CurrentIP() != "198.51.100.1" {
		t.Error("CurrentIP must not change on a failed cycle")
	}
}

func TestRotator_RunCycle_TerminateFailureAbandonsCycle(t *testing.T) {
	ctrl := &fakeController{running: []bool{true}}
	launcher := &fakeLauncher{outcomes: []bool{true}}
	r, _ := newTestRotator(t, ctrl, launcher, &fakeResolver{ips: []string{"203.0.113.9"}, errs: []error{nil}})

	res := r.RunCycle(context.Background())
	if res.Outcome != OutcomeFailed {
		t.Errorf("Outcome = %v, want %v", res.Outcome, OutcomeFailed)
	}
	if launcher.starts != 0 {
		t.Errorf("launch calls = %d, want 0 when terminate fails", launcher.starts)
	}
}

func TestRotator_Run_CancelTriggersOneTeardown(t *testing.T) {
	ctrl := &fakeController{}
	launcher := &fakeLauncher{outcomes: []bool{true, true, true, true}}
	resolver := &fakeResolver{ips: []string{"203.0.113.9"}, errs: []error{nil}}
	r, _ := newTestRotator(t, ctrl, launcher, resolver)
	r.SetCurrentIP("198.51.100.1")

	recorded := make(chan CycleResult, 4)
	r.SetHistory(recorderFunc(func(res CycleResult) error {
		recorded <- res
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Wait for the first cycle to finish, then interrupt the steady-state sleep.
	select {
	case <-recorded:
	case <-time.After(5 * time.Second):
		t.Fatal("first cycle did not complete in time")
	}
	stopsAfterCycle := ctrl.stops()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}

	if got := ctrl.stops() - stopsAfterCycle; got != 1 {
		t.Errorf("teardown stop broadcasts = %d, want exactly 1", got)
	}
}

// recorderFunc adapts a function to the HistoryRecorder interface.
type recorderFunc func(CycleResult) error

func (f recorderFunc) Record(res CycleResult) error { return f(res) }

func TestSleepCtx(t *testing.T) {
	if !sleepCtx(context.Background(), time.Millisecond) {
		t.Error("sleepCtx should return true when the wait elapses")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sleepCtx(ctx, time.Minute) {
		t.Error("sleepCtx should return false on a cancelled context")
	}
}
