package vpn

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yllada/vpn-rotator/common"
	"github.com/yllada/vpn-rotator/config"
)

// AddressResolver resolves the host's current public IPv4 address.
type AddressResolver interface {
	Resolve(ctx context.Context) (string, error)
}

// CycleOutcome classifies a finished rotation cycle.
type CycleOutcome string

const (
	// OutcomeRotated means the cycle succeeded and the exit address changed.
	OutcomeRotated CycleOutcome = "rotated"
	// OutcomeUnchanged means the cycle succeeded but the exit address is
	// the same as before. Not a failure: rotation can legitimately land
	// on the same exit.
	OutcomeUnchanged CycleOutcome = "unchanged"
	// OutcomeFailed means the cycle was abandoned before verification.
	OutcomeFailed CycleOutcome = "failed"
)

// CycleResult describes one rotation cycle for logging and history.
type CycleResult struct {
	ID                string
	StartedAt         time.Time
	FinishedAt        time.Time
	PreviousIP        string
	NewIP             string
	Outcome           CycleOutcome
	Error             string
	ReconnectAttempts int
}

// HistoryRecorder persists finished rotation cycles.
type HistoryRecorder interface {
	Record(res CycleResult) error
}

// Rotator owns the full rotation lifecycle: terminate the existing
// tunnel, launch a new one, verify it initialized, verify the public IP
// changed, sleep, repeat forever. It holds all loop state explicitly;
// there are no ambient globals.
type Rotator struct {
	cfg        *config.Config
	log        *common.AppLogger
	resolver   AddressResolver
	controller ProcessController
	launcher   Launcher
	history    HistoryRecorder

	currentIP string
}

// NewRotator creates a rotator from its collaborators.
func NewRotator(cfg *config.Config, logger *common.AppLogger, resolver AddressResolver, controller ProcessController, launcher Launcher) *Rotator {
	return &Rotator{
		cfg:        cfg,
		log:        logger,
		resolver:   resolver,
		controller: controller,
		launcher:   launcher,
	}
}

// SetHistory attaches an optional history recorder. Recording failures
// are logged, never fatal.
func (r *Rotator) SetHistory(h HistoryRecorder) {
	r.history = h
}

// SetCurrentIP seeds the recorded address, normally with the address
// resolved during startup validation.
func (r *Rotator) SetCurrentIP(ip string) {
	r.currentIP = ip
}

// CurrentIP returns the last address confirmed by the lookup services.
func (r *Rotator) CurrentIP() string {
	return r.currentIP
}

// Run executes rotation cycles until the context is cancelled, then
// performs one bounded teardown of the tunnel. It always returns nil:
// loop-body errors end the current cycle, never the process.
func (r *Rotator) Run(ctx context.Context) error {
	for {
		r.log.Info("Starting reconnection and IP verification process")
		r.RunCycle(ctx)

		if ctx.Err() != nil {
			break
		}

		r.log.Info("Waiting %s before next rotation", r.cfg.CheckInterval.Std())
		if !sleepCtx(ctx, r.cfg.CheckInterval.Std()) {
			break
		}
	}

	r.shutdown()
	return nil
}

// shutdown performs the signal-driven teardown: one bounded terminate
// sequence that must not block indefinitely.
func (r *Rotator) shutdown() {
	r.log.Info("Shutdown requested. Terminating tunnel...")

	ctx, cancel := context.WithTimeout(context.Background(), 2*r.cfg.SettleDelay.Std()+10*time.Second)
	defer cancel()

	if err := r.Terminate(ctx); err != nil {
		r.log.Error("Teardown: %v", err)
	}
	r.log.Info("Rotator stopped")
}

// RunCycle performs a single rotation cycle: terminate, reconnect with
// bounded retries, wait for routing to settle, verify the public IP,
// and compare it with the previously recorded address.
func (r *Rotator) RunCycle(ctx context.Context) CycleResult {
	res := CycleResult{
		ID:         uuid.NewString(),
		StartedAt:  time.Now(),
		PreviousIP: r.currentIP,
	}

	err := r.rotate(ctx, &res)
	res.FinishedAt = time.Now()

	if err != nil {
		if ctx.Err() != nil {
			// Cancelled mid-cycle; the shutdown path owns the teardown.
			res.Outcome = OutcomeFailed
			res.Error = ctx.Err().Error()
			return res
		}
		r.log.Error("Reconnection process failed: %v", err)
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
	}

	r.record(res)
	return res
}

// rotate runs the cycle's state machine, filling res as it goes.
func (r *Rotator) rotate(ctx context.Context, res *CycleResult) error {
	if err := r.Terminate(ctx); err != nil {
		return err
	}

	attempts, err := r.reconnect(ctx)
	res.ReconnectAttempts = attempts
	if err != nil {
		return err
	}

	r.log.Info("Waiting %s before checking new IP...", r.cfg.RecheckDelay.Std())
	if !sleepCtx(ctx, r.cfg.RecheckDelay.Std()) {
		return ctx.Err()
	}

	newIP, err := r.verify(ctx)
	if err != nil {
		return err
	}

	res.NewIP = newIP
	if newIP != r.currentIP && r.currentIP != "" {
		r.log.Info("Success: IP changed from %s to %s", r.currentIP, newIP)
		res.Outcome = OutcomeRotated
	} else if r.currentIP == "" {
		r.log.Info("New IP obtained: %s", newIP)
		res.Outcome = OutcomeRotated
	} else {
		r.log.Warn("IP did not change after reconnection")
		res.Outcome = OutcomeUnchanged
	}

	r.currentIP = newIP
	return nil
}

// Terminate broadcasts a stop to every tunnel instance, waits the
// settle delay, and confirms nothing survived.
func (r *Rotator) Terminate(ctx context.Context) error {
	name := r.cfg.TunnelBinary
	r.log.Info("Terminating existing %s processes...", name)

	if err := r.controller.StopAll(name); err != nil {
		return common.WrapError(err, "stop broadcast failed")
	}

	if !sleepCtx(ctx, r.cfg.SettleDelay.Std()) {
		return ctx.Err()
	}

	running, err := r.controller.AnyRunning(name)
	if err != nil {
		return common.WrapError(err, "process lookup failed")
	}
	if running {
		return common.ErrTerminateFailed
	}

	r.log.Info("%s processes terminated successfully", name)
	return nil
}

// reconnect launches the tunnel with bounded retries. It returns how
// many launch attempts were made. Each failed attempt tears down any
// partially started instance and discards its log before retrying.
func (r *Rotator) reconnect(ctx context.Context) (int, error) {
	if !common.FileExists(r.cfg.TunnelConfig) {
		return 0, fmt.Errorf("config file %s not found", r.cfg.TunnelConfig)
	}

	max := r.cfg.MaxReconnectAttempts
	for attempt := 1; attempt <= max; attempt++ {
		r.log.Info("Attempting to reconnect (attempt %d/%d)", attempt, max)

		// A stale log from an earlier run would satisfy the marker check.
		os.Remove(r.cfg.AttemptLog)

		if err := r.launcher.Start(r.cfg.TunnelConfig, r.cfg.AuthFile, r.cfg.AttemptLog); err != nil {
			r.log.Error("Error during tunnel launch: %v", err)
		} else {
			if !sleepCtx(ctx, r.cfg.WarmupDelay.Std()) {
				return attempt, ctx.Err()
			}

			if r.initCompleted() {
				r.log.Info("Tunnel connected successfully")
				os.Remove(r.cfg.AttemptLog)
				return attempt, nil
			}
			r.log.Error("Tunnel failed to connect properly")
		}

		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}

		if err := r.Terminate(ctx); err != nil {
			r.log.Error("Cleanup after failed attempt: %v", err)
		}
		os.Remove(r.cfg.AttemptLog)

		if attempt < max && !sleepCtx(ctx, r.cfg.RetryCooldown.Std()) {
			return attempt, ctx.Err()
		}
	}

	r.log.Error("Reconnection failed after %d attempts", max)
	return max, common.ErrAttemptsExhausted
}

// initCompleted reports whether the current attempt log contains the
// tunnel client's completion marker.
func (r *Rotator) initCompleted() bool {
	data, err := os.ReadFile(r.cfg.AttemptLog)
	if err != nil {
		return false
	}
	return strings.Contains(string(data), common.InitCompletedMarker)
}

// verify queries the lookup services with bounded retries, succeeding
// on the first validated address.
func (r *Rotator) verify(ctx context.Context) (string, error) {
	max := r.cfg.MaxVerifyAttempts
	for attempt := 1; attempt <= max; attempt++ {
		ip, err := r.resolver.Resolve(ctx)
		if err == nil {
			return ip, nil
		}

		r.log.Warn("Failed to get IP (attempt %d/%d): %v", attempt, max, err)

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if attempt < max && !sleepCtx(ctx, r.cfg.VerifySpacing.Std()) {
			return "", ctx.Err()
		}
	}

	r.log.Error("Failed to get new IP after reconnection")
	return "", common.ErrNoAddress
}

// record persists the cycle when a history recorder is attached.
func (r *Rotator) record(res CycleResult) {
	if r.history == nil {
		return
	}
	if err := r.history.Record(res); err != nil {
		r.log.Error("Failed to record rotation history: %v", err)
	}
}

// sleepCtx waits d unless the context is cancelled first. Returns true
// when the full wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
