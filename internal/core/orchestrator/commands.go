package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lyra-sec/pocketrecon/internal/core/domain"
	"github.com/lyra-sec/pocketrecon/internal/core/ports"
)

// SetMode updates the autonomy gate (spec.md §4.8). It never itself
// transitions the state machine.
func (o *Orchestrator) SetMode(ctx context.Context, mode domain.Mode) error {
	switch mode {
	case domain.ModePassive, domain.ModeCapture, domain.ModeDrop:
	default:
		return ports.ErrInvalidMode
	}

	o.mu.Lock()
	o.mode = mode
	o.mu.Unlock()
	return nil
}

// SetTarget remembers bssid/ssid for a subsequent StartCapture. In
// passive mode it is a no-op (spec.md §4.8: "ignores set_target"). In
// capture mode, if AutoStartOnTarget is set and the target AP has
// already been observed, it starts the capture immediately.
func (o *Orchestrator) SetTarget(ctx context.Context, bssid, ssid string) error {
	o.mu.RLock()
	mode := o.mode
	o.mu.RUnlock()
	if mode == domain.ModePassive {
		return nil
	}

	if !o.transitionMu.TryLock() {
		return ports.ErrBusy
	}
	defer o.transitionMu.Unlock()

	bssid = strings.ToLower(bssid)

	o.mu.Lock()
	o.targetBSSID = bssid
	o.targetSSID = ssid
	state := o.state
	o.mu.Unlock()

	if mode == domain.ModeCapture && o.cfg.AutoStartOnTarget && state == domain.StateScanning {
		if _, seen := o.store.GetAP(bssid); seen {
			return o.startCaptureLocked(ctx)
		}
	}
	return nil
}

// StartCapture performs the SCANNING -> CAPTURING transition.
func (o *Orchestrator) StartCapture(ctx context.Context) error {
	if !o.transitionMu.TryLock() {
		return ports.ErrBusy
	}
	defer o.transitionMu.Unlock()
	return o.startCaptureLocked(ctx)
}

// StopCapture performs the CAPTURING -> SCANNING transition on
// operator request.
func (o *Orchestrator) StopCapture(ctx context.Context) error {
	if !o.transitionMu.TryLock() {
		return ports.ErrBusy
	}
	defer o.transitionMu.Unlock()
	return o.stopCaptureLocked()
}

// StartScanning performs the SETUP/IDLE -> SCANNING transition.
func (o *Orchestrator) StartScanning(ctx context.Context) error {
	if !o.transitionMu.TryLock() {
		return ports.ErrBusy
	}
	defer o.transitionMu.Unlock()
	return o.startScanningLocked(ctx)
}

// ReturnToSetup tears down any operational state and re-enters SETUP.
func (o *Orchestrator) ReturnToSetup(ctx context.Context) error {
	if !o.transitionMu.TryLock() {
		return ports.ErrBusy
	}
	defer o.transitionMu.Unlock()

	o.mu.RLock()
	state := o.state
	o.mu.RUnlock()
	if state == domain.StateStopped || state == domain.StateError {
		return fmt.Errorf("cannot return to setup from %s", state)
	}

	o.teardownScanning()

	if err := o.radio.EnterManaged(ctx); err != nil {
		o.setState(domain.StateError)
		return err
	}
	return o.enterSetupLocked(ctx)
}

// Stop performs a graceful teardown to STOPPED from any state.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if !o.transitionMu.TryLock() {
		return ports.ErrBusy
	}
	defer o.transitionMu.Unlock()

	o.cancelSetupTimeout()
	o.teardownScanning()
	o.deauth.Stop()
	o.setState(domain.StateStopped)
	return nil
}

// Deauth sends one burst against bssid/client using the configured
// burst size and inter-frame interval.
func (o *Orchestrator) Deauth(ctx context.Context, bssid, client string) error {
	count := o.cfg.DeauthBurstCount
	if count <= 0 {
		count = defaultDeauthBurstCount
	}
	interval := o.cfg.DeauthInterval
	if interval <= 0 {
		interval = defaultDeauthInterval
	}
	_, err := o.deauth.Burst(ctx, bssid, client, count, interval)
	return err
}

// Status returns an immutable snapshot of the orchestrator's public
// state, per spec.md §6's status payload shape.
func (o *Orchestrator) Status(ctx context.Context) domain.OrchestratorStatus {
	o.mu.RLock()
	state := o.state
	mode := o.mode
	started := o.startedAt
	targetBSSID := o.targetBSSID
	targetSSID := o.targetSSID
	o.mu.RUnlock()

	session := o.handshake.Stats()

	return domain.OrchestratorStatus{
		State:          state,
		Mode:           mode,
		UptimeSeconds:  time.Since(started).Seconds(),
		APCount:        len(o.store.APs()),
		ClientCount:    len(o.store.Stations()),
		ProbeCount:     len(o.store.RecentProbes(0)),
		HandshakeCount: len(session.Handshakes),
		// No battery sensor is modeled on this hardware target; a real
		// deployment wires this from a platform-specific gauge.
		BatteryPercent: 100,
		TargetSSID:     targetSSID,
		TargetBSSID:    targetBSSID,
	}
}

// AccessPoints returns the current observation-store snapshot.
func (o *Orchestrator) AccessPoints(ctx context.Context) []domain.AccessPoint {
	return o.store.APs()
}

// Stations returns the current observation-store snapshot.
func (o *Orchestrator) Stations(ctx context.Context) []domain.Station {
	return o.store.Stations()
}

// Probes returns up to n of the most recently observed probe requests.
func (o *Orchestrator) Probes(ctx context.Context, n int) []domain.ProbeRequest {
	return o.store.RecentProbes(n)
}

// Handshakes returns every handshake artifact captured in the current
// session.
func (o *Orchestrator) Handshakes(ctx context.Context) []domain.Handshake {
	return o.handshake.Stats().Handshakes
}

// CaptureSession returns the handshake engine's current session record,
// including the session ID its handshakes and pcap artifacts are filed
// under.
func (o *Orchestrator) CaptureSession(ctx context.Context) domain.CaptureSession {
	return o.handshake.Stats()
}
