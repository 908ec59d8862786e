// Package orchestrator binds the radio, hopper, frame pipeline,
// handshake engine, and deauth emitter behind the single state machine
// spec.md §4.8 describes. It is the only component the external
// command/query surface talks to.
package orchestrator

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lyra-sec/pocketrecon/internal/core/domain"
	"github.com/lyra-sec/pocketrecon/internal/core/ports"
	"github.com/lyra-sec/pocketrecon/internal/telemetry"
)

const (
	defaultDeauthBurstCount = 5
	defaultDeauthInterval   = 100 * time.Millisecond
)

// Config holds the operator-tunable knobs that shape state-machine
// behavior, as distinct from the wired-in port implementations.
type Config struct {
	Mode domain.Mode

	// AutoStop stops a CAPTURING session as soon as the handshake
	// engine reaches SUCCESS (spec.md §4.8).
	AutoStop bool

	// AutoStartOnTarget resolves spec.md §9's Open Question: when true
	// and Mode is capture, set_target auto-starts a capture when the
	// state is SCANNING and the target AP has already been observed
	// (otherwise it only records the target); when false, an explicit
	// start_capture is required either way.
	AutoStartOnTarget bool

	CaptureDeadline time.Duration
	SetupTimeout    time.Duration

	SetupSSID    string
	SetupPSK     string
	SetupChannel int
	SetupHidden  bool
	StartInAP    bool

	DeauthBurstCount int
	DeauthInterval   time.Duration
}

// Orchestrator implements ports.Orchestrator.
type Orchestrator struct {
	cfg        Config
	radio      ports.RadioController
	hopper     ports.ChannelHopper
	classifier ports.FrameClassifier
	store      ports.ObservationStore
	handshake  ports.HandshakeEngine
	deauth     ports.DeauthEmitter
	newSource  func(iface string) ports.FrameSource
	metrics    *telemetry.Metrics

	// transitionMu serializes every state transition; TryLock rejects
	// a concurrent command with Busy instead of queuing it (spec.md §5).
	transitionMu sync.Mutex

	mu          sync.RWMutex
	state       domain.OrchestratorState
	mode        domain.Mode
	startedAt   time.Time
	targetBSSID string
	targetSSID  string

	scanCancel    context.CancelFunc
	captureCancel context.CancelFunc
	setupCancel   context.CancelFunc
	source        ports.FrameSource
	radioFailures int
}

// New wires the Orchestrator over its ports. newSource builds a fresh
// FrameSource bound to iface; it is called once per monitor-mode
// entry, since a FrameSource is not restartable.
func New(
	cfg Config,
	radio ports.RadioController,
	hopper ports.ChannelHopper,
	classifier ports.FrameClassifier,
	store ports.ObservationStore,
	handshakeEngine ports.HandshakeEngine,
	deauthEmitter ports.DeauthEmitter,
	newSource func(iface string) ports.FrameSource,
	metrics *telemetry.Metrics,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		radio:      radio,
		hopper:     hopper,
		classifier: classifier,
		store:      store,
		handshake:  handshakeEngine,
		deauth:     deauthEmitter,
		newSource:  newSource,
		metrics:    metrics,
		state:      domain.StateInitializing,
		mode:       cfg.Mode,
		startedAt:  time.Now(),
	}
}

// Run performs the boot transition: INITIALIZING -> SETUP (if
// configured to start in AP mode) or INITIALIZING -> IDLE otherwise.
// Callers invoke it once at process startup.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.transitionMu.Lock()
	defer o.transitionMu.Unlock()

	if o.cfg.StartInAP {
		return o.enterSetupLocked(ctx)
	}

	if _, err := o.radio.EnterMonitor(ctx); err != nil {
		o.setState(domain.StateError)
		return err
	}
	o.setState(domain.StateIdle)
	return nil
}

// enterSetupLocked brings the radio up as a soft AP and arms the setup
// timeout. Callers must hold transitionMu.
func (o *Orchestrator) enterSetupLocked(ctx context.Context) error {
	ssid := o.cfg.SetupSSID
	if ssid != "" {
		ssid = fmt.Sprintf("%s-%s", ssid, randomSuffix())
	}

	if _, err := o.radio.EnterAP(ctx, ssid, o.cfg.SetupPSK, o.cfg.SetupChannel, o.cfg.SetupHidden); err != nil {
		o.setState(domain.StateError)
		return err
	}
	o.setState(domain.StateSetup)

	setupCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.setupCancel = cancel
	o.mu.Unlock()

	if o.cfg.SetupTimeout > 0 {
		go o.watchSetupTimeout(setupCtx)
	}
	return nil
}

// watchSetupTimeout falls back to scanning once SetupTimeout elapses,
// unless the setup phase ends first via an explicit start_scanning.
func (o *Orchestrator) watchSetupTimeout(ctx context.Context) {
	timer := time.NewTimer(o.cfg.SetupTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	if err := o.StartScanning(context.Background()); err != nil {
		log.Printf("[orchestrator] setup timeout fallback to scanning failed: %v", err)
	}
}

func (o *Orchestrator) cancelSetupTimeout() {
	o.mu.Lock()
	cancel := o.setupCancel
	o.setupCancel = nil
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// startScanningLocked performs the SETUP/IDLE -> SCANNING transition.
// Callers must hold transitionMu.
func (o *Orchestrator) startScanningLocked(ctx context.Context) error {
	o.mu.RLock()
	state := o.state
	o.mu.RUnlock()

	if state != domain.StateSetup && state != domain.StateIdle {
		return fmt.Errorf("cannot start scanning from %s", state)
	}
	if state == domain.StateSetup {
		o.cancelSetupTimeout()
	}

	handle, err := o.radio.EnterMonitor(ctx)
	if err != nil {
		o.setState(domain.StateError)
		return err
	}

	scanCtx, cancel := context.WithCancel(context.Background())
	src := o.newSource(handle.Interface)
	frames, errs := src.Start(scanCtx)

	o.mu.Lock()
	o.scanCancel = cancel
	o.source = src
	o.radioFailures = 0
	o.mu.Unlock()

	go o.hopper.Start(scanCtx)
	go o.runLoop(scanCtx, frames, errs)

	o.setState(domain.StateScanning)
	return nil
}

// runLoop is the single event loop consuming classified frames; it is
// the only writer into the observation store and handshake engine.
func (o *Orchestrator) runLoop(ctx context.Context, frames <-chan ports.FrameRecord, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if ok && err != nil {
				log.Printf("[orchestrator] frame source error: %v", err)
			}
		case rec, ok := <-frames:
			if !ok {
				o.handleSourceLoss(ctx)
				return
			}
			o.dispatch(rec)
		}
	}
}

func (o *Orchestrator) dispatch(rec ports.FrameRecord) {
	ev := o.classifier.Classify(rec.Frame, rec.Meta)
	switch ev.Kind {
	case domain.EventBeacon:
		o.store.UpsertAP(*ev.Beacon)
	case domain.EventProbe:
		o.store.RecordProbe(*ev.Probe)
	case domain.EventData:
		o.store.RecordData(*ev.Data)
	case domain.EventEapol:
		o.handleEapol(*ev.Eapol)
	}
}

func (o *Orchestrator) handleEapol(ev domain.EapolEvent) {
	o.mu.RLock()
	capturing := o.state == domain.StateCapturing
	o.mu.RUnlock()
	if !capturing {
		return
	}

	if h := o.handshake.OnEapol(ev); h != nil && o.cfg.AutoStop {
		o.autoStopCapture()
	}
}

// handleSourceLoss implements the FrameSourceLost recovery policy
// (spec.md §7): one radio re-init is attempted; a second consecutive
// loss is fatal.
func (o *Orchestrator) handleSourceLoss(ctx context.Context) {
	o.mu.Lock()
	o.radioFailures++
	failures := o.radioFailures
	o.mu.Unlock()

	if failures > 1 {
		log.Printf("[orchestrator] frame source lost twice, giving up")
		o.setState(domain.StateError)
		return
	}

	log.Printf("[orchestrator] frame source lost, attempting radio re-init")
	handle, err := o.radio.EnterMonitor(ctx)
	if err != nil {
		o.setState(domain.StateError)
		return
	}

	src := o.newSource(handle.Interface)
	frames, errs := src.Start(ctx)
	o.mu.Lock()
	o.source = src
	o.mu.Unlock()

	o.runLoop(ctx, frames, errs)
}

// teardownScanning cancels the capture deadline (if any), stops the
// hopper and event loop, and closes the frame source. It is used by
// both ReturnToSetup and Stop.
func (o *Orchestrator) teardownScanning() {
	o.mu.Lock()
	scanCancel := o.scanCancel
	captureCancel := o.captureCancel
	src := o.source
	o.scanCancel = nil
	o.captureCancel = nil
	o.source = nil
	o.mu.Unlock()

	if captureCancel != nil {
		captureCancel()
	}
	o.hopper.Stop()
	if scanCancel != nil {
		scanCancel()
	}
	if src != nil {
		_ = src.Close()
	}
	o.handshake.ClearTarget()
}

// startCaptureLocked performs the SCANNING -> CAPTURING transition.
// Callers must hold transitionMu.
func (o *Orchestrator) startCaptureLocked(ctx context.Context) error {
	o.mu.RLock()
	state := o.state
	bssid := o.targetBSSID
	ssid := o.targetSSID
	o.mu.RUnlock()

	if state != domain.StateScanning {
		return fmt.Errorf("cannot start capture from %s", state)
	}
	if bssid == "" {
		return ports.ErrNoTarget
	}

	ap, ok := o.store.GetAP(bssid)
	if !ok {
		return fmt.Errorf("%w: target %s not yet observed", ports.ErrNoTarget, bssid)
	}

	if err := o.hopper.Pin(ctx, ap.Channel, 0); err != nil {
		return err
	}
	if err := o.handshake.SetTarget(bssid, ssid); err != nil {
		o.hopper.Resume()
		return err
	}

	deadline := o.cfg.CaptureDeadline
	if deadline <= 0 {
		deadline = time.Hour
	}
	captureCtx, cancel := context.WithTimeout(context.Background(), deadline)

	o.mu.Lock()
	o.captureCancel = cancel
	o.mu.Unlock()

	o.setState(domain.StateCapturing)
	go o.watchCaptureDeadline(captureCtx)
	return nil
}

func (o *Orchestrator) watchCaptureDeadline(ctx context.Context) {
	<-ctx.Done()
	if ctx.Err() == context.DeadlineExceeded {
		o.timeoutCapture()
	}
}

// timeoutCapture performs the CAPTURING -> SCANNING transition on
// capture-deadline expiry (spec.md §8 scenario 6).
func (o *Orchestrator) timeoutCapture() {
	o.transitionMu.Lock()
	defer o.transitionMu.Unlock()

	o.mu.RLock()
	state := o.state
	o.mu.RUnlock()
	if state != domain.StateCapturing {
		return
	}

	if d, ok := o.handshake.(interface{ Timeout() }); ok {
		d.Timeout()
	}
	o.handshake.ClearTarget()
	o.hopper.Resume()
	o.setState(domain.StateScanning)
}

// autoStopCapture performs the CAPTURING -> SCANNING transition on
// handshake success, gated by cfg.AutoStop.
func (o *Orchestrator) autoStopCapture() {
	o.transitionMu.Lock()
	defer o.transitionMu.Unlock()
	_ = o.stopCaptureLocked()
}

// stopCaptureLocked performs the CAPTURING -> SCANNING transition.
// Callers must hold transitionMu.
func (o *Orchestrator) stopCaptureLocked() error {
	o.mu.RLock()
	state := o.state
	cancel := o.captureCancel
	o.mu.RUnlock()

	if state != domain.StateCapturing {
		return fmt.Errorf("no capture in progress")
	}
	if cancel != nil {
		cancel()
	}

	o.handshake.ClearTarget()
	o.hopper.Resume()
	o.setState(domain.StateScanning)
	return nil
}

func (o *Orchestrator) setState(s domain.OrchestratorState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// randomSuffix generates the 4-hex-character SETUP SSID suffix
// (spec.md §6). Overridable in tests for deterministic assertions.
var randomSuffix = func() string {
	b := make([]byte, 2)
	if _, err := rand.Read(b); err != nil {
		return "0000"
	}
	return fmt.Sprintf("%04x", b)
}

var _ ports.Orchestrator = (*Orchestrator)(nil)
