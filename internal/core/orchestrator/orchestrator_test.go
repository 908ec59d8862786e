package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyra-sec/pocketrecon/internal/core/domain"
	"github.com/lyra-sec/pocketrecon/internal/core/ports"
)

// fakeRadio records mode-switch calls.
type fakeRadio struct {
	mu           sync.Mutex
	monitorCalls int
	managedCalls int
	apCalls      int
	failMonitor  bool
}

func (f *fakeRadio) EnterMonitor(ctx context.Context) (ports.MonitorHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.monitorCalls++
	if f.failMonitor {
		return ports.MonitorHandle{}, errors.New("monitor mode unavailable")
	}
	return ports.MonitorHandle{Interface: "wlan0mon"}, nil
}

func (f *fakeRadio) EnterManaged(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.managedCalls++
	return nil
}

func (f *fakeRadio) EnterAP(ctx context.Context, ssid, psk string, channel int, hidden bool) (ports.ApHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apCalls++
	return ports.ApHandle{Interface: "wlan0", SSID: ssid}, nil
}

func (f *fakeRadio) SetChannel(ctx context.Context, channel int) error { return nil }

func (f *fakeRadio) Info(ctx context.Context) (domain.InterfaceInfo, error) {
	return domain.InterfaceInfo{}, nil
}

// fakeHopper records pin/resume calls and blocks Start until ctx ends.
type fakeHopper struct {
	mu          sync.Mutex
	pins        []int
	resumeCount int
	stopped     bool
	pinDelay    time.Duration
}

func (f *fakeHopper) Start(ctx context.Context) { <-ctx.Done() }
func (f *fakeHopper) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeHopper) Pin(ctx context.Context, channel int, duration time.Duration) error {
	if f.pinDelay > 0 {
		time.Sleep(f.pinDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pins = append(f.pins, channel)
	return nil
}

func (f *fakeHopper) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumeCount++
}

func (f *fakeHopper) Current() int { return 0 }
func (f *fakeHopper) Hops() uint64 { return 0 }

func (f *fakeHopper) snapshot() ([]int, int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pins := append([]int(nil), f.pins...)
	return pins, f.resumeCount, f.stopped
}

// fakeClassifier delegates to an injectable function.
type fakeClassifier struct {
	classify func(frame []byte, meta domain.RadiotapMeta) domain.Event
}

func (f *fakeClassifier) Classify(frame []byte, meta domain.RadiotapMeta) domain.Event {
	return f.classify(frame, meta)
}

// fakeStore is a minimal ObservationStore that notifies on every write.
type fakeStore struct {
	mu     sync.Mutex
	aps    map[string]domain.AccessPoint
	notify chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{aps: make(map[string]domain.AccessPoint), notify: make(chan struct{}, 16)}
}

func (s *fakeStore) UpsertAP(ev domain.BeaconEvent) {
	s.mu.Lock()
	s.aps[ev.BSSID] = domain.AccessPoint{BSSID: ev.BSSID, SSID: ev.SSID, Channel: ev.Channel}
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *fakeStore) RecordProbe(ev domain.ProbeEvent) {}
func (s *fakeStore) RecordData(ev domain.DataEvent)   {}

func (s *fakeStore) APs() []domain.AccessPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AccessPoint, 0, len(s.aps))
	for _, ap := range s.aps {
		out = append(out, ap)
	}
	return out
}

func (s *fakeStore) Stations() []domain.Station                    { return nil }
func (s *fakeStore) RecentProbes(n int) []domain.ProbeRequest       { return nil }
func (s *fakeStore) GetAP(bssid string) (domain.AccessPoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ap, ok := s.aps[bssid]
	return ap, ok
}

// fakeHandshake implements ports.HandshakeEngine plus the unexported
// Timeout() hook the orchestrator probes for via type assertion.
type fakeHandshake struct {
	mu         sync.Mutex
	bssid      string
	ssid       string
	cleared    bool
	timedOut   bool
	nextResult *domain.Handshake
}

func (f *fakeHandshake) SetTarget(bssid, ssid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bssid, f.ssid = bssid, ssid
	f.cleared = false
	return nil
}

func (f *fakeHandshake) ClearTarget() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = true
}

func (f *fakeHandshake) Timeout() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timedOut = true
}

func (f *fakeHandshake) OnEapol(ev domain.EapolEvent) *domain.Handshake {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextResult
}

func (f *fakeHandshake) Stats() domain.CaptureSession { return domain.CaptureSession{} }
func (f *fakeHandshake) Save(h domain.Handshake) (string, error) { return "", nil }

func (f *fakeHandshake) snapshot() (bssid, ssid string, cleared, timedOut bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bssid, f.ssid, f.cleared, f.timedOut
}

// fakeDeauth records burst calls.
type fakeDeauth struct {
	mu      sync.Mutex
	bursts  int
	stopped bool
}

func (f *fakeDeauth) Burst(ctx context.Context, bssid, client string, count int, interval time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bursts++
	return count, nil
}

func (f *fakeDeauth) StartContinuous(ctx context.Context, bssid, client string, interval time.Duration) error {
	return nil
}

func (f *fakeDeauth) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

// fakeSource is a manually-driven ports.FrameSource.
type fakeSource struct {
	frames chan ports.FrameRecord
	errs   chan error
}

func newFakeSource() *fakeSource {
	return &fakeSource{frames: make(chan ports.FrameRecord, 16), errs: make(chan error, 1)}
}

func (s *fakeSource) Start(ctx context.Context) (<-chan ports.FrameRecord, <-chan error) {
	return s.frames, s.errs
}

func (s *fakeSource) Close() error { return nil }

func waitFor(t *testing.T, cond func() bool, timeout time.Duration, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

type harness struct {
	radio      *fakeRadio
	hopper     *fakeHopper
	classifier *fakeClassifier
	store      *fakeStore
	handshake  *fakeHandshake
	deauth     *fakeDeauth
	source     *fakeSource
	orc        *Orchestrator
}

func newHarness(cfg Config) *harness {
	h := &harness{
		radio:     &fakeRadio{},
		hopper:    &fakeHopper{},
		store:     newFakeStore(),
		handshake: &fakeHandshake{},
		deauth:    &fakeDeauth{},
		source:    newFakeSource(),
	}
	h.classifier = &fakeClassifier{classify: func(frame []byte, meta domain.RadiotapMeta) domain.Event {
		return domain.Event{Kind: domain.EventIgnore}
	}}
	h.orc = New(cfg, h.radio, h.hopper, h.classifier, h.store, h.handshake, h.deauth,
		func(iface string) ports.FrameSource { return h.source }, nil)
	return h
}

func TestRunEntersIdleWhenNoAPRequested(t *testing.T) {
	h := newHarness(Config{Mode: domain.ModePassive})
	require.NoError(t, h.orc.Run(context.Background()))

	status := h.orc.Status(context.Background())
	assert.Equal(t, domain.StateIdle, status.State)
	assert.Equal(t, 1, h.radio.monitorCalls)
}

func TestRunEntersSetupWhenAPRequested(t *testing.T) {
	h := newHarness(Config{Mode: domain.ModePassive, StartInAP: true, SetupSSID: "pocketrecon-setup"})
	require.NoError(t, h.orc.Run(context.Background()))

	status := h.orc.Status(context.Background())
	assert.Equal(t, domain.StateSetup, status.State)
	assert.Equal(t, 1, h.radio.apCalls)
}

func TestStartScanningClassifiesFrames(t *testing.T) {
	h := newHarness(Config{Mode: domain.ModePassive})
	h.classifier.classify = func(frame []byte, meta domain.RadiotapMeta) domain.Event {
		return domain.Event{Kind: domain.EventBeacon, Beacon: &domain.BeaconEvent{BSSID: "aa:bb:cc:dd:ee:01", SSID: "HomeNet", Channel: 6}}
	}

	require.NoError(t, h.orc.Run(context.Background()))
	require.NoError(t, h.orc.StartScanning(context.Background()))
	assert.Equal(t, domain.StateScanning, h.orc.Status(context.Background()).State)

	h.source.frames <- ports.FrameRecord{Frame: []byte{0x01}}

	select {
	case <-h.store.notify:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for beacon to reach the observation store")
	}

	aps := h.store.APs()
	require.Len(t, aps, 1)
	assert.Equal(t, "HomeNet", aps[0].SSID)

	require.NoError(t, h.orc.Stop(context.Background()))
}

func TestSetTargetIgnoredInPassiveMode(t *testing.T) {
	h := newHarness(Config{Mode: domain.ModePassive})
	require.NoError(t, h.orc.Run(context.Background()))
	require.NoError(t, h.orc.StartScanning(context.Background()))

	require.NoError(t, h.orc.SetTarget(context.Background(), "aa:bb:cc:dd:ee:01", "HomeNet"))
	err := h.orc.StartCapture(context.Background())
	assert.ErrorIs(t, err, ports.ErrNoTarget)

	require.NoError(t, h.orc.Stop(context.Background()))
}

func TestStartCaptureWithoutTargetErrors(t *testing.T) {
	h := newHarness(Config{Mode: domain.ModeCapture, CaptureDeadline: time.Hour})
	require.NoError(t, h.orc.Run(context.Background()))
	require.NoError(t, h.orc.StartScanning(context.Background()))

	err := h.orc.StartCapture(context.Background())
	assert.ErrorIs(t, err, ports.ErrNoTarget)

	require.NoError(t, h.orc.Stop(context.Background()))
}

func TestStartCaptureUnknownAPErrors(t *testing.T) {
	h := newHarness(Config{Mode: domain.ModeCapture, CaptureDeadline: time.Hour})
	require.NoError(t, h.orc.Run(context.Background()))
	require.NoError(t, h.orc.StartScanning(context.Background()))

	require.NoError(t, h.orc.SetTarget(context.Background(), "aa:bb:cc:dd:ee:99", "Ghost"))
	err := h.orc.StartCapture(context.Background())
	assert.ErrorIs(t, err, ports.ErrNoTarget)

	require.NoError(t, h.orc.Stop(context.Background()))
}

func TestStartCapturePinsChannelAndArmsEngine(t *testing.T) {
	h := newHarness(Config{Mode: domain.ModeCapture, CaptureDeadline: time.Hour})
	require.NoError(t, h.orc.Run(context.Background()))
	require.NoError(t, h.orc.StartScanning(context.Background()))
	h.store.UpsertAP(domain.BeaconEvent{BSSID: "aa:bb:cc:dd:ee:01", SSID: "HomeNet", Channel: 6})
	<-h.store.notify

	require.NoError(t, h.orc.SetTarget(context.Background(), "aa:bb:cc:dd:ee:01", "HomeNet"))
	require.NoError(t, h.orc.StartCapture(context.Background()))

	assert.Equal(t, domain.StateCapturing, h.orc.Status(context.Background()).State)
	pins, _, _ := h.hopper.snapshot()
	assert.Equal(t, []int{6}, pins)
	bssid, ssid, cleared, _ := h.handshake.snapshot()
	assert.Equal(t, "aa:bb:cc:dd:ee:01", bssid)
	assert.Equal(t, "HomeNet", ssid)
	assert.False(t, cleared)

	require.NoError(t, h.orc.Stop(context.Background()))
}

func TestSetTargetAutoStartsCaptureWhenConfigured(t *testing.T) {
	h := newHarness(Config{Mode: domain.ModeCapture, AutoStartOnTarget: true, CaptureDeadline: time.Hour})
	require.NoError(t, h.orc.Run(context.Background()))
	require.NoError(t, h.orc.StartScanning(context.Background()))
	h.store.UpsertAP(domain.BeaconEvent{BSSID: "aa:bb:cc:dd:ee:01", SSID: "HomeNet", Channel: 6})
	<-h.store.notify

	require.NoError(t, h.orc.SetTarget(context.Background(), "aa:bb:cc:dd:ee:01", "HomeNet"))

	assert.Equal(t, domain.StateCapturing, h.orc.Status(context.Background()).State)

	require.NoError(t, h.orc.Stop(context.Background()))
}

func TestStopCaptureResumesHopperAndReturnsToScanning(t *testing.T) {
	h := newHarness(Config{Mode: domain.ModeCapture, CaptureDeadline: time.Hour})
	require.NoError(t, h.orc.Run(context.Background()))
	require.NoError(t, h.orc.StartScanning(context.Background()))
	h.store.UpsertAP(domain.BeaconEvent{BSSID: "aa:bb:cc:dd:ee:01", SSID: "HomeNet", Channel: 6})
	<-h.store.notify
	require.NoError(t, h.orc.SetTarget(context.Background(), "aa:bb:cc:dd:ee:01", "HomeNet"))
	require.NoError(t, h.orc.StartCapture(context.Background()))

	require.NoError(t, h.orc.StopCapture(context.Background()))

	assert.Equal(t, domain.StateScanning, h.orc.Status(context.Background()).State)
	_, resumes, _ := h.hopper.snapshot()
	assert.Equal(t, 1, resumes)
	_, _, cleared, _ := h.handshake.snapshot()
	assert.True(t, cleared)

	require.NoError(t, h.orc.Stop(context.Background()))
}

func TestAutoStopOnHandshakeSuccess(t *testing.T) {
	h := newHarness(Config{Mode: domain.ModeCapture, AutoStop: true, CaptureDeadline: time.Hour})
	h.classifier.classify = func(frame []byte, meta domain.RadiotapMeta) domain.Event {
		return domain.Event{Kind: domain.EventEapol, Eapol: &domain.EapolEvent{BSSID: "aa:bb:cc:dd:ee:01", ClientMAC: "11:22:33:44:55:66"}}
	}
	h.handshake.nextResult = &domain.Handshake{BSSID: "aa:bb:cc:dd:ee:01", ClientMAC: "11:22:33:44:55:66"}

	require.NoError(t, h.orc.Run(context.Background()))
	require.NoError(t, h.orc.StartScanning(context.Background()))
	h.store.UpsertAP(domain.BeaconEvent{BSSID: "aa:bb:cc:dd:ee:01", SSID: "HomeNet", Channel: 6})
	<-h.store.notify
	require.NoError(t, h.orc.SetTarget(context.Background(), "aa:bb:cc:dd:ee:01", "HomeNet"))
	require.NoError(t, h.orc.StartCapture(context.Background()))

	h.source.frames <- ports.FrameRecord{Frame: []byte{0x01}}

	waitFor(t, func() bool {
		return h.orc.Status(context.Background()).State == domain.StateScanning
	}, time.Second, "orchestrator never auto-stopped back to SCANNING")

	_, resumes, _ := h.hopper.snapshot()
	assert.Equal(t, 1, resumes)

	require.NoError(t, h.orc.Stop(context.Background()))
}

func TestCaptureTimeoutReturnsToScanning(t *testing.T) {
	h := newHarness(Config{Mode: domain.ModeCapture, CaptureDeadline: 10 * time.Millisecond})
	require.NoError(t, h.orc.Run(context.Background()))
	require.NoError(t, h.orc.StartScanning(context.Background()))
	h.store.UpsertAP(domain.BeaconEvent{BSSID: "aa:bb:cc:dd:ee:01", SSID: "HomeNet", Channel: 6})
	<-h.store.notify
	require.NoError(t, h.orc.SetTarget(context.Background(), "aa:bb:cc:dd:ee:01", "HomeNet"))
	require.NoError(t, h.orc.StartCapture(context.Background()))

	waitFor(t, func() bool {
		return h.orc.Status(context.Background()).State == domain.StateScanning
	}, time.Second, "capture never timed out back to SCANNING")

	_, _, _, timedOut := h.handshake.snapshot()
	assert.True(t, timedOut)

	require.NoError(t, h.orc.Stop(context.Background()))
}

func TestConcurrentTransitionRejectedWithBusy(t *testing.T) {
	h := newHarness(Config{Mode: domain.ModeCapture, CaptureDeadline: time.Hour})
	h.hopper.pinDelay = 50 * time.Millisecond
	require.NoError(t, h.orc.Run(context.Background()))
	require.NoError(t, h.orc.StartScanning(context.Background()))
	h.store.UpsertAP(domain.BeaconEvent{BSSID: "aa:bb:cc:dd:ee:01", SSID: "HomeNet", Channel: 6})
	<-h.store.notify
	require.NoError(t, h.orc.SetTarget(context.Background(), "aa:bb:cc:dd:ee:01", "HomeNet"))

	go func() { _ = h.orc.StartCapture(context.Background()) }()
	time.Sleep(5 * time.Millisecond)

	err := h.orc.StopCapture(context.Background())
	assert.ErrorIs(t, err, ports.ErrBusy)

	waitFor(t, func() bool {
		return h.orc.Status(context.Background()).State == domain.StateCapturing
	}, time.Second, "capture never started after the busy window")

	require.NoError(t, h.orc.Stop(context.Background()))
}

func TestSetModeRejectsUnknownMode(t *testing.T) {
	h := newHarness(Config{Mode: domain.ModePassive})
	err := h.orc.SetMode(context.Background(), domain.Mode("bogus"))
	assert.ErrorIs(t, err, ports.ErrInvalidMode)
}

func TestReturnToSetupTeardownAndReenters(t *testing.T) {
	h := newHarness(Config{Mode: domain.ModePassive, SetupSSID: "pocketrecon-setup"})
	require.NoError(t, h.orc.Run(context.Background()))
	require.NoError(t, h.orc.StartScanning(context.Background()))

	require.NoError(t, h.orc.ReturnToSetup(context.Background()))

	assert.Equal(t, domain.StateSetup, h.orc.Status(context.Background()).State)
	assert.Equal(t, 1, h.radio.managedCalls)
	assert.Equal(t, 1, h.radio.apCalls)
	_, _, stopped := h.hopper.snapshot()
	assert.True(t, stopped)
}

func TestDeauthDelegatesToEmitter(t *testing.T) {
	h := newHarness(Config{Mode: domain.ModePassive})
	require.NoError(t, h.orc.Deauth(context.Background(), "aa:bb:cc:dd:ee:01", "11:22:33:44:55:66"))
	h.deauth.mu.Lock()
	defer h.deauth.mu.Unlock()
	assert.Equal(t, 1, h.deauth.bursts)
}
