// Package ports defines the capability interfaces the Orchestrator
// programs against, so tests can substitute a replay-from-pcap source
// and an in-memory radio simulator (spec.md §9 "Hardware-binding via
// trait/interface").
package ports

import (
	"context"
	"time"

	"github.com/lyra-sec/pocketrecon/internal/core/domain"
)

// MonitorHandle carries the effective interface name after a mode
// switch, which may differ from the requested base interface (e.g. an
// airmon-style rename to "<iface>mon").
type MonitorHandle struct {
	Interface string
}

// ApHandle carries the effective interface name for a soft-AP mode
// switch.
type ApHandle struct {
	Interface string
	SSID      string
}

// RadioController is the sole gateway to the physical radio.
type RadioController interface {
	EnterMonitor(ctx context.Context) (MonitorHandle, error)
	EnterManaged(ctx context.Context) error
	EnterAP(ctx context.Context, ssid, psk string, channel int, hidden bool) (ApHandle, error)
	SetChannel(ctx context.Context, channel int) error
	Info(ctx context.Context) (domain.InterfaceInfo, error)
}

// ChannelHopper schedules channel changes over a fixed set.
type ChannelHopper interface {
	Start(ctx context.Context)
	Stop()
	Pin(ctx context.Context, channel int, duration time.Duration) error
	Resume()
	Current() int
	Hops() uint64
}

// FrameRecord is one yielded (frame-bytes, radiotap-metadata) pair.
type FrameRecord struct {
	Frame []byte
	Meta  domain.RadiotapMeta
}

// FrameSource is a lazy, cancellable, infinite sequence of frame
// records. It is not restartable: once the channel returned by Start
// closes, the
// Orchestrator must construct a new FrameSource after radio recovery.
type FrameSource interface {
	// Start begins reading from the hardware and returns a
	// receive-only channel of records. The channel closes when ctx is
	// cancelled or the underlying interface errors.
	Start(ctx context.Context) (<-chan FrameRecord, <-chan error)
	Close() error
}

// FrameClassifier parses one frame into a typed Event.
type FrameClassifier interface {
	Classify(frame []byte, meta domain.RadiotapMeta) domain.Event
}

// ObservationStore is the single-writer in-memory model of APs,
// stations, and recent probes.
type ObservationStore interface {
	UpsertAP(ev domain.BeaconEvent)
	RecordProbe(ev domain.ProbeEvent)
	RecordData(ev domain.DataEvent)
	APs() []domain.AccessPoint
	Stations() []domain.Station
	RecentProbes(n int) []domain.ProbeRequest
	GetAP(bssid string) (domain.AccessPoint, bool)
}

// HandshakeEngine tracks EAPOL-Key frames for one target and emits
// Handshake artifacts on completeness.
type HandshakeEngine interface {
	SetTarget(bssid, ssid string) error
	ClearTarget()
	OnEapol(ev domain.EapolEvent) *domain.Handshake
	Stats() domain.CaptureSession
	Save(h domain.Handshake) (string, error)
}

// DeauthEmitter produces and injects 802.11 deauthentication frames.
type DeauthEmitter interface {
	Burst(ctx context.Context, bssid, client string, count int, interval time.Duration) (int, error)
	StartContinuous(ctx context.Context, bssid, client string, interval time.Duration) error
	Stop()
}

// Orchestrator is the top-level state machine binding every other
// component together; the external command/query surface addresses it
// exclusively.
type Orchestrator interface {
	SetMode(ctx context.Context, mode domain.Mode) error
	SetTarget(ctx context.Context, bssid, ssid string) error
	StartCapture(ctx context.Context) error
	StopCapture(ctx context.Context) error
	StartScanning(ctx context.Context) error
	ReturnToSetup(ctx context.Context) error
	Deauth(ctx context.Context, bssid, client string) error
	Stop(ctx context.Context) error
	Status(ctx context.Context) domain.OrchestratorStatus
	AccessPoints(ctx context.Context) []domain.AccessPoint
	Stations(ctx context.Context) []domain.Station
	Probes(ctx context.Context, n int) []domain.ProbeRequest
	Handshakes(ctx context.Context) []domain.Handshake
	CaptureSession(ctx context.Context) domain.CaptureSession
}
