// Package handshake tracks EAPOL-Key frames for a single targeted
// capture and detects 4-way handshake and PMKID completeness
// (spec.md §4.6).
package handshake

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lyra-sec/pocketrecon/internal/core/domain"
	"github.com/lyra-sec/pocketrecon/internal/core/ports"
	"github.com/lyra-sec/pocketrecon/internal/telemetry"
)

// Tracker implements ports.HandshakeEngine. It accepts EAPOL events for
// one target at a time; switching targets discards prior per-client
// state.
type Tracker struct {
	mu      sync.Mutex
	baseDir string
	metrics *telemetry.Metrics

	session domain.CaptureSession
	active  bool

	// captures[clientMAC][msgNum] holds the last frame seen for that
	// message number; retransmissions overwrite in place.
	captures map[string]map[int][]byte
	emitted  map[string]bool
}

// New builds a Tracker that writes completed captures under baseDir.
// metrics may be nil in tests.
func New(baseDir string, metrics *telemetry.Metrics) *Tracker {
	return &Tracker{
		baseDir:  baseDir,
		metrics:  metrics,
		session:  domain.CaptureSession{State: domain.CaptureIdle},
		captures: make(map[string]map[int][]byte),
		emitted:  make(map[string]bool),
	}
}

// SetTarget arms the tracker for bssid/ssid and transitions IDLE -> WAITING.
func (t *Tracker) SetTarget(bssid, ssid string) error {
	if bssid == "" {
		return fmt.Errorf("%w: empty bssid", ports.ErrNoTarget)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.captures = make(map[string]map[int][]byte)
	t.emitted = make(map[string]bool)
	t.active = true
	t.session = domain.CaptureSession{
		ID:          uuid.NewString(),
		TargetBSSID: strings.ToLower(bssid),
		TargetSSID:  ssid,
		StartTime:   time.Now(),
		State:       domain.CaptureWaiting,
	}
	return nil
}

// ClearTarget returns the tracker to IDLE and drops per-client state.
func (t *Tracker) ClearTarget() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active = false
	t.captures = make(map[string]map[int][]byte)
	t.emitted = make(map[string]bool)
	now := time.Now()
	t.session.EndTime = &now
	t.session.State = domain.CaptureIdle
}

// Timeout transitions an active, incomplete session to TIMEOUT. It is
// not part of ports.HandshakeEngine; the orchestrator calls it directly
// against the deadline configured for the capture.
func (t *Tracker) Timeout() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active {
		return
	}
	if t.session.State == domain.CaptureWaiting || t.session.State == domain.CaptureCapturing {
		now := time.Now()
		t.session.EndTime = &now
		t.session.State = domain.CaptureTimeout
	}
}

// OnEapol accepts ev if it matches the current target (case-insensitive
// bssid comparison); otherwise it is silently dropped. It returns a
// non-nil Handshake exactly once per client, on the frame that first
// completes {1,2} or {2,3}.
func (t *Tracker) OnEapol(ev domain.EapolEvent) *domain.Handshake {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active || !strings.EqualFold(ev.BSSID, t.session.TargetBSSID) {
		return nil
	}

	if t.session.State == domain.CaptureWaiting {
		t.session.State = domain.CaptureCapturing
	}
	t.session.EapolCount++

	client := ev.ClientMAC
	msgs, ok := t.captures[client]
	if !ok {
		msgs = make(map[int][]byte)
		t.captures[client] = msgs
	}
	if ev.MsgNum > 0 {
		msgs[ev.MsgNum] = ev.Raw
	}

	if pmkid := findPMKID(keyData(ev.Raw)); pmkid != nil && !t.emitted[client] {
		h := t.emit(client, domain.HandshakeKindPMKID, []int{ev.MsgNum}, [][]byte{ev.Raw})
		return h
	}

	if t.emitted[client] || !complete(msgs) {
		return nil
	}

	nums, frames := orderedFrames(msgs)
	return t.emit(client, domain.HandshakeKind4Way, nums, frames)
}

// complete implements spec.md §4.6's {1,2} ⊆ keys ∨ {2,3} ⊆ keys rule.
func complete(msgs map[int][]byte) bool {
	_, m1 := msgs[1]
	_, m2 := msgs[2]
	_, m3 := msgs[3]
	return (m1 && m2) || (m2 && m3)
}

func orderedFrames(msgs map[int][]byte) ([]int, [][]byte) {
	var nums []int
	for n := 1; n <= 4; n++ {
		if _, ok := msgs[n]; ok {
			nums = append(nums, n)
		}
	}
	frames := make([][]byte, 0, len(nums))
	for _, n := range nums {
		frames = append(frames, msgs[n])
	}
	return nums, frames
}

// emit marks client as having produced a Handshake, appends it to the
// session record, and attempts the pcap write. Callers must hold t.mu.
func (t *Tracker) emit(client string, kind domain.HandshakeKind, msgs []int, frames [][]byte) *domain.Handshake {
	t.emitted[client] = true
	if t.session.State == domain.CaptureCapturing {
		t.session.State = domain.CaptureSuccess
	}

	h := domain.Handshake{
		BSSID:      t.session.TargetBSSID,
		SSID:       t.session.TargetSSID,
		ClientMAC:  client,
		Kind:       kind,
		Messages:   msgs,
		Frames:     frames,
		CapturedAt: time.Now(),
	}

	if path, err := writePcap(t.baseDir, h.SSID, h.BSSID, h.Frames, h.CapturedAt); err == nil {
		h.PcapPath = path
	} else if t.metrics != nil {
		t.metrics.PersistenceErrors.Inc()
	}

	t.session.Handshakes = append(t.session.Handshakes, h)
	if t.metrics != nil {
		t.metrics.HandshakesCaptured.WithLabelValues(string(kind)).Inc()
	}

	return &h
}

// Stats returns a snapshot of the current capture session.
func (t *Tracker) Stats() domain.CaptureSession {
	t.mu.Lock()
	defer t.mu.Unlock()

	cp := t.session
	cp.Handshakes = append([]domain.Handshake(nil), t.session.Handshakes...)
	return cp
}

// Save re-persists h under the tracker's configured directory,
// returning the resulting path.
func (t *Tracker) Save(h domain.Handshake) (string, error) {
	return writePcap(t.baseDir, h.SSID, h.BSSID, h.Frames, h.CapturedAt)
}

var _ ports.HandshakeEngine = (*Tracker)(nil)
