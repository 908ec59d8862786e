// Package registry holds the single-writer in-memory model of
// discovered access points, stations, and recent probe requests
// (spec.md §4.5).
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/lyra-sec/pocketrecon/internal/core/domain"
	"github.com/lyra-sec/pocketrecon/internal/core/ports"
)

// defaultProbeCapacity is N_probes, the default ring size.
const defaultProbeCapacity = 10000

// Store implements ports.ObservationStore over plain maps guarded by a
// single RWMutex; there is no sharding since capture throughput on this
// device never approaches contention.
type Store struct {
	mu sync.RWMutex

	aps      map[string]*domain.AccessPoint
	stations map[string]*stationRecord

	probes   []domain.ProbeRequest
	probeCap int
	probeIdx int
}

// New builds an empty Store. probeCap <= 0 falls back to N_probes default.
func New(probeCap int) *Store {
	if probeCap <= 0 {
		probeCap = defaultProbeCapacity
	}
	return &Store{
		aps:      make(map[string]*domain.AccessPoint),
		stations: make(map[string]*stationRecord),
		probeCap: probeCap,
	}
}

// UpsertAP creates or updates the AccessPoint record for ev.BSSID.
func (s *Store) UpsertAP(ev domain.BeaconEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ap, ok := s.aps[ev.BSSID]
	if !ok {
		ap = &domain.AccessPoint{
			BSSID:     ev.BSSID,
			SSID:      ev.SSID,
			Hidden:    ev.Hidden,
			FirstSeen: ev.Timestamp,
		}
		s.aps[ev.BSSID] = ap
	}

	// Never revert a known name back to a hidden placeholder; only a
	// genuinely new, non-hidden SSID replaces a previously hidden one.
	if !ev.Hidden && ap.Hidden {
		ap.SSID = ev.SSID
		ap.Hidden = ev.Hidden
	}

	ap.Channel = ev.Channel
	ap.SignalDBm = ev.SignalDBm
	ap.Security = ev.Security
	ap.LastSeen = ev.Timestamp
	ap.BeaconCount++
}

// RecordProbe appends ev to the probe ring, evicting the oldest entry
// once the ring is full.
func (s *Store) RecordProbe(ev domain.ProbeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := domain.ProbeRequest{
		ClientMAC: ev.ClientMAC,
		SSID:      ev.SSID,
		SignalDBm: ev.SignalDBm,
		Timestamp: ev.Timestamp,
	}

	if len(s.probes) < s.probeCap {
		s.probes = append(s.probes, req)
	} else {
		s.probes[s.probeIdx] = req
		s.probeIdx = (s.probeIdx + 1) % s.probeCap
	}

	st := s.stationLocked(ev.ClientMAC, ev.SignalDBm, ev.Timestamp)
	st.addProbedSSID(ev.SSID)
}

// RecordData updates station/AP association state from a data frame.
func (s *Store) RecordData(ev domain.DataEvent) {
	if ev.ClientMAC == "" || ev.ClientMAC == domain.BroadcastMAC {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stationLocked(ev.ClientMAC, ev.SignalDBm, ev.Timestamp)

	if ev.BSSID != "" && ev.BSSID != domain.BroadcastMAC && st.BSSID != ev.BSSID {
		s.unlinkStation(st.MAC, st.BSSID)
		st.BSSID = ev.BSSID
		s.linkStation(ev.BSSID, st.MAC)
	}
}

// stationLocked returns the Station for mac, creating it if absent.
// Callers must hold s.mu.
func (s *Store) stationLocked(mac string, signalDBm int, now time.Time) *stationRecord {
	st, ok := s.stations[mac]
	if !ok {
		st = &stationRecord{Station: domain.Station{MAC: mac, FirstSeen: now}}
		s.stations[mac] = st
	}
	st.SignalDBm = signalDBm
	st.LastSeen = now
	return st
}

func (s *Store) linkStation(bssid, mac string) {
	ap, ok := s.aps[bssid]
	if !ok {
		return
	}
	for _, existing := range ap.AssociatedStations {
		if existing == mac {
			return
		}
	}
	ap.AssociatedStations = append(ap.AssociatedStations, mac)
}

func (s *Store) unlinkStation(mac, bssid string) {
	ap, ok := s.aps[bssid]
	if !ok {
		return
	}
	out := ap.AssociatedStations[:0]
	for _, existing := range ap.AssociatedStations {
		if existing != mac {
			out = append(out, existing)
		}
	}
	ap.AssociatedStations = out
}

// APs returns a snapshot sorted by signal strength descending, with a
// BSSID-ascending tie-break for deterministic output.
func (s *Store) APs() []domain.AccessPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AccessPoint, 0, len(s.aps))
	for _, ap := range s.aps {
		cp := *ap
		cp.AssociatedStations = append([]string(nil), ap.AssociatedStations...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SignalDBm != out[j].SignalDBm {
			return out[i].SignalDBm > out[j].SignalDBm
		}
		return out[i].BSSID < out[j].BSSID
	})
	return out
}

// Stations returns a snapshot of all known stations.
func (s *Store) Stations() []domain.Station {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Station, 0, len(s.stations))
	for _, st := range s.stations {
		out = append(out, st.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })
	return out
}

// RecentProbes returns up to n of the most recently recorded probes,
// newest first.
func (s *Store) RecentProbes(n int) []domain.ProbeRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := len(s.probes)
	if n <= 0 || n > total {
		n = total
	}
	out := make([]domain.ProbeRequest, 0, n)
	// probes[probeIdx] is the oldest entry once the ring has wrapped;
	// walk backwards from the most recently written slot.
	start := s.probeIdx - 1
	if len(s.probes) < s.probeCap {
		start = len(s.probes) - 1
	}
	for i, idx := 0, start; i < n; i, idx = i+1, idx-1 {
		if idx < 0 {
			idx += len(s.probes)
		}
		out = append(out, s.probes[idx])
	}
	return out
}

// GetAP returns the current record for bssid, if known.
func (s *Store) GetAP(bssid string) (domain.AccessPoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ap, ok := s.aps[bssid]
	if !ok {
		return domain.AccessPoint{}, false
	}
	cp := *ap
	cp.AssociatedStations = append([]string(nil), ap.AssociatedStations...)
	return cp, true
}

// stationRecord wraps domain.Station with a de-duplicated ProbedSSIDs
// set; the domain type carries a plain slice for JSON friendliness.
type stationRecord struct {
	domain.Station
	probedSet map[string]bool
}

func (st *stationRecord) addProbedSSID(ssid string) {
	if ssid == "" {
		return
	}
	if st.probedSet == nil {
		st.probedSet = make(map[string]bool)
		for _, known := range st.ProbedSSIDs {
			st.probedSet[known] = true
		}
	}
	if st.probedSet[ssid] {
		return
	}
	st.probedSet[ssid] = true
	st.ProbedSSIDs = append(st.ProbedSSIDs, ssid)
}

func (st *stationRecord) snapshot() domain.Station {
	cp := st.Station
	cp.ProbedSSIDs = append([]string(nil), st.ProbedSSIDs...)
	return cp
}

var _ ports.ObservationStore = (*Store)(nil)
