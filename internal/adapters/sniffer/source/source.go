// Package source bridges a live pcap handle into the bounded,
// cancellable frame channel the rest of the pipeline consumes.
package source

import (
	"context"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/lyra-sec/pocketrecon/internal/core/domain"
	"github.com/lyra-sec/pocketrecon/internal/core/ports"
	"github.com/lyra-sec/pocketrecon/internal/telemetry"
)

// Source implements ports.FrameSource over a pcap live handle on a
// monitor-mode interface. It is not restartable: once its output
// channels close, callers must construct a new Source.
type Source struct {
	iface    string
	snaplen  int32
	capacity int
	metrics  *telemetry.Metrics

	handle *pcap.Handle
}

// New builds a Source for the given monitor interface. capacity bounds
// the frame channel (spec.md §5, default 1024).
func New(iface string, capacity int, metrics *telemetry.Metrics) *Source {
	return &Source{
		iface:    iface,
		snaplen:  65536,
		capacity: capacity,
		metrics:  metrics,
	}
}

// Start opens the live capture handle and launches the reader
// goroutine. The returned frame channel is bounded at capacity; when
// full, the oldest buffered frame is dropped in favor of the newest so
// the reader never blocks on a slow consumer (spec.md §5).
func (s *Source) Start(ctx context.Context) (<-chan ports.FrameRecord, <-chan error) {
	frames := make(chan ports.FrameRecord, s.capacity)
	errs := make(chan error, 1)

	handle, err := pcap.OpenLive(s.iface, s.snaplen, true, pcap.BlockForever)
	if err != nil {
		errs <- fmt.Errorf("%w: open %s: %v", ports.ErrRadioUnavailable, s.iface, err)
		close(frames)
		close(errs)
		return frames, errs
	}
	s.handle = handle

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	packetSource.DecodeOptions.Lazy = true
	packetSource.DecodeOptions.NoCopy = true

	go s.readLoop(ctx, packetSource, frames, errs)

	return frames, errs
}

func (s *Source) readLoop(ctx context.Context, src *gopacket.PacketSource, frames chan<- ports.FrameRecord, errs chan<- error) {
	defer close(frames)
	defer close(errs)

	packets := src.Packets()
	for {
		select {
		case <-ctx.Done():
			return
		case packet, ok := <-packets:
			if !ok {
				errs <- fmt.Errorf("%w: %s packet source closed", ports.ErrFrameSourceLost, s.iface)
				return
			}
			record := ports.FrameRecord{
				Frame: packet.Data(),
				Meta:  radiotapMeta(packet),
			}
			s.enqueue(record, frames)
		}
	}
}

// enqueue drops the oldest buffered record rather than blocking when
// the channel is full.
func (s *Source) enqueue(record ports.FrameRecord, frames chan<- ports.FrameRecord) {
	select {
	case frames <- record:
		return
	default:
	}

	select {
	case <-frames:
		if s.metrics != nil {
			s.metrics.FramesDropped.Inc()
		}
	default:
	}

	select {
	case frames <- record:
	default:
		if s.metrics != nil {
			s.metrics.FramesDropped.Inc()
		}
	}
}

// radiotapMeta extracts signal strength and channel from the radiotap
// layer, defaulting signal to -100 dBm when absent (spec.md §4.4).
func radiotapMeta(packet gopacket.Packet) domain.RadiotapMeta {
	meta := domain.RadiotapMeta{SignalDBm: -100}

	layer := packet.Layer(layers.LayerTypeRadioTap)
	if layer == nil {
		return meta
	}
	rt, ok := layer.(*layers.RadioTap)
	if !ok {
		return meta
	}

	if rt.Present.DBMAntennaSignal() {
		meta.SignalDBm = int(rt.DBMAntennaSignal)
	}
	if rt.Present.ChannelFrequency() {
		meta.Channel = frequencyToChannel(int(rt.ChannelFrequency))
	}
	return meta
}

// frequencyToChannel converts a radiotap center frequency (MHz) to an
// 802.11 channel number.
func frequencyToChannel(freqMHz int) int {
	switch {
	case freqMHz == 2484:
		return 14
	case freqMHz >= 2412 && freqMHz <= 2472:
		return (freqMHz-2412)/5 + 1
	case freqMHz >= 5000 && freqMHz < 5900:
		return (freqMHz - 5000) / 5
	default:
		return 0
	}
}

// Close releases the underlying pcap handle.
func (s *Source) Close() error {
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
	return nil
}
