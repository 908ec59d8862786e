package handshake

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// sanitize replaces any non-alphanumeric byte with '_', per spec.md
// §4.6's filename convention.
func sanitize(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

// noColons strips ':' separators from a MAC address string.
func noColons(mac string) string {
	out := make([]byte, 0, len(mac))
	for i := 0; i < len(mac); i++ {
		if mac[i] != ':' {
			out = append(out, mac[i])
		}
	}
	return string(out)
}

// filename builds "<sanitized_ssid>_<bssid_nocolons>_<YYYYmmdd_HHMMSS>.pcap".
func filename(ssid, bssid string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s.pcap", sanitize(ssid), noColons(bssid), at.Format("20060102_150405"))
}

// writePcap dumps frames as raw 802.11-radiotap packets to dir/filename(...).
// Write failure is returned to the caller but never invalidates the
// in-memory Handshake record.
func writePcap(dir, ssid, bssid string, frames [][]byte, at time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create handshake dir: %w", err)
	}

	path := filepath.Join(dir, filename(ssid, bssid, at))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create pcap %s: %w", path, err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeIEEE802_11Radio); err != nil {
		return "", fmt.Errorf("write pcap header: %w", err)
	}

	for _, frame := range frames {
		ci := gopacket.CaptureInfo{Timestamp: at, CaptureLength: len(frame), Length: len(frame)}
		if err := w.WritePacket(ci, frame); err != nil {
			return "", fmt.Errorf("write pcap packet: %w", err)
		}
	}

	return path, nil
}
