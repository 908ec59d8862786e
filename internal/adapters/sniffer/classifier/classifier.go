// Package classifier turns a raw 802.11 frame plus radiotap metadata
// into a typed domain.Event, per the classification rules spec.md §4.4
// lays out precisely.
package classifier

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/lyra-sec/pocketrecon/internal/core/domain"
	"github.com/lyra-sec/pocketrecon/internal/core/ports"
	"github.com/lyra-sec/pocketrecon/internal/telemetry"
)

// Classifier is the default ports.FrameClassifier.
type Classifier struct {
	metrics *telemetry.Metrics
}

// New builds a Classifier. metrics may be nil in tests.
func New(metrics *telemetry.Metrics) *Classifier {
	return &Classifier{metrics: metrics}
}

// Classify decodes frame and returns the Event it represents.
func (c *Classifier) Classify(frame []byte, meta domain.RadiotapMeta) domain.Event {
	packet := gopacket.NewPacket(frame, layers.LinkTypeIEEE802_11Radio, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	if err := packet.ErrorLayer(); err != nil {
		c.countMalformed("decode")
		return domain.Event{Kind: domain.EventIgnore}
	}

	dot11Layer := packet.Layer(layers.LayerTypeDot11)
	if dot11Layer == nil {
		return domain.Event{Kind: domain.EventIgnore}
	}
	dot11, ok := dot11Layer.(*layers.Dot11)
	if !ok {
		c.countMalformed("dot11")
		return domain.Event{Kind: domain.EventIgnore}
	}

	now := time.Now()

	if eapolLayer := packet.Layer(layers.LayerTypeEAPOL); eapolLayer != nil {
		if ev := c.classifyEapol(packet, dot11, eapolLayer, now); ev.Kind != domain.EventIgnore {
			c.countCaptured("eapol")
			return ev
		}
	}

	switch dot11.Type.MainType() {
	case layers.Dot11TypeMgmt:
		if ev := c.classifyMgmt(packet, dot11, meta, now); ev.Kind != domain.EventIgnore {
			c.countCaptured(kindLabel(ev.Kind))
			return ev
		}
	case layers.Dot11TypeData:
		if ev := c.classifyData(dot11, meta, now); ev.Kind != domain.EventIgnore {
			c.countCaptured(kindLabel(ev.Kind))
			return ev
		}
	}

	return domain.Event{Kind: domain.EventIgnore}
}

func (c *Classifier) classifyMgmt(packet gopacket.Packet, dot11 *layers.Dot11, meta domain.RadiotapMeta, now time.Time) domain.Event {
	switch dot11.Type {
	case layers.Dot11TypeMgmtBeacon:
		return c.classifyBeacon(packet, dot11, meta, now)
	case layers.Dot11TypeMgmtProbeReq:
		return c.classifyProbe(packet, dot11, meta, now)
	default:
		return domain.Event{Kind: domain.EventIgnore}
	}
}

func (c *Classifier) classifyBeacon(packet gopacket.Packet, dot11 *layers.Dot11, meta domain.RadiotapMeta, now time.Time) domain.Event {
	layer := packet.Layer(layers.LayerTypeDot11MgmtBeacon)
	if layer == nil {
		return domain.Event{Kind: domain.EventIgnore}
	}
	beacon, ok := layer.(*layers.Dot11MgmtBeacon)
	if !ok {
		return domain.Event{Kind: domain.EventIgnore}
	}

	bssid := dot11.Address3.String()
	if bssid == "" || bssid == domain.BroadcastMAC {
		return domain.Event{Kind: domain.EventIgnore}
	}

	ieData := layer.LayerPayload()
	ssid, hidden := parseSSID(ieData, bssid)
	channel := parseChannel(ieData)
	if channel == 0 {
		channel = meta.Channel
	}
	security := classifySecurity(ieData, beacon.Flags)

	return domain.Event{
		Kind: domain.EventBeacon,
		Beacon: &domain.BeaconEvent{
			BSSID:     bssid,
			SSID:      ssid,
			Channel:   channel,
			SignalDBm: meta.SignalDBm,
			Security:  security,
			Hidden:    hidden,
			Timestamp: now,
		},
	}
}

func (c *Classifier) classifyProbe(packet gopacket.Packet, dot11 *layers.Dot11, meta domain.RadiotapMeta, now time.Time) domain.Event {
	layer := packet.Layer(layers.LayerTypeDot11MgmtProbeReq)
	if layer == nil {
		return domain.Event{Kind: domain.EventIgnore}
	}

	ssid := findIE(layer.LayerPayload(), ieSSID)
	if len(ssid) == 0 {
		return domain.Event{Kind: domain.EventIgnore}
	}

	clientMAC := dot11.Address2.String()
	if clientMAC == "" {
		return domain.Event{Kind: domain.EventIgnore}
	}

	return domain.Event{
		Kind: domain.EventProbe,
		Probe: &domain.ProbeEvent{
			ClientMAC: clientMAC,
			SSID:      string(ssid),
			SignalDBm: meta.SignalDBm,
			Timestamp: now,
		},
	}
}

func (c *Classifier) classifyData(dot11 *layers.Dot11, meta domain.RadiotapMeta, now time.Time) domain.Event {
	toDS := dot11.Flags.ToDS()
	fromDS := dot11.Flags.FromDS()

	var direction domain.DataDirection
	var clientMAC, bssid string

	switch {
	case toDS && !fromDS:
		direction = domain.DirectionToAP
		clientMAC = dot11.Address2.String()
		bssid = dot11.Address1.String()
	case !toDS && fromDS:
		direction = domain.DirectionFromAP
		clientMAC = dot11.Address1.String()
		bssid = dot11.Address2.String()
	default:
		return domain.Event{Kind: domain.EventIgnore}
	}

	if clientMAC == "" || clientMAC == domain.BroadcastMAC {
		return domain.Event{Kind: domain.EventIgnore}
	}

	return domain.Event{
		Kind: domain.EventData,
		Data: &domain.DataEvent{
			ClientMAC: clientMAC,
			BSSID:     bssid,
			SignalDBm: meta.SignalDBm,
			Direction: direction,
			Timestamp: now,
		},
	}
}

// EAPOL Key Information bit positions, IEEE 802.11i.
const (
	keyInfoInstall = 1 << 6
	keyInfoAck     = 1 << 7
	keyInfoMIC     = 1 << 8
	keyInfoSecure  = 1 << 9
)

func (c *Classifier) classifyEapol(packet gopacket.Packet, dot11 *layers.Dot11, eapolLayer gopacket.Layer, now time.Time) domain.Event {
	eapol, ok := eapolLayer.(*layers.EAPOL)
	if !ok || eapol.Type != layers.EAPOLTypeKey {
		return domain.Event{Kind: domain.EventIgnore}
	}

	payload := eapol.LayerPayload()
	if len(payload) < 5 {
		c.countMalformed("eapol")
		return domain.Event{Kind: domain.EventIgnore}
	}

	keyInfo := binary.BigEndian.Uint16(payload[1:3])
	msgNum := determineMessageNumber(keyInfo)

	bssid := dot11.Address3.String()
	clientMAC := dot11.Address2.String()
	if dot11.Flags.FromDS() && !dot11.Flags.ToDS() {
		clientMAC = dot11.Address1.String()
	}

	return domain.Event{
		Kind: domain.EventEapol,
		Eapol: &domain.EapolEvent{
			BSSID:     bssid,
			ClientMAC: clientMAC,
			MsgNum:    msgNum,
			Raw:       packet.Data(),
			Timestamp: now,
		},
	}
}

// determineMessageNumber applies spec.md §4.4's exact rule, returning 0
// ("None") when the bit combination matches nothing in the table.
func determineMessageNumber(keyInfo uint16) int {
	ack := keyInfo&keyInfoAck != 0
	mic := keyInfo&keyInfoMIC != 0
	secure := keyInfo&keyInfoSecure != 0
	install := keyInfo&keyInfoInstall != 0

	switch {
	case ack && !mic:
		return 1
	case mic && !ack && !secure:
		return 2
	case ack && mic && secure && install:
		return 3
	case mic && secure && !ack:
		return 4
	default:
		return 0
	}
}

func parseSSID(ieData []byte, bssid string) (ssid string, hidden bool) {
	val := findIE(ieData, ieSSID)
	if len(val) == 0 || allZero(val) {
		return hiddenLabel(bssid), true
	}
	return string(val), false
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func hiddenLabel(bssid string) string {
	clean := ""
	for _, r := range bssid {
		if r != ':' {
			clean += string(r)
		}
	}
	if len(clean) < 5 {
		return fmt.Sprintf("<hidden_%s>", clean)
	}
	return fmt.Sprintf("<hidden_%s>", clean[len(clean)-5:])
}

func parseChannel(ieData []byte) int {
	val := findIE(ieData, ieChannel)
	if len(val) >= 1 {
		return int(val[0])
	}
	return 0
}

// capabilityPrivacy is bit 4 (0x0010) of the 802.11 Capability
// Information field.
const capabilityPrivacy = 0x0010

func classifySecurity(ieData []byte, capabilities uint16) domain.Security {
	rsn := findIE(ieData, ieRSN)
	if rsn != nil {
		for _, akm := range rsnAKMSuites(rsn) {
			if akm == akmSAE {
				return domain.SecurityWPA3
			}
		}
		return domain.SecurityWPA2
	}

	if hasVendorWPA(ieData) {
		return domain.SecurityWPA
	}

	if capabilities&capabilityPrivacy != 0 {
		return domain.SecurityWEP
	}

	return domain.SecurityOpen
}

func kindLabel(k domain.EventKind) string {
	switch k {
	case domain.EventBeacon:
		return "beacon"
	case domain.EventProbe:
		return "probe"
	case domain.EventData:
		return "data"
	case domain.EventEapol:
		return "eapol"
	default:
		return "ignore"
	}
}

func (c *Classifier) countCaptured(kind string) {
	if c.metrics != nil {
		c.metrics.FramesCaptured.WithLabelValues(kind).Inc()
	}
}

func (c *Classifier) countMalformed(layer string) {
	if c.metrics != nil {
		c.metrics.FramesMalformed.WithLabelValues(layer).Inc()
	}
}

var _ ports.FrameClassifier = (*Classifier)(nil)
