package handshake

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyra-sec/pocketrecon/internal/core/domain"
)

func eapolFrame(t *testing.T, keyInfo uint16, keyData []byte) []byte {
	t.Helper()
	radiotap := &layers.RadioTap{}
	dot11 := &layers.Dot11{Type: layers.Dot11TypeDataCFAck}
	eapol := &layers.EAPOL{Version: 2, Type: layers.EAPOLTypeKey}

	payload := make([]byte, minKeyPayload+len(keyData))
	payload[0] = 2 // descriptor type
	payload[1] = byte(keyInfo >> 8)
	payload[2] = byte(keyInfo)
	payload[93] = byte(len(keyData) >> 8)
	payload[94] = byte(len(keyData))
	copy(payload[minKeyPayload:], keyData)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	llc := &layers.LLC{DSAP: 0xaa, SSAP: 0xaa, Control: 0x03}
	snap := &layers.SNAP{OrganizationalCode: []byte{0x00, 0x00, 0x00}, Type: layers.EthernetTypeEAPOL}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, radiotap, dot11, llc, snap, eapol, gopacket.Payload(payload)))
	return buf.Bytes()
}

func TestOnEapolDropsUnmatchedBSSID(t *testing.T) {
	tr := New(t.TempDir(), nil)
	require.NoError(t, tr.SetTarget("AA:BB:CC:DD:EE:FF", "HomeNet"))

	h := tr.OnEapol(domain.EapolEvent{BSSID: "11:22:33:44:55:66", ClientMAC: "cl", MsgNum: 1, Raw: eapolFrame(t, 0x0080, nil)})
	assert.Nil(t, h)
	assert.Equal(t, 0, tr.Stats().EapolCount)
}

func TestOnEapolCaseInsensitiveBSSIDMatch(t *testing.T) {
	tr := New(t.TempDir(), nil)
	require.NoError(t, tr.SetTarget("AA:BB:CC:DD:EE:FF", "HomeNet"))

	tr.OnEapol(domain.EapolEvent{BSSID: "aa:bb:cc:dd:ee:ff", ClientMAC: "cl", MsgNum: 1, Raw: eapolFrame(t, 0x0080, nil)})
	assert.Equal(t, 1, tr.Stats().EapolCount)
}

func TestHandshakeCompletesOnOneTwo(t *testing.T) {
	tr := New(t.TempDir(), nil)
	require.NoError(t, tr.SetTarget("aa:bb:cc:dd:ee:ff", "HomeNet"))

	h := tr.OnEapol(domain.EapolEvent{BSSID: "aa:bb:cc:dd:ee:ff", ClientMAC: "client1", MsgNum: 1, Raw: eapolFrame(t, 0x0080, nil)})
	assert.Nil(t, h)

	h = tr.OnEapol(domain.EapolEvent{BSSID: "aa:bb:cc:dd:ee:ff", ClientMAC: "client1", MsgNum: 2, Raw: eapolFrame(t, 0x0100, nil)})
	require.NotNil(t, h)
	assert.Equal(t, domain.HandshakeKind4Way, h.Kind)
	assert.ElementsMatch(t, []int{1, 2}, h.Messages)
	assert.NotEmpty(t, h.PcapPath)

	stats := tr.Stats()
	assert.Equal(t, domain.CaptureSuccess, stats.State)
	require.Len(t, stats.Handshakes, 1)
}

func TestHandshakeEmitsExactlyOncePerClient(t *testing.T) {
	tr := New(t.TempDir(), nil)
	require.NoError(t, tr.SetTarget("aa:bb:cc:dd:ee:ff", "HomeNet"))

	tr.OnEapol(domain.EapolEvent{BSSID: "aa:bb:cc:dd:ee:ff", ClientMAC: "client1", MsgNum: 1, Raw: eapolFrame(t, 0x0080, nil)})
	h1 := tr.OnEapol(domain.EapolEvent{BSSID: "aa:bb:cc:dd:ee:ff", ClientMAC: "client1", MsgNum: 2, Raw: eapolFrame(t, 0x0100, nil)})
	require.NotNil(t, h1)

	h2 := tr.OnEapol(domain.EapolEvent{BSSID: "aa:bb:cc:dd:ee:ff", ClientMAC: "client1", MsgNum: 3, Raw: eapolFrame(t, 0x03c0, nil)})
	assert.Nil(t, h2, "second completeness transition for the same client must not re-emit")

	assert.Len(t, tr.Stats().Handshakes, 1)
}

func TestHandshakeTwoThreeAlsoCompletes(t *testing.T) {
	tr := New(t.TempDir(), nil)
	require.NoError(t, tr.SetTarget("aa:bb:cc:dd:ee:ff", "HomeNet"))

	tr.OnEapol(domain.EapolEvent{BSSID: "aa:bb:cc:dd:ee:ff", ClientMAC: "client1", MsgNum: 2, Raw: eapolFrame(t, 0x0100, nil)})
	h := tr.OnEapol(domain.EapolEvent{BSSID: "aa:bb:cc:dd:ee:ff", ClientMAC: "client1", MsgNum: 3, Raw: eapolFrame(t, 0x03c0, nil)})
	require.NotNil(t, h)
	assert.ElementsMatch(t, []int{2, 3}, h.Messages)
}

func TestRetransmissionOverwritesPriorFrame(t *testing.T) {
	tr := New(t.TempDir(), nil)
	require.NoError(t, tr.SetTarget("aa:bb:cc:dd:ee:ff", "HomeNet"))

	first := eapolFrame(t, 0x0080, nil)
	tr.OnEapol(domain.EapolEvent{BSSID: "aa:bb:cc:dd:ee:ff", ClientMAC: "client1", MsgNum: 1, Raw: first})
	second := eapolFrame(t, 0x0080, []byte{0x30, 0x00})
	tr.OnEapol(domain.EapolEvent{BSSID: "aa:bb:cc:dd:ee:ff", ClientMAC: "client1", MsgNum: 1, Raw: second})

	h := tr.OnEapol(domain.EapolEvent{BSSID: "aa:bb:cc:dd:ee:ff", ClientMAC: "client1", MsgNum: 2, Raw: eapolFrame(t, 0x0100, nil)})
	require.NotNil(t, h)
	assert.Equal(t, second, h.Frames[0], "retransmitted message must overwrite the earlier frame")
}

func TestPMKIDEmitsImmediately(t *testing.T) {
	tr := New(t.TempDir(), nil)
	require.NoError(t, tr.SetTarget("aa:bb:cc:dd:ee:ff", "HomeNet"))

	kd := make([]byte, 0, 22)
	kd = append(kd, 0xdd, 20)
	kd = append(kd, 0x00, 0x0f, 0xac, 0x04)
	kd = append(kd, make([]byte, 16)...)

	h := tr.OnEapol(domain.EapolEvent{BSSID: "aa:bb:cc:dd:ee:ff", ClientMAC: "client1", MsgNum: 1, Raw: eapolFrame(t, 0x0080, kd)})
	require.NotNil(t, h)
	assert.Equal(t, domain.HandshakeKindPMKID, h.Kind)
}

func TestClearTargetResetsState(t *testing.T) {
	tr := New(t.TempDir(), nil)
	require.NoError(t, tr.SetTarget("aa:bb:cc:dd:ee:ff", "HomeNet"))
	tr.OnEapol(domain.EapolEvent{BSSID: "aa:bb:cc:dd:ee:ff", ClientMAC: "client1", MsgNum: 1, Raw: eapolFrame(t, 0x0080, nil)})

	tr.ClearTarget()
	assert.Equal(t, domain.CaptureIdle, tr.Stats().State)

	h := tr.OnEapol(domain.EapolEvent{BSSID: "aa:bb:cc:dd:ee:ff", ClientMAC: "client1", MsgNum: 2, Raw: eapolFrame(t, 0x0100, nil)})
	assert.Nil(t, h, "events must be dropped once the tracker is inactive")
}

func TestSaveWritesFileUnderBaseDir(t *testing.T) {
	dir := t.TempDir()
	tr := New(dir, nil)
	h := domain.Handshake{BSSID: "aa:bb:cc:dd:ee:ff", SSID: "Home Net!", Frames: [][]byte{eapolFrame(t, 0x0080, nil)}}

	path, err := tr.Save(h)
	require.NoError(t, err)
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
	assert.Equal(t, dir, filepath.Dir(path))
}
