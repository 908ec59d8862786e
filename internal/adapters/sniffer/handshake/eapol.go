package handshake

import (
	"encoding/binary"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// minKeyPayload is the fixed portion of an EAPOL-Key payload preceding
// the variable-length Key Data field: 1 (descriptor type) + 2 (key
// info) + 2 (key length) + 8 (replay counter) + 32 (nonce) + 16 (IV) +
// 8 (RSC) + 8 (key ID) + 16 (MIC) + 2 (key data length).
const minKeyPayload = 95

// keyData returns the EAPOL-Key Data field of raw, the serialized
// 802.11 frame carried in an EapolEvent. It returns nil if raw does not
// decode as an EAPOL-Key frame with a parseable Key Data length.
func keyData(raw []byte) []byte {
	packet := gopacket.NewPacket(raw, layers.LinkTypeIEEE802_11Radio, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	layer := packet.Layer(layers.LayerTypeEAPOL)
	if layer == nil {
		return nil
	}
	eapol, ok := layer.(*layers.EAPOL)
	if !ok || eapol.Type != layers.EAPOLTypeKey {
		return nil
	}

	payload := eapol.LayerPayload()
	if len(payload) < minKeyPayload {
		return nil
	}

	dataLen := int(binary.BigEndian.Uint16(payload[93:95]))
	if dataLen == 0 || minKeyPayload+dataLen > len(payload) {
		return nil
	}
	return payload[minKeyPayload : minKeyPayload+dataLen]
}

// pmkidOUI is the RSN vendor-specific OUI (00-0F-AC) used for the PMKID
// Key Data Encapsulation entry, data type 4.
var pmkidOUI = [3]byte{0x00, 0x0f, 0xac}

const pmkidKDEType = 4
const pmkidLength = 16

// findPMKID walks the Key Data field's vendor-specific elements looking
// for a PMKID KDE, returning the 16-byte PMKID or nil.
func findPMKID(data []byte) []byte {
	offset := 0
	for offset+2 <= len(data) {
		id := data[offset]
		length := int(data[offset+1])
		offset += 2
		if offset+length > len(data) {
			return nil
		}
		value := data[offset : offset+length]
		offset += length

		if id != 0xdd || len(value) < 4+pmkidLength {
			continue
		}
		if value[0] != pmkidOUI[0] || value[1] != pmkidOUI[1] || value[2] != pmkidOUI[2] {
			continue
		}
		if value[3] != pmkidKDEType {
			continue
		}
		return value[4 : 4+pmkidLength]
	}
	return nil
}
