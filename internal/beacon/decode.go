package beacon

import (
	"bytes"
	"encoding/binary"
	"slices"
	"strings"

	"github.com/banshee-data/proximity.report/internal/adv"
)

// iBeacon manufacturer data: Apple company id (little-endian), beacon subtype
// 0x02 and remaining length 0x15 (21 bytes).
var iBeaconPrefix = []byte{0x4C, 0x00, 0x02, 0x15}

const (
	iBeaconLength = 25 // prefix(4) + uuid(16) + major(2) + minor(2) + tx(1)

	eddystoneFrameUID = 0x00
	eddystoneFrameURL = 0x10
	eddystoneFrameTLM = 0x20

	uidBodyLength    = 19 // tx(1) + namespace(10) + instance(6) + reserved(2)
	urlBodyMinLength = 2  // tx(1) + scheme(1)
	tlmBodyLength    = 13 // version(1) + battery(2) + temp(2) + pdu count(4) + uptime(4)
)

// URLSchemes are the Eddystone-URL scheme prefixes indexed by scheme code.
var URLSchemes = [4]string{
	"http://www.",
	"https://www.",
	"http://",
	"https://",
}

// URLExpansions are the Eddystone-URL text expansions indexed by byte value.
var URLExpansions = [14]string{
	".com/", ".org/", ".edu/", ".net/", ".info/", ".biz/", ".gov/",
	".com", ".org", ".edu", ".net", ".info", ".biz", ".gov",
}

// Decode extracts a frame of the requested kind from a raw advertising
// payload. It reports false for payloads that do not carry such a frame or
// that are malformed; it never reads past the end of raw.
func Decode(kind Kind, raw []byte) (Frame, bool) {
	switch kind {
	case KindIBeacon:
		f, ok := DecodeIBeacon(raw)
		if !ok {
			return nil, false
		}
		return f, true
	case KindEddystoneUID, KindEddystoneURL, KindEddystoneTLM:
		return decodeEddystone(kind, raw)
	}
	return nil, false
}

// DecodeIBeacon returns the first iBeacon record found in raw. Manufacturer
// data structures from other vendors or of other Apple subtypes are skipped.
func DecodeIBeacon(raw []byte) (IBeacon, bool) {
	var (
		f         IBeacon
		found     bool
		malformed bool
	)
	err := adv.Packet(raw).Walk(func(typ byte, data []byte) bool {
		if typ != adv.ManufacturerData || len(data) < len(iBeaconPrefix) || !bytes.Equal(data[:len(iBeaconPrefix)], iBeaconPrefix) {
			return true
		}
		if len(data) < iBeaconLength {
			malformed = true
			return false
		}
		copy(f.UUID[:], data[4:20])
		f.Major = binary.BigEndian.Uint16(data[20:22])
		f.Minor = binary.BigEndian.Uint16(data[22:24])
		f.TxPower = int8(data[24])
		found = true
		return false
	})
	if err != nil || malformed || !found {
		return IBeacon{}, false
	}
	return f, true
}

func eddystoneFrameType(kind Kind) byte {
	switch kind {
	case KindEddystoneURL:
		return eddystoneFrameURL
	case KindEddystoneTLM:
		return eddystoneFrameTLM
	default:
		return eddystoneFrameUID
	}
}

// decodeEddystone locates the Eddystone service data structure carrying the
// requested frame type. A 16-bit UUID list that does not advertise
// the Eddystone service, or service data for another 16-bit UUID, marks the
// whole advertisement as not Eddystone.
func decodeEddystone(kind Kind, raw []byte) (Frame, bool) {
	want := eddystoneFrameType(kind)

	var (
		body     []byte
		found    bool
		rejected bool
	)
	err := adv.Packet(raw).Walk(func(typ byte, data []byte) bool {
		switch typ {
		case adv.AllUUID16, adv.SomeUUID16:
			if !slices.Contains(adv.UUID16List(data), adv.ServiceUUIDEddystone) {
				rejected = true
				return false
			}
		case adv.ServiceData16:
			if len(data) < 3 || binary.LittleEndian.Uint16(data) != adv.ServiceUUIDEddystone {
				rejected = true
				return false
			}
			if data[2] != want {
				return true
			}
			body = data[3:]
			found = true
			return false
		}
		return true
	})
	if err != nil || rejected || !found {
		return nil, false
	}

	switch kind {
	case KindEddystoneUID:
		f, ok := decodeUID(body)
		if !ok {
			return nil, false
		}
		return f, true
	case KindEddystoneURL:
		f, ok := decodeURL(body)
		if !ok {
			return nil, false
		}
		return f, true
	case KindEddystoneTLM:
		f, ok := decodeTLM(body)
		if !ok {
			return nil, false
		}
		return f, true
	}
	return nil, false
}

func decodeUID(b []byte) (EddystoneUID, bool) {
	if len(b) < uidBodyLength {
		return EddystoneUID{}, false
	}
	var f EddystoneUID
	f.TxPower = int8(b[0])
	copy(f.Namespace[:], b[1:11])
	copy(f.Instance[:], b[11:17])
	if b[17] != 0x00 || b[18] != 0x00 {
		return EddystoneUID{}, false
	}
	return f, true
}

func decodeURL(b []byte) (EddystoneURL, bool) {
	if len(b) < urlBodyMinLength {
		return EddystoneURL{}, false
	}
	scheme := int(b[1])
	if scheme >= len(URLSchemes) {
		return EddystoneURL{}, false
	}

	var sb strings.Builder
	sb.WriteString(URLSchemes[scheme])
	for _, c := range b[2:] {
		switch {
		case int(c) < len(URLExpansions):
			sb.WriteString(URLExpansions[c])
		case c >= 33 && c <= 126:
			sb.WriteByte(c)
		}
		// anything else is dropped
	}
	return EddystoneURL{URL: sb.String(), TxPower: int8(b[0])}, true
}

func decodeTLM(b []byte) (EddystoneTLM, bool) {
	if len(b) < tlmBodyLength {
		return EddystoneTLM{}, false
	}
	return EddystoneTLM{
		Version:             b[0],
		BatteryMillivolts:   binary.BigEndian.Uint16(b[1:3]),
		TemperatureCelsius:  (float64(int8(b[3]))*256 + float64(b[4])) / 256.0,
		AdvertisingPDUCount: binary.BigEndian.Uint32(b[5:9]),
		SecondsSincePowerOn: binary.BigEndian.Uint32(b[9:13]),
	}, true
}
