package beacon

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/banshee-data/proximity.report/internal/adv"
)

// MaxCompressedURLLength is the longest encoded URL (after the scheme byte)
// that still fits a legacy advertising payload next to the flags and UUID
// list structures.
const MaxCompressedURLLength = 17

var (
	ErrURLScheme    = errors.New("beacon: url has no supported scheme")
	ErrURLCharacter = errors.New("beacon: url contains a character that cannot be encoded")
	ErrURLTooLong   = errors.New("beacon: url too long to advertise")
)

const beaconFlags = adv.FlagGeneralDiscoverable | adv.FlagLEOnly

// Encode builds a complete advertising payload for f.
func Encode(f Frame) ([]byte, error) {
	switch v := f.(type) {
	case IBeacon:
		return EncodeIBeacon(v), nil
	case EddystoneUID:
		return EncodeEddystoneUID(v), nil
	case EddystoneURL:
		return EncodeEddystoneURL(v)
	case EddystoneTLM:
		return EncodeEddystoneTLM(v), nil
	}
	return nil, fmt.Errorf("beacon: cannot encode %T", f)
}

// EncodeIBeacon builds the advertising payload an iBeacon transmits.
func EncodeIBeacon(f IBeacon) []byte {
	b := make([]byte, 0, iBeaconLength-2)
	b = append(b, 0x02, 0x15)
	b = append(b, f.UUID[:]...)
	b = binary.BigEndian.AppendUint16(b, f.Major)
	b = binary.BigEndian.AppendUint16(b, f.Minor)
	b = append(b, byte(f.TxPower))
	return adv.Packet(nil).
		AppendFlags(beaconFlags).
		AppendManufacturerData(adv.CompanyApple, b)
}

func eddystone(frameType byte, body []byte) []byte {
	d := append([]byte{frameType}, body...)
	return adv.Packet(nil).
		AppendFlags(beaconFlags).
		AppendUUID16List(adv.ServiceUUIDEddystone).
		AppendServiceData16(adv.ServiceUUIDEddystone, d)
}

// EncodeEddystoneUID builds the advertising payload of an Eddystone-UID
// frame. Reserved bytes are zero.
func EncodeEddystoneUID(f EddystoneUID) []byte {
	b := make([]byte, 0, uidBodyLength)
	b = append(b, byte(f.TxPower))
	b = append(b, f.Namespace[:]...)
	b = append(b, f.Instance[:]...)
	b = append(b, 0x00, 0x00)
	return eddystone(eddystoneFrameUID, b)
}

// EncodeEddystoneURL builds the advertising payload of an Eddystone-URL
// frame, compressing the URL.
func EncodeEddystoneURL(f EddystoneURL) ([]byte, error) {
	c, err := CompressURL(f.URL)
	if err != nil {
		return nil, err
	}
	b := append([]byte{byte(f.TxPower)}, c...)
	return eddystone(eddystoneFrameURL, b), nil
}

// EncodeEddystoneTLM builds the advertising payload of an unencrypted
// Eddystone-TLM frame. The temperature is rounded to the nearest 1/256 °C
// and saturates at the limits of the signed 8.8 field.
func EncodeEddystoneTLM(f EddystoneTLM) []byte {
	t := int16(max(math.MinInt16, min(math.MaxInt16, math.Round(f.TemperatureCelsius*256))))
	b := make([]byte, 0, tlmBodyLength)
	b = append(b, f.Version)
	b = binary.BigEndian.AppendUint16(b, f.BatteryMillivolts)
	b = append(b, byte(t>>8), byte(t))
	b = binary.BigEndian.AppendUint32(b, f.AdvertisingPDUCount)
	b = binary.BigEndian.AppendUint32(b, f.SecondsSincePowerOn)
	return eddystone(eddystoneFrameTLM, b)
}

// CompressURL returns the scheme code followed by the encoded remainder of
// url. Expansions are matched greedily, longest first.
func CompressURL(url string) ([]byte, error) {
	scheme := -1
	for i, s := range URLSchemes {
		if strings.HasPrefix(url, s) && (scheme < 0 || len(s) > len(URLSchemes[scheme])) {
			scheme = i
		}
	}
	if scheme < 0 {
		return nil, ErrURLScheme
	}

	rest := url[len(URLSchemes[scheme]):]
	out := []byte{byte(scheme)}
	for len(rest) > 0 {
		if code, n := matchExpansion(rest); n > 0 {
			out = append(out, code)
			rest = rest[n:]
			continue
		}
		c := rest[0]
		if c < 33 || c > 126 {
			return nil, fmt.Errorf("%w: %q", ErrURLCharacter, c)
		}
		out = append(out, c)
		rest = rest[1:]
	}
	if len(out)-1 > MaxCompressedURLLength {
		return nil, fmt.Errorf("%w: %d encoded bytes", ErrURLTooLong, len(out)-1)
	}
	return out, nil
}

func matchExpansion(s string) (byte, int) {
	best, n := byte(0), 0
	for i, e := range URLExpansions {
		if len(e) > n && strings.HasPrefix(s, e) {
			best, n = byte(i), len(e)
		}
	}
	return best, n
}
