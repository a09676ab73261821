package beacon

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Unset marks an absent major or minor filter value.
const Unset = -1

// IBeaconFilter restricts which iBeacons are tracked. The fields cascade:
// Major only applies when UUID is set and Minor only when UUID and Major are
// both set.
type IBeaconFilter struct {
	UUID  *uuid.UUID
	Major int // Unset or 0..65535
	Minor int // Unset or 0..65535
}

// ParseIBeaconFilter builds a filter from a UUID string (empty for none) and
// optional major/minor values. An unparsable UUID is an error; out-of-range
// major or minor values are too.
func ParseIBeaconFilter(uuidStr string, major, minor int) (IBeaconFilter, error) {
	f := IBeaconFilter{Major: Unset, Minor: Unset}
	if uuidStr != "" {
		u, err := uuid.Parse(uuidStr)
		if err != nil {
			return IBeaconFilter{}, fmt.Errorf("invalid proximity uuid %q: %w", uuidStr, err)
		}
		f.UUID = &u
	}
	for _, v := range []int{major, minor} {
		if v != Unset && (v < 0 || v > 0xFFFF) {
			return IBeaconFilter{}, fmt.Errorf("major/minor %d out of range", v)
		}
	}
	f.Major = major
	f.Minor = minor
	return f, nil
}

// Match reports whether b passes the filter.
func (f IBeaconFilter) Match(b IBeacon) bool {
	if f.UUID == nil {
		return true
	}
	if *f.UUID != b.UUID {
		return false
	}
	if f.Major == Unset {
		return true
	}
	if uint16(f.Major) != b.Major {
		return false
	}
	if f.Minor == Unset {
		return true
	}
	return uint16(f.Minor) == b.Minor
}

// UIDFilter restricts which Eddystone-UID beacons are tracked. Nil fields
// match anything.
type UIDFilter struct {
	Namespace []byte // 10 bytes when set
	Instance  []byte // 6 bytes when set
}

// ParseUIDFilter decodes namespace and instance hex strings. A field that is
// not valid hex of exactly the right length is treated as absent.
func ParseUIDFilter(namespaceHex, instanceHex string) UIDFilter {
	return UIDFilter{
		Namespace: decodeFixedHex(namespaceHex, 10),
		Instance:  decodeFixedHex(instanceHex, 6),
	}
}

func decodeFixedHex(s string, n int) []byte {
	if s == "" {
		return nil
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != n {
		return nil
	}
	return b
}

// Match reports whether u passes the filter.
func (f UIDFilter) Match(u EddystoneUID) bool {
	if f.Namespace != nil && !bytes.Equal(f.Namespace, u.Namespace[:]) {
		return false
	}
	if f.Instance != nil && !bytes.Equal(f.Instance, u.Instance[:]) {
		return false
	}
	return true
}
