package beacon

import (
	"fmt"

	"github.com/google/uuid"
)

// Identity is the tuple distinguishing one tracked beacon from another. It is
// comparable and used as a registry key; only the fields relevant to Kind are
// set.
type Identity struct {
	Kind Kind

	// iBeacon
	UUID  uuid.UUID
	Major uint16
	Minor uint16

	// Eddystone
	Device    string
	Namespace [10]byte
	Instance  [6]byte
	URL       string
}

// IdentityOf derives the identity of f as observed from device. iBeacon
// identities ignore the device; Eddystone identities include it. TLM frames
// are not trackable on their own and report false.
func IdentityOf(device string, f Frame) (Identity, bool) {
	switch v := f.(type) {
	case IBeacon:
		return Identity{Kind: KindIBeacon, UUID: v.UUID, Major: v.Major, Minor: v.Minor}, true
	case EddystoneUID:
		return Identity{Kind: KindEddystoneUID, Device: device, Namespace: v.Namespace, Instance: v.Instance}, true
	case EddystoneURL:
		return Identity{Kind: KindEddystoneURL, Device: device, URL: v.URL}, true
	}
	return Identity{}, false
}

func (id Identity) String() string {
	switch id.Kind {
	case KindIBeacon:
		return fmt.Sprintf("%s/%d/%d", id.UUID, id.Major, id.Minor)
	case KindEddystoneUID:
		u := EddystoneUID{Namespace: id.Namespace, Instance: id.Instance}
		return fmt.Sprintf("%s@%s", u.BeaconID(), id.Device)
	case KindEddystoneURL:
		return fmt.Sprintf("%s@%s", id.URL, id.Device)
	}
	return id.Kind.String()
}
