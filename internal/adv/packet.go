// Package adv walks and builds Bluetooth LE advertising payloads made of
// concatenated AD structures ([length][type][payload], length excluding
// itself).
package adv

import "errors"

// ErrTruncated is returned when an AD structure declares more bytes than the
// payload holds.
var ErrTruncated = errors.New("adv: AD structure runs past end of payload")

// Packet is a raw advertising payload.
type Packet []byte

// Walk calls fn for each AD structure from left to right with the structure
// type and its payload (excluding the length and type bytes). A zero length
// byte is an empty structure and is skipped; it does not end the walk. Walk
// stops early without error when fn returns false and returns ErrTruncated
// if a structure's declared length overruns the payload.
func (p Packet) Walk(fn func(typ byte, data []byte) bool) error {
	off := 0
	for off < len(p) {
		l := int(p[off])
		off++
		if l == 0 {
			continue
		}
		if off+l > len(p) {
			return ErrTruncated
		}
		typ := p[off]
		data := p[off+1 : off+l]
		off += l
		if !fn(typ, data) {
			return nil
		}
	}
	return nil
}

// UUID16List decodes the payload of a 16-bit service UUID list structure.
// A trailing odd byte is ignored.
func UUID16List(data []byte) []uint16 {
	u := make([]uint16, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		u = append(u, uint16(data[i])|uint16(data[i+1])<<8)
	}
	return u
}

// AppendField appends an AD structure to the packet.
func (p Packet) AppendField(typ byte, b []byte) Packet {
	p = append(p, byte(len(b)+1))
	p = append(p, typ)
	return append(p, b...)
}

// AppendFlags appends a flags structure.
func (p Packet) AppendFlags(f byte) Packet {
	return p.AppendField(Flags, []byte{f})
}

// AppendManufacturerData appends manufacturer specific data prefixed with the
// company identifier in on-air (little-endian) order.
func (p Packet) AppendManufacturerData(id uint16, b []byte) Packet {
	d := append([]byte{uint8(id), uint8(id >> 8)}, b...)
	return p.AppendField(ManufacturerData, d)
}

// AppendUUID16List appends a complete list of 16-bit service UUIDs.
func (p Packet) AppendUUID16List(uuids ...uint16) Packet {
	d := make([]byte, 0, 2*len(uuids))
	for _, u := range uuids {
		d = append(d, uint8(u), uint8(u>>8))
	}
	return p.AppendField(AllUUID16, d)
}

// AppendServiceData16 appends service data keyed by a 16-bit UUID.
func (p Packet) AppendServiceData16(u uint16, b []byte) Packet {
	d := append([]byte{uint8(u), uint8(u >> 8)}, b...)
	return p.AppendField(ServiceData16, d)
}
