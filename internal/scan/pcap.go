package scan

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/proximity.report/internal/beacon"
	"github.com/banshee-data/proximity.report/internal/monitoring"
	"github.com/banshee-data/proximity.report/internal/timeutil"
)

// Link types of Bluetooth LE link layer captures.
const (
	LinkTypeBluetoothLELL         = 251
	LinkTypeBluetoothLELLWithPHDR = 256
)

// advAccessAddress is the access address of every advertising channel PDU.
const advAccessAddress = 0x8E89BED6

// Advertising channel PDU types carrying advertiser data.
const (
	pduAdvInd        = 0x0
	pduAdvNonconnInd = 0x2
	pduScanRsp       = 0x4
	pduAdvScanInd    = 0x6
)

const phdrLen = 10

// phdrSignalValid is the pseudo-header flag marking the signal power byte.
const phdrSignalValid = 0x0002

var ErrUnsupportedLinkType = errors.New("scan: unsupported pcap link type")

// PCAPSource replays a Bluetooth LE link layer capture.
type PCAPSource struct {
	Path string
	// DefaultRSSI is used when the capture carries no signal strength.
	DefaultRSSI int
	// Realtime replays packets with their original spacing.
	Realtime bool
	Clock    timeutil.Clock
}

func (p *PCAPSource) Run(ctx context.Context, deliver func(beacon.Advertisement)) error {
	f, err := os.Open(p.Path)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", p.Path, err)
	}
	defer f.Close()
	return p.replay(ctx, bufio.NewReader(f), deliver)
}

func (p *PCAPSource) replay(ctx context.Context, br *bufio.Reader, deliver func(beacon.Advertisement)) error {
	clock := p.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	linkType, err := peekLinkType(br)
	if err != nil {
		return err
	}
	if linkType != LinkTypeBluetoothLELL && linkType != LinkTypeBluetoothLELLWithPHDR {
		return fmt.Errorf("%w: %d", ErrUnsupportedLinkType, linkType)
	}
	r, err := pcapgo.NewReader(br)
	if err != nil {
		return fmt.Errorf("failed to read PCAP header: %w", err)
	}

	var (
		prev      time.Time
		packets   int
		delivered int
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, ci, err := r.ReadPacketData()
		if errors.Is(err, io.EOF) {
			monitoring.Logf("pcap: %s complete: %d packets, %d advertisements", p.Path, packets, delivered)
			return nil
		}
		if err != nil {
			return fmt.Errorf("pcap: packet %d: %w", packets+1, err)
		}
		packets++

		if p.Realtime && !prev.IsZero() {
			if gap := ci.Timestamp.Sub(prev); gap > 0 {
				select {
				case <-clock.After(gap):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		prev = ci.Timestamp

		a, ok := p.decode(linkType, data, ci)
		if !ok {
			continue
		}
		if p.Realtime {
			a.Received = clock.Now()
		}
		delivered++
		deliver(a)
	}
}

func (p *PCAPSource) decode(linkType uint32, data []byte, ci gopacket.CaptureInfo) (beacon.Advertisement, bool) {
	rssi := p.DefaultRSSI
	if linkType == LinkTypeBluetoothLELLWithPHDR {
		if len(data) < phdrLen {
			return beacon.Advertisement{}, false
		}
		if binary.LittleEndian.Uint16(data[8:10])&phdrSignalValid != 0 {
			rssi = int(int8(data[1]))
		}
		data = data[phdrLen:]
	}
	device, payload, ok := parseAdvertisingPDU(data)
	if !ok {
		return beacon.Advertisement{}, false
	}
	return beacon.Advertisement{
		Payload:  payload,
		RSSI:     rssi,
		Device:   device,
		Received: ci.Timestamp,
	}, true
}

// parseAdvertisingPDU extracts the advertiser address and data from a link
// layer packet: access address, 2 byte header, AdvA, AdvData, CRC.
func parseAdvertisingPDU(ll []byte) (device string, data []byte, ok bool) {
	if len(ll) < 6 || binary.LittleEndian.Uint32(ll[:4]) != advAccessAddress {
		return "", nil, false
	}
	switch ll[4] & 0x0F {
	case pduAdvInd, pduAdvNonconnInd, pduScanRsp, pduAdvScanInd:
	default:
		return "", nil, false
	}
	length := int(ll[5])
	body := ll[6:]
	if length < 6 || len(body) < length {
		return "", nil, false
	}
	body = body[:length]
	return formatAddress(body[:6]), body[6:], true
}

// formatAddress renders a little-endian device address as AA:BB:CC:DD:EE:FF.
func formatAddress(le []byte) string {
	var sb strings.Builder
	for i := len(le) - 1; i >= 0; i-- {
		fmt.Fprintf(&sb, "%02X", le[i])
		if i > 0 {
			sb.WriteByte(':')
		}
	}
	return sb.String()
}

// peekLinkType reads the link type from a classic pcap file header without
// consuming it. The full 32 bit value is needed because the BLE link types
// do not all fit in a byte.
func peekLinkType(br *bufio.Reader) (uint32, error) {
	hdr, err := br.Peek(24)
	if err != nil {
		return 0, fmt.Errorf("failed to read PCAP header: %w", err)
	}
	var order binary.ByteOrder
	switch binary.LittleEndian.Uint32(hdr[:4]) {
	case 0xA1B2C3D4, 0xA1B23C4D:
		order = binary.LittleEndian
	case 0xD4C3B2A1, 0x4D3CB2A1:
		order = binary.BigEndian
	default:
		return 0, fmt.Errorf("failed to read PCAP header: unknown magic %x", hdr[:4])
	}
	return order.Uint32(hdr[20:24]) & 0x0FFFFFFF, nil
}
