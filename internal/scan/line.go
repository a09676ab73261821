package scan

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/proximity.report/internal/beacon"
)

var ErrMalformedLine = errors.New("scan: malformed advertisement line")

// ParseLine parses one advertisement report printed by the scanner dongle,
// either "ADV <addr> <rssi> <hex>" or "<addr>,<rssi>,<hex>". Received is left
// for the caller to stamp.
func ParseLine(line string) (beacon.Advertisement, error) {
	line = strings.TrimSpace(line)

	var fields []string
	if rest, ok := strings.CutPrefix(line, "ADV "); ok {
		fields = strings.Fields(rest)
	} else {
		fields = strings.Split(line, ",")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
	}
	if len(fields) != 3 || fields[0] == "" {
		return beacon.Advertisement{}, fmt.Errorf("%w: %q", ErrMalformedLine, line)
	}

	rssi, err := strconv.Atoi(fields[1])
	if err != nil {
		return beacon.Advertisement{}, fmt.Errorf("%w: rssi %q", ErrMalformedLine, fields[1])
	}
	payload, err := hex.DecodeString(fields[2])
	if err != nil {
		return beacon.Advertisement{}, fmt.Errorf("%w: payload: %v", ErrMalformedLine, err)
	}

	return beacon.Advertisement{
		Payload: payload,
		RSSI:    rssi,
		Device:  strings.ToUpper(fields[0]),
	}, nil
}
