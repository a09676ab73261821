package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		device string
		rssi   int
		n      int
	}{
		{"adv", "ADV c0:ff:ee:00:00:01 -60 0201060303aafe", "C0:FF:EE:00:00:01", -60, 7},
		{"adv extra spaces", "ADV  aa   -7   00 ", "AA", -7, 1},
		{"csv", "c0:ff:ee:00:00:01, -71 ,0201", "C0:FF:EE:00:00:01", -71, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := ParseLine(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.device, a.Device)
			assert.Equal(t, tt.rssi, a.RSSI)
			assert.Len(t, a.Payload, tt.n)
			assert.True(t, a.Received.IsZero())
		})
	}
}

func TestParseLine_Malformed(t *testing.T) {
	for _, line := range []string{
		"",
		"ADV aa -60",
		"ADV aa sixty 00",
		"ADV aa -60 0g",
		"aa,-60,abc",
		",-60,00",
		"a,b,c,d",
	} {
		_, err := ParseLine(line)
		assert.ErrorIs(t, err, ErrMalformedLine, "%q", line)
	}
}
