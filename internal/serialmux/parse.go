package serialmux

import "strings"

const (
	EventTypeAdvertisement = "advertisement"
	EventTypeStatus        = "status"
	EventTypeUnknown       = "unknown"
)

// ClassifyPayload returns a coarse event type for one line printed by the
// dongle. Advertisements come either as "ADV <addr> <rssi> <hex>" or as the
// comma separated "addr,rssi,hex" used by older firmware. Status replies are
// JSON objects.
func ClassifyPayload(payload string) string {
	payload = strings.TrimSpace(payload)
	switch {
	case strings.HasPrefix(payload, "ADV "):
		return EventTypeAdvertisement
	case strings.HasPrefix(payload, "{"):
		return EventTypeStatus
	case strings.Count(payload, ",") == 2:
		return EventTypeAdvertisement
	}
	return EventTypeUnknown
}
