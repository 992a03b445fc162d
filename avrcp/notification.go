package avrcp

import "fmt"

// EventID identifies a RegisterNotification event (AVRCP Section 5.4.2).
// Only VolumeChanged is supported; capabilities advertise exactly one
// event, which is a known deviation from full profile conformance.
type EventID uint8

const (
	EventVolumeChanged EventID = 0x0D
)

func (e EventID) String() string {
	switch e {
	case EventVolumeChanged:
		return "VolumeChanged"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(e))
	}
}

// Event is a decoded RegisterNotification event parameter: the event id
// plus whatever state it carries. Only VolumeChanged is modeled, so Volume
// is the only populated field.
type Event struct {
	ID     EventID
	Volume uint8 // quantized 0..0x7F, valid when ID == EventVolumeChanged
}

// parseEventID decodes the single-byte event id prefix of a
// RegisterNotification command's parameters.
func parseEventID(data []byte) (EventID, []byte, error) {
	if len(data) < 1 {
		return 0, nil, fmt.Errorf("avrcp: RegisterNotification parameters too short")
	}
	return EventID(data[0]), data[1:], nil
}

// decodeEvent parses a full RegisterNotification notification payload (the
// parameters of an Interim/Changed response) into an Event.
func decodeEvent(data []byte) (Event, error) {
	id, rest, err := parseEventID(data)
	if err != nil {
		return Event{}, err
	}
	switch id {
	case EventVolumeChanged:
		if len(rest) < 1 {
			return Event{}, fmt.Errorf("avrcp: VolumeChanged notification too short")
		}
		return Event{ID: id, Volume: rest[0] & MaxVolume}, nil
	default:
		return Event{}, fmt.Errorf("avrcp: unsupported event id %v", id)
	}
}

// MaxVolume is the wire-level maximum of the 7-bit absolute volume field
// (AVRCP Section 5.13 SetAbsoluteVolume / EVENT_VOLUME_CHANGED).
const MaxVolume uint8 = 0x7F

// quantizeVolume maps a [0,1] fraction to the 7-bit wire representation.
func quantizeVolume(fraction float64) uint8 {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return uint8(fraction*float64(MaxVolume) + 0.5)
}
