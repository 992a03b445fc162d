package avdtp

import "fmt"

// ServiceCategory identifies the kind of a Capability (AVDTP Section 8.21).
type ServiceCategory uint8

const (
	ServiceCategoryUnknown ServiceCategory = iota
	ServiceCategoryMediaTransport
	ServiceCategoryReporting
	ServiceCategoryRecovery
	ServiceCategoryContentProtection
	ServiceCategoryHeaderCompression
	ServiceCategoryMultiplexing
	ServiceCategoryMediaCodec
	ServiceCategoryDelayReporting
)

// Capability is one service-category entry of a stream endpoint's
// configuration, carried verbatim as category-specific payload bytes.
type Capability struct {
	Category ServiceCategory
	Payload  []byte
}

// IsBasic reports whether cap is returned by GetCapabilities. Every
// category is basic except DelayReporting, which AVDTP 1.3 introduced as an
// extension capability outside the original basic set (see DESIGN.md).
func (c Capability) IsBasic() bool {
	return c.Category != ServiceCategoryDelayReporting
}

func (c Capability) encode() []byte {
	out := make([]byte, 2+len(c.Payload))
	out[0] = byte(c.Category)
	out[1] = byte(len(c.Payload))
	copy(out[2:], c.Payload)
	return out
}

func encodeCapabilities(caps []Capability) []byte {
	var out []byte
	for _, c := range caps {
		out = append(out, c.encode()...)
	}
	return out
}

// decodeCapabilities parses a sequence of category/length/payload entries,
// as found in a SetConfiguration or Reconfigure command.
func decodeCapabilities(data []byte) ([]Capability, error) {
	var caps []Capability
	for len(data) > 0 {
		if len(data) < 2 {
			return nil, fmt.Errorf("avdtp: truncated capability header")
		}
		category := ServiceCategory(data[0])
		length := int(data[1])
		if len(data) < 2+length {
			return nil, fmt.Errorf("avdtp: truncated capability payload")
		}
		payload := append([]byte(nil), data[2:2+length]...)
		caps = append(caps, Capability{Category: category, Payload: payload})
		data = data[2+length:]
	}
	return caps, nil
}
