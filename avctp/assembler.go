package avctp

import "fmt"

// assemblyError is returned internally by the assembler when a fragment
// cannot be reassembled. It is always logged and discarded by the caller;
// it never escapes Avctp.Read.
type assemblyError struct {
	reason string
}

func (e *assemblyError) Error() string { return "avctp: " + e.reason }

// assembler reassembles a single in-flight AVCTP message per channel. At
// most one message may be in flight at a time, matching the protocol: a
// Start for a new message while one is already in flight discards the
// stale state and begins reassembling the new one.
type assembler struct {
	inFlight bool

	transactionLabel uint8
	messageType      MessageType
	profileID        uint16
	totalPackets     uint8
	receivedPackets  uint8
	buf              []byte
}

func (a *assembler) reset() {
	a.inFlight = false
	a.buf = nil
	a.totalPackets = 0
	a.receivedPackets = 0
}

// process feeds one raw L2CAP frame into the assembler. It returns a
// complete Message when the frame finishes one, or (nil, nil) when more
// fragments are still expected, or a non-nil error when the frame could
// not be reassembled (the in-flight state, if any, has already been
// discarded).
func (a *assembler) process(frame []byte) (*Message, error) {
	if len(frame) < 1 {
		return nil, &assemblyError{"empty frame"}
	}
	header := frame[0]
	label := header >> 4
	pt := packetType((header >> 2) & 0x3)
	mt := MessageType(header & 0x3)
	rest := frame[1:]

	switch pt {
	case packetSingle:
		a.reset()
		if len(rest) < 2 {
			return nil, &assemblyError{"short single frame"}
		}
		profileID := uint16(rest[0])<<8 | uint16(rest[1])
		return &Message{
			TransactionLabel: label,
			Type:             mt,
			ProfileID:        profileID,
			Data:             append([]byte(nil), rest[2:]...),
		}, nil

	case packetStart:
		if len(rest) < 3 {
			return nil, &assemblyError{"short start frame"}
		}
		profileID := uint16(rest[0])<<8 | uint16(rest[1])
		total := rest[2]
		a.inFlight = true
		a.transactionLabel = label
		a.messageType = mt
		a.profileID = profileID
		a.totalPackets = total
		a.receivedPackets = 1
		a.buf = append([]byte(nil), rest[3:]...)
		if a.receivedPackets >= a.totalPackets {
			msg := a.finish()
			return msg, nil
		}
		return nil, nil

	case packetContinue, packetEnd:
		if !a.inFlight {
			return nil, &assemblyError{"continuation with no message in flight"}
		}
		if label != a.transactionLabel {
			a.reset()
			return nil, &assemblyError{fmt.Sprintf("continuation for wrong transaction label %d", label)}
		}
		if a.receivedPackets >= a.totalPackets {
			a.reset()
			return nil, &assemblyError{"more fragments than declared packet count"}
		}
		a.buf = append(a.buf, rest...)
		a.receivedPackets++
		if pt == packetEnd {
			if a.receivedPackets != a.totalPackets {
				a.reset()
				return nil, &assemblyError{"end fragment before declared packet count reached"}
			}
			return a.finish(), nil
		}
		if a.receivedPackets == a.totalPackets {
			a.reset()
			return nil, &assemblyError{"continue fragment completed declared packet count without End"}
		}
		return nil, nil

	default:
		return nil, &assemblyError{"unreachable packet type"}
	}
}

func (a *assembler) finish() *Message {
	msg := &Message{
		TransactionLabel: a.transactionLabel,
		Type:             a.messageType,
		ProfileID:        a.profileID,
		Data:             a.buf,
	}
	a.reset()
	return msg
}
