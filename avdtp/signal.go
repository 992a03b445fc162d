package avdtp

import "fmt"

// MessageType is the 2-bit message_type field of an AVDTP signaling frame.
type MessageType uint8

const (
	MessageCommand MessageType = iota
	MessageGeneralReject
	MessageResponseAccept
	MessageResponseReject
)

// SignalIdentifier is the 6-bit signal identifier carried in the second
// header byte of a Single/Start signaling frame, using the AVDTP
// specification's numeric assignments.
type SignalIdentifier uint8

const (
	SignalDiscover SignalIdentifier = iota + 1
	SignalGetCapabilities
	SignalSetConfiguration
	SignalGetConfiguration
	SignalReconfigure
	SignalOpen
	SignalStart
	SignalClose
	SignalSuspend
	SignalAbort
	SignalSecurityControl
	SignalGetAllCapabilities
	SignalDelayReport
)

func (s SignalIdentifier) String() string {
	switch s {
	case SignalDiscover:
		return "Discover"
	case SignalGetCapabilities:
		return "GetCapabilities"
	case SignalSetConfiguration:
		return "SetConfiguration"
	case SignalGetConfiguration:
		return "GetConfiguration"
	case SignalReconfigure:
		return "Reconfigure"
	case SignalOpen:
		return "Open"
	case SignalStart:
		return "Start"
	case SignalClose:
		return "Close"
	case SignalSuspend:
		return "Suspend"
	case SignalAbort:
		return "Abort"
	case SignalSecurityControl:
		return "SecurityControl"
	case SignalGetAllCapabilities:
		return "GetAllCapabilities"
	case SignalDelayReport:
		return "DelayReport"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(s))
	}
}

// SignalMessage is one complete, reassembled AVDTP signaling message.
type SignalMessage struct {
	TransactionLabel uint8
	Type             MessageType
	SignalIdentifier SignalIdentifier
	Data             []byte
}

type packetType uint8

const (
	packetSingle packetType = iota
	packetStart
	packetContinue
	packetEnd
)

// signalAssembler reassembles a single in-flight signaling message, mirroring
// AVCTP's fragmentation scheme but with the AVDTP header layout (a signal
// identifier byte instead of a 2-byte profile id).
type signalAssembler struct {
	inFlight bool

	transactionLabel uint8
	messageType      MessageType
	signalIdentifier SignalIdentifier
	totalPackets     uint8
	receivedPackets  uint8
	buf              []byte
}

func (a *signalAssembler) reset() {
	a.inFlight = false
	a.buf = nil
	a.totalPackets = 0
	a.receivedPackets = 0
}

type signalAssemblyError struct{ reason string }

func (e *signalAssemblyError) Error() string { return "avdtp: " + e.reason }

func (a *signalAssembler) process(frame []byte) (*SignalMessage, error) {
	if len(frame) < 1 {
		return nil, &signalAssemblyError{"empty frame"}
	}
	header := frame[0]
	label := header >> 4
	pt := packetType((header >> 2) & 0x3)
	mt := MessageType(header & 0x3)
	rest := frame[1:]

	switch pt {
	case packetSingle:
		a.reset()
		if len(rest) < 1 {
			return nil, &signalAssemblyError{"short single frame"}
		}
		sig := SignalIdentifier(rest[0] & 0x3F)
		return &SignalMessage{
			TransactionLabel: label,
			Type:             mt,
			SignalIdentifier: sig,
			Data:             append([]byte(nil), rest[1:]...),
		}, nil

	case packetStart:
		if len(rest) < 2 {
			return nil, &signalAssemblyError{"short start frame"}
		}
		sig := SignalIdentifier(rest[0] & 0x3F)
		total := rest[1]
		a.inFlight = true
		a.transactionLabel = label
		a.messageType = mt
		a.signalIdentifier = sig
		a.totalPackets = total
		a.receivedPackets = 1
		a.buf = append([]byte(nil), rest[2:]...)
		if a.receivedPackets >= a.totalPackets {
			return a.finish(), nil
		}
		return nil, nil

	case packetContinue, packetEnd:
		if !a.inFlight {
			return nil, &signalAssemblyError{"continuation with no message in flight"}
		}
		if label != a.transactionLabel {
			a.reset()
			return nil, &signalAssemblyError{fmt.Sprintf("continuation for wrong transaction label %d", label)}
		}
		if a.receivedPackets >= a.totalPackets {
			a.reset()
			return nil, &signalAssemblyError{"more fragments than declared packet count"}
		}
		a.buf = append(a.buf, rest...)
		a.receivedPackets++
		if pt == packetEnd {
			if a.receivedPackets != a.totalPackets {
				a.reset()
				return nil, &signalAssemblyError{"end fragment before declared packet count reached"}
			}
			return a.finish(), nil
		}
		if a.receivedPackets == a.totalPackets {
			a.reset()
			return nil, &signalAssemblyError{"continue fragment completed declared packet count without End"}
		}
		return nil, nil

	default:
		return nil, &signalAssemblyError{"unreachable packet type"}
	}
}

func (a *signalAssembler) finish() *SignalMessage {
	msg := &SignalMessage{
		TransactionLabel: a.transactionLabel,
		Type:             a.messageType,
		SignalIdentifier: a.signalIdentifier,
		Data:             a.buf,
	}
	a.reset()
	return msg
}

// encodeSingle renders msg as a single (unfragmented) wire frame. Outbound
// signaling responses in this implementation always fit in one frame: the
// dispatcher only ever replies to a command it just received, so its
// payload is bounded by what GetCapabilities/GetAllCapabilities/Discover can
// return for a realistic endpoint set.
func encodeSingle(msg SignalMessage) []byte {
	frame := make([]byte, 2+len(msg.Data))
	frame[0] = msg.TransactionLabel<<4 | byte(packetSingle)<<2 | byte(msg.Type)
	frame[1] = byte(msg.SignalIdentifier) & 0x3F
	copy(frame[2:], msg.Data)
	return frame
}
