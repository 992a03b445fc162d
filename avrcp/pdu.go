package avrcp

import (
	"encoding/binary"
	"fmt"
)

// PduID identifies an AVRCP vendor-dependent PDU (AVRCP Section 5).
type PduID uint8

const (
	PduGetCapabilities          PduID = 0x10
	PduListPlayerAppAttributes  PduID = 0x11
	PduGetElementAttributes     PduID = 0x20
	PduGetPlayStatus            PduID = 0x30
	PduRegisterNotification     PduID = 0x31
	PduRequestContinuingResp    PduID = 0x40
	PduAbortContinuingResp      PduID = 0x41
	PduSetAbsoluteVolume        PduID = 0x50
)

func (p PduID) String() string {
	switch p {
	case PduGetCapabilities:
		return "GetCapabilities"
	case PduListPlayerAppAttributes:
		return "ListPlayerApplicationSettingAttributes"
	case PduGetElementAttributes:
		return "GetElementAttributes"
	case PduGetPlayStatus:
		return "GetPlayStatus"
	case PduRegisterNotification:
		return "RegisterNotification"
	case PduRequestContinuingResp:
		return "RequestContinuingResponse"
	case PduAbortContinuingResp:
		return "AbortContinuingResponse"
	case PduSetAbsoluteVolume:
		return "SetAbsoluteVolume"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(p))
	}
}

type pduPacketType uint8

const (
	pduSingle pduPacketType = iota
	pduStart
	pduContinue
	pduEnd
)

// pdu is one vendor-dependent PDU, after company_id framing has been
// stripped and any fragmentation across PDU-layer packets resolved.
type pdu struct {
	ID         PduID
	Parameters []byte
}

// encodeOperand renders pdu as the operand of a single, unfragmented AV/C
// vendor-dependent frame: company_id(3) pdu_id(1) packet_type(1)
// parameter_length(2) parameters.
func encodeOperand(p pdu) []byte {
	out := make([]byte, 7+len(p.Parameters))
	out[0] = byte(bluetoothSIGCompanyID >> 16)
	out[1] = byte(bluetoothSIGCompanyID >> 8)
	out[2] = byte(bluetoothSIGCompanyID)
	out[3] = byte(p.ID)
	out[4] = byte(pduSingle)
	binary.BigEndian.PutUint16(out[5:7], uint16(len(p.Parameters)))
	copy(out[7:], p.Parameters)
	return out
}

// fragmentOperands splits p across as many vendor-dependent operands as
// needed to keep each at or below maxParamLen bytes of parameters. The Start
// fragment's parameter_length field carries the total parameter length
// across every fragment; each Continue/End fragment's parameter_length
// carries only that fragment's own length (AVRCP Section 5.1, Fragmentation).
func fragmentOperands(p pdu, maxParamLen int) [][]byte {
	if len(p.Parameters) <= maxParamLen {
		return [][]byte{encodeOperand(p)}
	}

	var out [][]byte
	remaining := p.Parameters
	total := len(p.Parameters)
	first := true
	for len(remaining) > 0 {
		chunkLen := maxParamLen
		if chunkLen > len(remaining) {
			chunkLen = len(remaining)
		}
		chunk := remaining[:chunkLen]
		remaining = remaining[chunkLen:]

		var pt pduPacketType
		declaredLen := chunkLen
		switch {
		case first && len(remaining) > 0:
			pt = pduStart
			declaredLen = total
		case len(remaining) > 0:
			pt = pduContinue
		default:
			if first {
				pt = pduSingle
			} else {
				pt = pduEnd
			}
		}

		frame := make([]byte, 7+chunkLen)
		frame[0] = byte(bluetoothSIGCompanyID >> 16)
		frame[1] = byte(bluetoothSIGCompanyID >> 8)
		frame[2] = byte(bluetoothSIGCompanyID)
		frame[3] = byte(p.ID)
		frame[4] = byte(pt)
		binary.BigEndian.PutUint16(frame[5:7], uint16(declaredLen))
		copy(frame[7:], chunk)
		out = append(out, frame)

		first = false
	}
	return out
}

// pduAssembler reassembles a PDU that may have arrived across several
// vendor-dependent operands, mirroring the AVCTP/AVDTP fragmentation
// pattern but keyed on PduID rather than transaction label (the AVCTP layer
// below has already reassembled the AVCTP-level fragments of each operand).
type pduAssembler struct {
	inFlight bool
	id       PduID
	buf      []byte
	want     int
}

func (a *pduAssembler) reset() {
	a.inFlight = false
	a.buf = nil
	a.want = 0
}

// process consumes one vendor-dependent operand. It returns a complete pdu
// once the declared total has been received, or a nil pdu while more
// fragments are expected. startedFragmentation reports whether this operand
// was a Start fragment.
func (a *pduAssembler) process(operand []byte) (result *pdu, startedFragmentation bool, err error) {
	if len(operand) < 7 {
		return nil, false, fmt.Errorf("avrcp: vendor-dependent operand too short")
	}
	id := PduID(operand[3])
	pt := pduPacketType(operand[4])
	declaredLen := int(binary.BigEndian.Uint16(operand[5:7]))
	payload := operand[7:]

	switch pt {
	case pduSingle:
		a.reset()
		if len(payload) != declaredLen {
			return nil, false, fmt.Errorf("avrcp: declared length %d does not match payload %d", declaredLen, len(payload))
		}
		return &pdu{ID: id, Parameters: append([]byte(nil), payload...)}, false, nil

	case pduStart:
		a.inFlight = true
		a.id = id
		a.want = declaredLen
		a.buf = append([]byte(nil), payload...)
		return nil, true, nil

	case pduContinue, pduEnd:
		if !a.inFlight || a.id != id {
			a.reset()
			return nil, false, fmt.Errorf("avrcp: continuation with no matching PDU in flight")
		}
		a.buf = append(a.buf, payload...)
		if pt == pduEnd {
			reassembled := len(a.buf)
			want := a.want
			if reassembled != want {
				a.reset()
				return nil, false, fmt.Errorf("avrcp: reassembled length %d does not match declared total %d", reassembled, want)
			}
			result := &pdu{ID: a.id, Parameters: a.buf}
			a.reset()
			return result, false, nil
		}
		return nil, false, nil

	default:
		return nil, false, fmt.Errorf("avrcp: unknown PDU packet type")
	}
}
