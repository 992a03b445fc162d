// Package avrcp implements the Audio/Video Remote Control Profile session
// layer: vendor-dependent PDU commands and responses, PDU-level
// fragmentation, and the transaction table that multiplexes concurrent
// outstanding commands over one avctp.Avctp channel.
package avrcp

// Opcode is the AV/C operation code (AV/C Digital Interface Command Set
// Section 5.3.1).
type Opcode uint8

const (
	OpcodeVendorDependent Opcode = 0x00
	OpcodePassThrough     Opcode = 0x7C
	OpcodeUnitInfo        Opcode = 0x30
	OpcodeSubunitInfo     Opcode = 0x31
)

// CommandCode is the ctype field of an AV/C command frame, and is reused on
// responses (where it is called the response code).
type CommandCode uint8

const (
	CommandControl         CommandCode = 0x00
	CommandStatus          CommandCode = 0x01
	CommandSpecificInquiry CommandCode = 0x02
	CommandNotify          CommandCode = 0x03
	CommandGeneralInquiry  CommandCode = 0x04

	ResponseNotImplemented CommandCode = 0x08
	ResponseAccepted       CommandCode = 0x09
	ResponseRejected       CommandCode = 0x0A
	ResponseInTransition   CommandCode = 0x0B
	ResponseStable         CommandCode = 0x0C
	ResponseChanged        CommandCode = 0x0D
	ResponseInterim        CommandCode = 0x0F
)

// Subunit is the 5-bit AV/C subunit type; AVRCP always addresses the panel
// subunit. The 3-bit subunit id is always encoded as 0 and is dropped on
// decode.
type Subunit uint8

const (
	SubunitPanel Subunit = 0x09
)

// bluetoothSIGCompanyID is the 24-bit company_id AVRCP vendor-dependent
// frames always carry, identifying the Bluetooth SIG as the "vendor".
const bluetoothSIGCompanyID = 0x001958

// Frame is one AV/C frame carried inside an avctp.Message's Data.
type Frame struct {
	CommandCode CommandCode
	Subunit     Subunit
	Opcode      Opcode
	Operand     []byte
}

// encode renders f as wire bytes: ctype/response, subunit_type<<3|subunit_id,
// opcode, operands.
func (f Frame) encode() []byte {
	out := make([]byte, 3+len(f.Operand))
	out[0] = byte(f.CommandCode)
	out[1] = byte(f.Subunit) << 3
	out[2] = byte(f.Opcode)
	copy(out[3:], f.Operand)
	return out
}

func decodeFrame(data []byte) (Frame, error) {
	if len(data) < 3 {
		return Frame{}, errShortFrame
	}
	return Frame{
		CommandCode: CommandCode(data[0]),
		Subunit:     Subunit(data[1] >> 3),
		Opcode:      Opcode(data[2]),
		Operand:     append([]byte(nil), data[3:]...),
	}, nil
}
