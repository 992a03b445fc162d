package avrcp

// CommandKind tags the variants of an outbound Command.
type CommandKind uint8

const (
	KindPassThrough CommandKind = iota
	KindVendorSpecific
	KindRegisterNotification
)

// Command is a user-issued outbound AVRCP request, submitted to a Session
// and answered asynchronously through the returned Result channel.
type Command struct {
	Kind CommandKind

	// PassThrough fields (AVRCP Section 5.11 / AV/C Panel Subunit op_id).
	OperationID uint8
	KeyPressed  bool

	// VendorSpecific fields.
	PduID          PduID
	CommandCode    CommandCode
	Parameters     []byte

	// RegisterNotification fields.
	Event          EventID
	PlaybackIntervalSeconds uint32
}

// NewPassThroughCommand builds a PASS THROUGH command for the given AV/C
// operation id, e.g. play/pause/volume up.
func NewPassThroughCommand(operationID uint8, pressed bool) Command {
	return Command{
		Kind:        KindPassThrough,
		OperationID: operationID,
		KeyPressed:  pressed,
	}
}

// NewVendorSpecificCommand builds a vendor-dependent PDU command.
func NewVendorSpecificCommand(pduID PduID, ctype CommandCode, parameters []byte) Command {
	return Command{
		Kind:        KindVendorSpecific,
		PduID:       pduID,
		CommandCode: ctype,
		Parameters:  parameters,
	}
}

// NewRegisterNotificationCommand builds a RegisterNotification command,
// with playbackIntervalSeconds only meaningful for PlaybackPositionChanged
// (unused here, since only VolumeChanged is supported).
func NewRegisterNotificationCommand(event EventID, playbackIntervalSeconds uint32) Command {
	return Command{
		Kind:                    KindRegisterNotification,
		Event:                   event,
		PlaybackIntervalSeconds: playbackIntervalSeconds,
	}
}

// Result is the outcome of one Command, delivered once its terminal
// response arrives. If the session ends while the transaction is still
// outstanding, the channel is closed without a Result.
type Result struct {
	Data []byte
	Err  error
}
