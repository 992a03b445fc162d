package avdtp

// ErrorCode is the 1-byte AVDTP error code appended to a ResponseReject
// payload, using the numeric assignments from the AVDTP specification.
type ErrorCode uint8

const (
	ErrorBadHeaderFormat ErrorCode = 0x01

	ErrorBadLength              ErrorCode = 0x11
	ErrorBadAcpSeid             ErrorCode = 0x12
	ErrorSepInUse               ErrorCode = 0x13
	ErrorSepNotInUse            ErrorCode = 0x14
	ErrorBadServiceCategory     ErrorCode = 0x17
	ErrorBadPayloadFormat       ErrorCode = 0x18
	ErrorNotSupportedCommand    ErrorCode = 0x19
	ErrorInvalidCapabilities    ErrorCode = 0x1A
	ErrorBadRecoveryType        ErrorCode = 0x22
	ErrorBadMediaTransportFmt   ErrorCode = 0x23
	ErrorBadRecoveryFormat      ErrorCode = 0x25
	ErrorBadRohcFormat          ErrorCode = 0x26
	ErrorBadCPFormat            ErrorCode = 0x27
	ErrorBadMultiplexingFormat  ErrorCode = 0x28
	ErrorUnsupportedConfig      ErrorCode = 0x29
	ErrorBadState               ErrorCode = 0x31
)

func (c ErrorCode) Error() string {
	switch c {
	case ErrorBadHeaderFormat:
		return "bad header format"
	case ErrorBadLength:
		return "bad length"
	case ErrorBadAcpSeid:
		return "bad acceptor seid"
	case ErrorSepInUse:
		return "stream endpoint in use"
	case ErrorSepNotInUse:
		return "stream endpoint not in use"
	case ErrorBadServiceCategory:
		return "bad service category"
	case ErrorBadPayloadFormat:
		return "bad payload format"
	case ErrorNotSupportedCommand:
		return "command not supported"
	case ErrorInvalidCapabilities:
		return "invalid capabilities"
	case ErrorBadRecoveryType:
		return "bad recovery type"
	case ErrorBadMediaTransportFmt:
		return "bad media transport format"
	case ErrorBadRecoveryFormat:
		return "bad recovery format"
	case ErrorBadRohcFormat:
		return "bad header compression format"
	case ErrorBadCPFormat:
		return "bad content protection format"
	case ErrorBadMultiplexingFormat:
		return "bad multiplexing format"
	case ErrorUnsupportedConfig:
		return "unsupported configuration"
	case ErrorBadState:
		return "bad state"
	default:
		return "unknown avdtp error"
	}
}
