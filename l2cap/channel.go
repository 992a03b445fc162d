// Package l2cap describes the external L2CAP channel contract consumed by
// the AVCTP, AVDTP and AVRCP layers. It does not implement a real L2CAP
// binding: HCI transport, firmware loading and SDP record publication live
// outside this module, supplied by whatever controller stack wires a
// Channel implementation in.
package l2cap

import "context"

// Fixed PSM values for the profiles this module cares about.
const (
	AVCTPPSM = 0x0017
	AVDTPPSM = 0x0019
)

// Channel is a reliable, ordered, framed byte-stream with a negotiated MTU.
// Each Read returns one complete L2CAP frame; there is no internal
// buffering of partial frames left for the caller to do.
type Channel interface {
	// Configure runs the channel's connection parameter / MTU negotiation
	// handshake. It must complete before Read or Send are called.
	Configure(ctx context.Context) error

	// Read blocks until the next frame arrives, the channel is closed
	// (io.EOF), or ctx is done.
	Read(ctx context.Context) ([]byte, error)

	// Send writes one frame. It does not fragment; callers must keep each
	// frame within MTU.
	Send(ctx context.Context, frame []byte) error

	// AcceptConnection / RejectConnection answer an incoming connection
	// request. Exactly one of the two must be called before Configure.
	AcceptConnection() error
	RejectConnection() error

	// ConnectionHandle is the HCI connection handle this channel's
	// baseband connection was accepted on. Two channels with the same
	// handle belong to the same link (e.g. AVDTP signaling + transport).
	ConnectionHandle() uint16

	// MTU is the negotiated maximum payload size for a single Send, valid
	// after Configure returns.
	MTU() uint16
}

// Acceptor is implemented by a protocol server that wants to receive newly
// established L2CAP channels for one of its PSMs.
type Acceptor interface {
	OnConnection(channel Channel)
}
