package avctp

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/blueradio/avstack/l2cap"
)

// ErrMessageTooLarge is returned by Send when a message's frame would
// exceed the channel's MTU. Outbound fragmentation is not implemented; see
// Send.
var ErrMessageTooLarge = errors.New("avctp: message exceeds channel MTU, outbound fragmentation not implemented")

// Avctp frames and defragments control messages over a single L2CAP
// channel, demultiplexing by profile id. Construct one per AVCTP control
// channel.
type Avctp struct {
	channel    l2cap.Channel
	assembler  assembler
	profileIDs map[uint16]struct{}

	log *logrus.Entry
}

// NewAvctp wraps channel, accepting only messages whose profile id is in
// profileIDs.
func NewAvctp(channel l2cap.Channel, profileIDs ...uint16) *Avctp {
	set := make(map[uint16]struct{}, len(profileIDs))
	for _, id := range profileIDs {
		set[id] = struct{}{}
	}
	return &Avctp{
		channel:    channel,
		profileIDs: set,
		log:        logrus.WithField("component", "avctp"),
	}
}

// Read returns the next Message accepted for one of this Avctp's profile
// ids, reassembling fragments and transparently rejecting messages for
// other profiles along the way. It returns io.EOF when the underlying
// channel is closed.
func (a *Avctp) Read(ctx context.Context) (*Message, error) {
	for {
		frame, err := a.channel.Read(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("avctp: read: %w", err)
		}

		msg, err := a.assembler.process(frame)
		if err != nil {
			a.log.WithError(err).Warn("error processing message")
			continue
		}
		if msg == nil {
			continue
		}

		if _, ok := a.profileIDs[msg.ProfileID]; !ok {
			a.log.WithField("profile_id", msg.ProfileID).Debug("received message with unexpected profile id")
			if msg.Type == Command {
				reject := Message{
					TransactionLabel: msg.TransactionLabel,
					Type:             ResponseInvalidProfile,
					ProfileID:        msg.ProfileID,
					Data:             nil,
				}
				if err := a.Send(ctx, reject); err != nil {
					a.log.WithError(err).Warn("failed to send invalid-profile response")
				}
			}
			continue
		}

		return msg, nil
	}
}

// Send emits message as a single L2CAP frame. Fragmentation of outbound
// messages larger than MTU is a known open item; Send returns
// ErrMessageTooLarge rather than silently truncating or corrupting the
// wire.
func (a *Avctp) Send(ctx context.Context, message Message) error {
	frame := make([]byte, 3+len(message.Data))
	frame[0] = message.TransactionLabel<<4 | byte(packetSingle)<<2 | byte(message.Type)
	frame[1] = byte(message.ProfileID >> 8)
	frame[2] = byte(message.ProfileID)
	copy(frame[3:], message.Data)

	if uint16(len(frame)) > a.channel.MTU() {
		return ErrMessageTooLarge
	}
	if err := a.channel.Send(ctx, frame); err != nil {
		return fmt.Errorf("avctp: send: %w", err)
	}
	return nil
}
