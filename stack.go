// Package avstack wires the AVCTP framing layer, the AVDTP stream
// endpoint signaling session, and the AVRCP remote control session into a
// single entry point for an external L2CAP binding to dispatch incoming
// channels into.
package avstack

import (
	"github.com/sirupsen/logrus"

	"github.com/blueradio/avstack/avdtp"
	"github.com/blueradio/avstack/avrcp"
	"github.com/blueradio/avstack/l2cap"
)

// Stack routes newly established L2CAP channels to the AVDTP or AVRCP
// server by PSM. It does not itself listen on a real controller; the
// caller's L2CAP binding calls OnConnection for each accepted channel.
type Stack struct {
	avdtp *avdtp.Server
	avrcp *avrcp.Server

	log *logrus.Entry
}

// New builds a Stack. endpoints is invoked once per new AVDTP signaling
// session to build that peer's independent stream endpoint set.
// sessionHandler is notified of every new/closed AVRCP session.
func New(endpoints func() []*avdtp.LocalEndpoint, sessionHandler avrcp.SessionHandler) *Stack {
	return &Stack{
		avdtp: avdtp.NewServer(endpoints),
		avrcp: avrcp.NewServer(sessionHandler),
		log:   logrus.WithField("component", "avstack"),
	}
}

// OnConnection dispatches channel to the AVDTP or AVRCP server according to
// psm, the PSM the channel was opened on. Channels on any other PSM are
// rejected and logged.
func (s *Stack) OnConnection(psm uint16, channel l2cap.Channel) {
	switch psm {
	case l2cap.AVDTPPSM:
		s.avdtp.OnConnection(channel)
	case l2cap.AVCTPPSM:
		s.avrcp.OnConnection(channel)
	default:
		s.log.WithField("psm", psm).Warn("rejecting connection on unrecognized PSM")
		channel.RejectConnection()
	}
}
