package avdtp

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/blueradio/avstack/l2cap"
)

// StreamState is a position in the stream endpoint lifecycle
// (AVDTP Section 9.1).
type StreamState uint8

const (
	StreamIdle StreamState = iota
	StreamConfigured
	StreamOpening
	StreamOpen
	StreamStreaming
	StreamClosing
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "Idle"
	case StreamConfigured:
		return "Configured"
	case StreamOpening:
		return "Opening"
	case StreamOpen:
		return "Open"
	case StreamStreaming:
		return "Streaming"
	case StreamClosing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// Stream is one negotiated media stream, pairing a LocalEndpoint to a peer
// seid and, once opened, a transport channel.
type Stream struct {
	localEndpoint uint8 // seid of the LocalEndpoint this stream configures
	remoteSEID    uint8
	state         StreamState
	capabilities  []Capability
	handler       StreamHandler
	transport     l2cap.Channel

	log *logrus.Entry
}

func newStream(ep *LocalEndpoint, remoteSEID uint8, capabilities []Capability) *Stream {
	var handler StreamHandler
	if ep.Factory != nil {
		handler = ep.Factory()
	}
	return &Stream{
		localEndpoint: ep.SEID,
		remoteSEID:    remoteSEID,
		state:         StreamConfigured,
		capabilities:  capabilities,
		handler:       handler,
		log: logrus.WithFields(logrus.Fields{
			"component": "avdtp.stream",
			"seid":      ep.SEID,
		}),
	}
}

// IsOpening reports whether the stream is waiting for its transport
// channel to arrive.
func (s *Stream) IsOpening() bool { return s.state == StreamOpening }

func (s *Stream) getCapabilities() []Capability { return s.capabilities }

func (s *Stream) reconfigure(caps []Capability, ep *LocalEndpoint) error {
	if s.state != StreamOpen && s.state != StreamConfigured {
		return ErrorBadState
	}
	_ = ep
	s.capabilities = caps
	return nil
}

func (s *Stream) setToOpening() error {
	if s.state != StreamConfigured {
		return ErrorBadState
	}
	s.state = StreamOpening
	return nil
}

// setTransport attaches a just-arrived transport channel and transitions
// Opening -> Open. Called by the session when the rendezvous slot fires.
func (s *Stream) setTransport(ch l2cap.Channel) {
	s.transport = ch
	s.state = StreamOpen
}

func (s *Stream) start() error {
	if s.state != StreamOpen {
		return ErrorBadState
	}
	s.state = StreamStreaming
	if s.handler != nil {
		s.handler.OnPlayStarted()
	}
	return nil
}

func (s *Stream) stop() error {
	if s.state != StreamStreaming {
		return ErrorBadState
	}
	s.state = StreamOpen
	if s.handler != nil {
		s.handler.OnPlayStopped()
	}
	return nil
}

func (s *Stream) close() error {
	switch s.state {
	case StreamOpen, StreamStreaming:
		s.state = StreamClosing
		return nil
	default:
		return ErrorBadState
	}
}

// runTransport reads media packets off the stream's transport channel until
// it closes, delivering each to the handler. It runs on its own goroutine so
// a slow codec stalls only this stream, never the signaling session. done is
// sent to exactly once, carrying index so the session can identify which
// stream finished.
func (s *Stream) runTransport(ctx context.Context, index int, done chan<- int) {
	defer func() { done <- index }()
	if s.transport == nil {
		return
	}
	for {
		data, err := s.transport.Read(ctx)
		if err != nil {
			s.log.WithError(err).Debug("transport channel closed")
			return
		}
		if s.handler != nil {
			s.handler.OnMedia(data)
		}
	}
}

func (s *Stream) String() string {
	return fmt.Sprintf("Stream{seid=%d remote=%d state=%s}", s.localEndpoint, s.remoteSEID, s.state)
}
