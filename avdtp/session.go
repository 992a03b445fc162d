package avdtp

import (
	"context"
	"errors"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/blueradio/avstack/l2cap"
)

// session drives one AVDTP signaling channel: dispatching commands,
// tracking the Stream list, and routing rendezvous'd transport channels to
// the Stream waiting for them.
type session struct {
	channel       l2cap.Channel
	assembler     signalAssembler
	localEndpoints []*LocalEndpoint
	streams       []*Stream

	// transportCh delivers transport channels rendezvous'd by the Server.
	// It is always live (owned solely by this session's run goroutine) so
	// the Server never has to reach into session state across goroutines;
	// whether a just-arrived channel actually has a Stream waiting for it
	// in Opening is decided here, inside the loop.
	transportCh chan l2cap.Channel

	streamDone chan int

	log *logrus.Entry
}

func newSession(channel l2cap.Channel, endpoints []*LocalEndpoint) *session {
	return &session{
		channel:        channel,
		localEndpoints: endpoints,
		transportCh:    make(chan l2cap.Channel, 1),
		streamDone:     make(chan int, 8),
		log:            logrus.WithField("component", "avdtp.session"),
	}
}

type signalRead struct {
	frame []byte
	err   error
}

// run is the signaling loop. It reads frames on its own goroutine so the
// select below stays responsive to stream completion and transport
// rendezvous events even while blocked waiting on the next signaling frame.
// It returns when the signaling channel closes.
func (s *session) run(ctx context.Context) error {
	reads := make(chan signalRead, 1)
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	go func() {
		for {
			frame, err := s.channel.Read(readCtx)
			select {
			case reads <- signalRead{frame, err}:
			case <-readCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case idx := <-s.streamDone:
			if idx >= 0 && idx < len(s.streams) {
				s.log.WithField("seid", s.streams[idx].localEndpoint).Debug("stream ended")
				s.removeStreamAt(idx)
			}

		case ch := <-s.transportCh:
			s.attachTransport(ctx, ch)

		case res := <-reads:
			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					return nil
				}
				return res.err
			}
			msg, err := s.assembler.process(res.frame)
			if err != nil {
				s.log.WithError(err).Warn("error processing signaling message")
				continue
			}
			if msg == nil {
				continue
			}
			reply := s.handleSignalMessage(*msg)
			if err := s.channel.Send(ctx, encodeSingle(reply)); err != nil {
				s.log.WithError(err).Warn("failed to send signaling reply")
			}
		}
	}
}

func (s *session) removeStreamAt(idx int) {
	s.streams = append(s.streams[:idx], s.streams[idx+1:]...)
}

func (s *session) attachTransport(ctx context.Context, ch l2cap.Channel) {
	for i, stream := range s.streams {
		if stream.IsOpening() {
			stream.setTransport(ch)
			idx := i
			go stream.runTransport(ctx, idx, s.streamDone)
			return
		}
	}
	s.log.Warn("transport channel arrived with no stream waiting in Opening")
	ch.RejectConnection()
}

func (s *session) getEndpoint(seid uint8) (*LocalEndpoint, ErrorCode) {
	for _, ep := range s.localEndpoints {
		if ep.SEID == seid {
			return ep, 0
		}
	}
	return nil, ErrorBadAcpSeid
}

func (s *session) getStream(seid uint8) (*Stream, ErrorCode) {
	for _, st := range s.streams {
		if st.localEndpoint == seid {
			return st, 0
		}
	}
	for _, ep := range s.localEndpoints {
		if ep.SEID == seid {
			return nil, ErrorBadState
		}
	}
	return nil, ErrorBadAcpSeid
}

// rejection carries the error-context bytes a ResponseReject prepends to
// its trailing ErrorCode byte (AVDTP Section 8.x "ERROR CODE" framing).
type rejection struct {
	context []byte
	code    ErrorCode
}

func (s *session) handleSignalMessage(msg SignalMessage) SignalMessage {
	data := msg.Data
	switch msg.SignalIdentifier {
	case SignalDiscover:
		return s.accept(msg, func() ([]byte, *rejection) {
			if len(data) != 0 {
				return nil, &rejection{code: ErrorBadLength}
			}
			var out []byte
			for _, ep := range s.localEndpoints {
				b := ep.asStreamEndpoint()
				out = append(out, b[0], b[1])
			}
			return out, nil
		})

	case SignalGetCapabilities:
		return s.accept(msg, func() ([]byte, *rejection) {
			if len(data) != 1 {
				return nil, &rejection{code: ErrorBadLength}
			}
			seid := data[0] >> 2
			ep, code := s.getEndpoint(seid)
			if code != 0 {
				return nil, &rejection{code: code}
			}
			return encodeCapabilities(ep.basicCapabilities()), nil
		})

	case SignalGetAllCapabilities:
		return s.accept(msg, func() ([]byte, *rejection) {
			if len(data) != 1 {
				return nil, &rejection{code: ErrorBadLength}
			}
			seid := data[0] >> 2
			ep, code := s.getEndpoint(seid)
			if code != 0 {
				return nil, &rejection{code: code}
			}
			return encodeCapabilities(ep.Capabilities), nil
		})

	case SignalSetConfiguration:
		return s.accept(msg, func() ([]byte, *rejection) {
			if len(data) < 2 {
				return nil, &rejection{[]byte{byte(ServiceCategoryUnknown)}, ErrorBadLength}
			}
			acpSEID := data[0] >> 2
			intSEID := data[1] >> 2
			caps, err := decodeCapabilities(data[2:])
			if err != nil {
				return nil, &rejection{[]byte{byte(ServiceCategoryUnknown)}, ErrorBadPayloadFormat}
			}
			ep, code := s.getEndpoint(acpSEID)
			if code != 0 {
				return nil, &rejection{[]byte{byte(ServiceCategoryUnknown)}, code}
			}
			for _, st := range s.streams {
				if st.localEndpoint == acpSEID {
					return nil, &rejection{[]byte{byte(ServiceCategoryUnknown)}, ErrorBadState}
				}
			}
			s.streams = append(s.streams, newStream(ep, intSEID, caps))
			ep.inUse = true
			return nil, nil
		})

	case SignalGetConfiguration:
		return s.accept(msg, func() ([]byte, *rejection) {
			if len(data) != 1 {
				return nil, &rejection{code: ErrorBadLength}
			}
			seid := data[0] >> 2
			st, code := s.getStream(seid)
			if code != 0 {
				return nil, &rejection{code: code}
			}
			return encodeCapabilities(st.getCapabilities()), nil
		})

	case SignalReconfigure:
		return s.accept(msg, func() ([]byte, *rejection) {
			if len(data) < 1 {
				return nil, &rejection{[]byte{byte(ServiceCategoryUnknown)}, ErrorBadLength}
			}
			acpSEID := data[0] >> 2
			caps, err := decodeCapabilities(data[1:])
			if err != nil {
				return nil, &rejection{[]byte{byte(ServiceCategoryUnknown)}, ErrorBadPayloadFormat}
			}
			ep, code := s.getEndpoint(acpSEID)
			if code != 0 {
				return nil, &rejection{[]byte{byte(ServiceCategoryUnknown)}, code}
			}
			st, code := s.getStream(acpSEID)
			if code != 0 {
				return nil, &rejection{[]byte{byte(ServiceCategoryUnknown)}, code}
			}
			if err := st.reconfigure(caps, ep); err != nil {
				return nil, &rejection{[]byte{byte(ServiceCategoryUnknown)}, err.(ErrorCode)}
			}
			return nil, nil
		})

	case SignalOpen:
		return s.accept(msg, func() ([]byte, *rejection) {
			if len(data) != 1 {
				return nil, &rejection{code: ErrorBadLength}
			}
			seid := data[0] >> 2
			st, code := s.getStream(seid)
			if code != 0 {
				return nil, &rejection{code: code}
			}
			if err := st.setToOpening(); err != nil {
				return nil, &rejection{code: err.(ErrorCode)}
			}
			return nil, nil
		})

	case SignalStart:
		return s.acceptWithSEIDContext(msg, func() ([]byte, uint8, ErrorCode) {
			remaining := data
			for len(remaining) > 0 {
				seid := remaining[0] >> 2
				remaining = remaining[1:]
				st, code := s.getStream(seid)
				if code != 0 {
					return nil, seid, code
				}
				if err := st.start(); err != nil {
					return nil, seid, err.(ErrorCode)
				}
			}
			return nil, 0, 0
		})

	case SignalClose:
		return s.accept(msg, func() ([]byte, *rejection) {
			if len(data) != 1 {
				return nil, &rejection{code: ErrorBadLength}
			}
			seid := data[0] >> 2
			st, code := s.getStream(seid)
			if code != 0 {
				return nil, &rejection{code: code}
			}
			if err := st.close(); err != nil {
				return nil, &rejection{code: err.(ErrorCode)}
			}
			return nil, nil
		})

	case SignalSuspend:
		return s.acceptWithSEIDContext(msg, func() ([]byte, uint8, ErrorCode) {
			remaining := data
			for len(remaining) > 0 {
				seid := remaining[0] >> 2
				remaining = remaining[1:]
				st, code := s.getStream(seid)
				if code != 0 {
					return nil, seid, code
				}
				if err := st.stop(); err != nil {
					return nil, seid, err.(ErrorCode)
				}
			}
			return nil, 0, 0
		})

	case SignalAbort:
		return s.accept(msg, func() ([]byte, *rejection) {
			if len(data) != 1 {
				return nil, &rejection{code: ErrorBadLength}
			}
			seid := data[0] >> 2
			for i, st := range s.streams {
				if st.localEndpoint == seid {
					s.removeStreamAt(i)
					break
				}
			}
			return nil, nil
		})

	case SignalSecurityControl, SignalDelayReport:
		return s.accept(msg, func() ([]byte, *rejection) {
			return nil, &rejection{code: ErrorNotSupportedCommand}
		})

	default:
		s.log.WithField("signal", msg.SignalIdentifier).Warn("unsupported signaling message")
		return SignalMessage{
			TransactionLabel: msg.TransactionLabel,
			Type:             MessageGeneralReject,
			SignalIdentifier: msg.SignalIdentifier,
			Data:             nil,
		}
	}
}

// accept runs f and builds the ResponseAccept/ResponseReject for msg.
func (s *session) accept(msg SignalMessage, f func() ([]byte, *rejection)) SignalMessage {
	data, rej := f()
	if rej == nil {
		return SignalMessage{
			TransactionLabel: msg.TransactionLabel,
			Type:             MessageResponseAccept,
			SignalIdentifier: msg.SignalIdentifier,
			Data:             data,
		}
	}
	s.log.WithFields(logrus.Fields{"signal": msg.SignalIdentifier, "code": rej.code}).Warn("rejecting signal")
	payload := append(append([]byte(nil), rej.context...), byte(rej.code))
	return SignalMessage{
		TransactionLabel: msg.TransactionLabel,
		Type:             MessageResponseReject,
		SignalIdentifier: msg.SignalIdentifier,
		Data:             payload,
	}
}

// acceptWithSEIDContext implements Start/Suspend's per-spec rule: on
// failure, the reject context is the single seid byte that failed, not the
// whole list.
func (s *session) acceptWithSEIDContext(msg SignalMessage, f func() ([]byte, uint8, ErrorCode)) SignalMessage {
	data, seid, code := f()
	if code == 0 {
		return SignalMessage{
			TransactionLabel: msg.TransactionLabel,
			Type:             MessageResponseAccept,
			SignalIdentifier: msg.SignalIdentifier,
			Data:             data,
		}
	}
	s.log.WithFields(logrus.Fields{"signal": msg.SignalIdentifier, "seid": seid, "code": code}).Warn("rejecting signal")
	return SignalMessage{
		TransactionLabel: msg.TransactionLabel,
		Type:             MessageResponseReject,
		SignalIdentifier: msg.SignalIdentifier,
		Data:             []byte{seid, byte(code)},
	}
}
