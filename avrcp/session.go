package avrcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/blueradio/avstack/avctp"
	"github.com/blueradio/avstack/l2cap"
)

// ProfileID is the Bluetooth SIG profile id AVRCP control messages carry at
// the AVCTP layer.
const ProfileID uint16 = 0x110E

const maxOutstandingCommands = 16

type slotState uint8

const (
	slotEmpty slotState = iota
	slotPendingPassThrough
	slotPendingVendorDependent
	slotPendingNotificationRegistration
	slotWaitingForChange
)

type outboundSlot struct {
	state     slotState
	resultCh  chan Result
	assembler pduAssembler
	pduID     PduID

	// sentCode is the CommandCode the outbound frame occupying this slot
	// was sent with (Control/Status/Notify/...), needed to pick the right
	// row of the response decision table in handleInboundResponse.
	sentCode CommandCode
}

// Session multiplexes one AVRCP control channel: outbound Commands this
// side issues, and inbound vendor-dependent commands (GetCapabilities,
// RegisterNotification, SetAbsoluteVolume, continuing-response control)
// the peer issues against this side acting as target.
type Session struct {
	transport *avctp.Avctp

	sendCh chan sendRequest

	// eventsCh delivers peer-initiated notifications to the application:
	// an inbound SetAbsoluteVolume push from the peer, and the eventual
	// Changed response completing an outbound RegisterNotification this
	// side registered. Non-blocking send, capacity 16, drop-with-Warn on
	// overflow.
	eventsCh chan Event

	mu    sync.Mutex
	slots [maxOutstandingCommands]outboundSlot

	volume                 uint8
	pendingVolumeNotify    *uint8 // peer's transaction label, nil if no registration outstanding

	log *logrus.Entry
}

type sendRequest struct {
	cmd    Command
	result chan Result
	done   chan error
}

// NewSession wraps channel as an AVRCP control session.
func NewSession(channel l2cap.Channel) *Session {
	return &Session{
		transport: avctp.NewAvctp(channel, ProfileID),
		sendCh:    make(chan sendRequest, 16),
		eventsCh:  make(chan Event, 16),
		volume:    MaxVolume,
		log:       logrus.WithField("component", "avrcp.session"),
	}
}

// Events returns the channel this session delivers peer-initiated
// notifications on. A send is only attempted non-blockingly; a slow or
// absent reader just misses events, logged at Warn, rather than stalling
// the session loop.
func (s *Session) Events() <-chan Event {
	return s.eventsCh
}

func (s *Session) emitEvent(ev Event) {
	select {
	case s.eventsCh <- ev:
	default:
		s.log.WithField("event", ev.ID).Warn("events channel full, dropping")
	}
}

// Send submits cmd and returns a channel receiving exactly one Result once
// the command's transaction completes (or ErrNoTransactionIDAvailable
// synchronously if all 16 slots are occupied).
func (s *Session) Send(ctx context.Context, cmd Command) (<-chan Result, error) {
	req := sendRequest{cmd: cmd, result: make(chan Result, 1), done: make(chan error, 1)}
	select {
	case s.sendCh <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case err := <-req.done:
		if err != nil {
			return nil, err
		}
		return req.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// UpdatedVolume reports the local volume as a [0,1] fraction. If a peer has
// an outstanding VolumeChanged registration, this pushes the Changed
// response on that registration's transaction label and clears it.
func (s *Session) UpdatedVolume(ctx context.Context, fraction float64) error {
	quantized := quantizeVolume(fraction)

	s.mu.Lock()
	s.volume = quantized
	label := s.pendingVolumeNotify
	s.pendingVolumeNotify = nil
	s.mu.Unlock()

	if label == nil {
		return nil
	}

	frame := Frame{
		CommandCode: ResponseChanged,
		Subunit:     SubunitPanel,
		Opcode:      OpcodeVendorDependent,
		Operand:     encodeOperand(pdu{ID: PduRegisterNotification, Parameters: []byte{byte(EventVolumeChanged), quantized}}),
	}
	msg := avctp.Message{
		TransactionLabel: *label,
		Type:             avctp.Response,
		ProfileID:        ProfileID,
		Data:             frame.encode(),
	}
	return s.transport.Send(ctx, msg)
}

// Run drives the session loop until the underlying channel closes.
func (s *Session) Run(ctx context.Context) error {
	reads := make(chan avctpRead, 1)
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() {
		// Transactions still outstanding when the loop exits will never get
		// a response: close their result channels so waiting callers see it.
		s.mu.Lock()
		for i := range s.slots {
			if s.slots[i].state != slotEmpty && s.slots[i].resultCh != nil {
				close(s.slots[i].resultCh)
			}
			s.slots[i] = outboundSlot{}
		}
		s.mu.Unlock()
	}()
	go func() {
		for {
			msg, err := s.transport.Read(readCtx)
			select {
			case reads <- avctpRead{msg, err}:
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

		case req := <-s.sendCh:
			s.handleSendRequest(ctx, req)

		case r := <-reads:
			if r.err != nil {
				if errors.Is(r.err, io.EOF) {
					return nil
				}
				return r.err
			}
			s.handleInbound(ctx, *r.msg)
		}
	}
}

type avctpRead struct {
	msg *avctp.Message
	err error
}

func (s *Session) allocateSlot(kind slotState, pduID PduID, sentCode CommandCode) (uint8, *outboundSlot, bool) {
	for i := range s.slots {
		if s.slots[i].state == slotEmpty {
			s.slots[i] = outboundSlot{state: kind, resultCh: make(chan Result, 1), pduID: pduID, sentCode: sentCode}
			return uint8(i), &s.slots[i], true
		}
	}
	return 0, nil, false
}

func (s *Session) handleSendRequest(ctx context.Context, req sendRequest) {
	s.mu.Lock()

	var kind slotState
	var pduID PduID
	var frame Frame
	switch req.cmd.Kind {
	case KindPassThrough:
		kind = slotPendingPassThrough
		stateBit := byte(0)
		if !req.cmd.KeyPressed {
			stateBit = 1
		}
		frame = Frame{
			CommandCode: CommandControl,
			Subunit:     SubunitPanel,
			Opcode:      OpcodePassThrough,
			Operand:     []byte{stateBit<<7 | req.cmd.OperationID&0x7F, 0x00},
		}
	case KindVendorSpecific:
		kind = slotPendingVendorDependent
		pduID = req.cmd.PduID
		frame = Frame{
			CommandCode: req.cmd.CommandCode,
			Subunit:     SubunitPanel,
			Opcode:      OpcodeVendorDependent,
			Operand:     encodeOperand(pdu{ID: req.cmd.PduID, Parameters: req.cmd.Parameters}),
		}
	case KindRegisterNotification:
		kind = slotPendingNotificationRegistration
		pduID = PduRegisterNotification
		params := make([]byte, 5)
		params[0] = byte(req.cmd.Event)
		params[1] = byte(req.cmd.PlaybackIntervalSeconds >> 24)
		params[2] = byte(req.cmd.PlaybackIntervalSeconds >> 16)
		params[3] = byte(req.cmd.PlaybackIntervalSeconds >> 8)
		params[4] = byte(req.cmd.PlaybackIntervalSeconds)
		frame = Frame{
			CommandCode: CommandNotify,
			Subunit:     SubunitPanel,
			Opcode:      OpcodeVendorDependent,
			Operand:     encodeOperand(pdu{ID: PduRegisterNotification, Parameters: params}),
		}
	default:
		s.mu.Unlock()
		req.done <- fmt.Errorf("avrcp: unknown command kind")
		return
	}

	label, slot, ok := s.allocateSlot(kind, pduID, frame.CommandCode)
	if !ok {
		s.mu.Unlock()
		req.done <- ErrNoTransactionIDAvailable
		return
	}
	slot.resultCh = req.result
	s.mu.Unlock()

	msg := avctp.Message{
		TransactionLabel: label,
		Type:             avctp.Command,
		ProfileID:        ProfileID,
		Data:             frame.encode(),
	}
	if err := s.transport.Send(ctx, msg); err != nil {
		s.mu.Lock()
		s.slots[label] = outboundSlot{}
		s.mu.Unlock()
		req.done <- err
		return
	}
	req.done <- nil
}

func (s *Session) handleInbound(ctx context.Context, msg avctp.Message) {
	frame, err := decodeFrame(msg.Data)
	if err != nil {
		s.log.WithError(err).Warn("dropping malformed AV/C frame")
		return
	}

	switch msg.Type {
	case avctp.Command:
		s.handleInboundCommand(ctx, msg.TransactionLabel, frame)
	case avctp.Response, avctp.ResponseNotImplemented, avctp.ResponseInvalidProfile:
		s.handleInboundResponse(msg.TransactionLabel, frame)
	default:
		s.log.WithField("type", msg.Type).Debug("ignoring message of unhandled type")
	}
}

func (s *Session) handleInboundResponse(label uint8, frame Frame) {
	s.mu.Lock()
	slot := &s.slots[label]
	if slot.state == slotEmpty {
		s.mu.Unlock()
		s.log.WithField("label", label).Debug("response for unknown transaction, dropping")
		return
	}

	switch slot.state {
	case slotPendingPassThrough:
		resultCh := slot.resultCh
		*slot = outboundSlot{}
		s.mu.Unlock()
		if frame.CommandCode == ResponseRejected || frame.CommandCode == ResponseNotImplemented {
			resultCh <- Result{Err: fmt.Errorf("avrcp: pass-through rejected")}
		} else {
			resultCh <- Result{}
		}
		return

	case slotPendingVendorDependent:
		sentCode := slot.sentCode
		switch frame.CommandCode {
		case ResponseRejected:
			resultCh := slot.resultCh
			*slot = outboundSlot{}
			s.mu.Unlock()
			errCode := ErrorInternalError
			if len(frame.Operand) >= 8 {
				errCode = ErrorCode(frame.Operand[7])
			}
			resultCh <- Result{Err: &Error{Code: errCode}}
			return

		case ResponseNotImplemented:
			resultCh := slot.resultCh
			*slot = outboundSlot{}
			s.mu.Unlock()
			resultCh <- Result{Err: &Error{Code: ErrNotImplemented}}
			return

		case ResponseInTransition:
			// Only meaningful as a Status-command response (the target is
			// still assembling the answer); anything else reaching here is
			// peer misbehavior, but Busy is still the closest-fitting
			// outcome to report rather than treating it as success.
			if sentCode != CommandStatus {
				s.log.WithField("label", label).Warn("unexpected IN TRANSITION for a non-Status command")
			}
			resultCh := slot.resultCh
			*slot = outboundSlot{}
			s.mu.Unlock()
			resultCh <- Result{Err: &Error{Code: ErrBusy}}
			return

		case ResponseInterim:
			// Only meaningful as a Control-command response: the target
			// accepted the request and a Stable/Accepted response is still
			// to come on this same label. Leave the slot pending.
			s.mu.Unlock()
			if sentCode != CommandControl {
				s.log.WithField("label", label).Warn("unexpected INTERIM for a non-Control command")
			}
			return

		default:
			result, _, err := slot.assembler.process(frame.Operand)
			pduID := slot.pduID
			resultCh := slot.resultCh
			s.mu.Unlock()
			if err != nil {
				s.clearSlot(label)
				resultCh <- Result{Err: &Error{Code: fmt.Errorf("%w: %v", ErrInvalidReturnData, err)}}
				return
			}
			if result == nil {
				// More fragments are expected after this Start or Continue:
				// ask the target for the next one.
				s.sendRequestContinuingResponse(label, pduID)
				return
			}
			s.clearSlot(label)
			resultCh <- Result{Data: result.Parameters}
			return
		}

	case slotPendingNotificationRegistration:
		switch frame.CommandCode {
		case ResponseRejected:
			resultCh := slot.resultCh
			*slot = outboundSlot{}
			s.mu.Unlock()
			errCode := ErrorInternalError
			if len(frame.Operand) >= 8 {
				errCode = ErrorCode(frame.Operand[7])
			}
			resultCh <- Result{Err: &Error{Code: errCode}}
			return

		case ResponseNotImplemented:
			resultCh := slot.resultCh
			*slot = outboundSlot{}
			s.mu.Unlock()
			resultCh <- Result{Err: &Error{Code: ErrNotImplemented}}
			return

		case ResponseInterim:
			// The two-phase handshake: Interim completes Send with the
			// initial value. The eventual Changed is delivered later,
			// asynchronously, through Events rather than this resultCh
			// (which has exactly one reader and is about to be consumed).
			result, _, err := slot.assembler.process(frame.Operand)
			resultCh := slot.resultCh
			if err != nil {
				*slot = outboundSlot{}
				s.mu.Unlock()
				resultCh <- Result{Err: err}
				return
			}
			if result == nil {
				s.mu.Unlock()
				return
			}
			s.slots[label].state = slotWaitingForChange
			s.mu.Unlock()
			resultCh <- Result{Data: result.Parameters}
			return

		default:
			s.mu.Unlock()
			s.log.WithField("label", label).Warn("unexpected response code while awaiting INTERIM")
			return
		}

	case slotWaitingForChange:
		if frame.CommandCode != ResponseChanged {
			s.mu.Unlock()
			s.log.WithField("label", label).Warn("unexpected response code while awaiting CHANGED")
			return
		}
		result, _, err := slot.assembler.process(frame.Operand)
		s.mu.Unlock()
		if err != nil {
			s.clearSlot(label)
			s.log.WithError(err).Warn("malformed CHANGED notification")
			return
		}
		if result == nil {
			return
		}
		s.clearSlot(label)
		event, parseErr := decodeEvent(result.Parameters)
		if parseErr != nil {
			s.log.WithError(parseErr).Warn("malformed CHANGED event payload")
			return
		}
		s.emitEvent(event)
		return

	default:
		s.mu.Unlock()
	}
}

func (s *Session) clearSlot(label uint8) {
	s.mu.Lock()
	s.slots[label] = outboundSlot{}
	s.mu.Unlock()
}

func (s *Session) sendRequestContinuingResponse(label uint8, pduID PduID) {
	frame := Frame{
		CommandCode: CommandControl,
		Subunit:     SubunitPanel,
		Opcode:      OpcodeVendorDependent,
		Operand:     encodeOperand(pdu{ID: PduRequestContinuingResp, Parameters: []byte{byte(pduID)}}),
	}
	msg := avctp.Message{
		TransactionLabel: label,
		Type:             avctp.Command,
		ProfileID:        ProfileID,
		Data:             frame.encode(),
	}
	if err := s.transport.Send(context.Background(), msg); err != nil {
		s.log.WithError(err).Warn("failed to request continuing response")
	}
}

func (s *Session) handleInboundCommand(ctx context.Context, label uint8, frame Frame) {
	switch frame.Opcode {
	case OpcodePassThrough:
		s.reply(ctx, label, Frame{
			CommandCode: ResponseNotImplemented,
			Subunit:     frame.Subunit,
			Opcode:      frame.Opcode,
			Operand:     frame.Operand,
		})
		return

	case OpcodeUnitInfo:
		s.reply(ctx, label, Frame{
			CommandCode: ResponseStable,
			Subunit:     frame.Subunit,
			Opcode:      OpcodeUnitInfo,
			Operand: []byte{
				0x07,
				byte(SubunitPanel) << 3,
				byte(bluetoothSIGCompanyID >> 16),
				byte(bluetoothSIGCompanyID >> 8),
				byte(bluetoothSIGCompanyID),
			},
		})
		return

	case OpcodeSubunitInfo:
		var page byte
		if len(frame.Operand) >= 1 {
			page = (frame.Operand[0] >> 4) & 0x07
		}
		s.reply(ctx, label, Frame{
			CommandCode: ResponseStable,
			Subunit:     frame.Subunit,
			Opcode:      OpcodeSubunitInfo,
			Operand:     []byte{page, byte(SubunitPanel) << 3, 0xFF, 0xFF, 0xFF},
		})
		return
	}
	if frame.Opcode != OpcodeVendorDependent {
		s.log.WithField("opcode", frame.Opcode).Debug("unsupported AV/C opcode")
		return
	}

	var inbound pduAssembler
	p, _, err := inbound.process(frame.Operand)
	if err != nil || p == nil {
		if err != nil {
			s.log.WithError(err).Warn("malformed vendor-dependent command")
		}
		return
	}

	switch p.ID {
	case PduGetCapabilities:
		s.reply(ctx, label, Frame{
			CommandCode: ResponseStable,
			Subunit:     SubunitPanel,
			Opcode:      OpcodeVendorDependent,
			Operand:     encodeOperand(pdu{ID: PduGetCapabilities, Parameters: []byte{byte(EventVolumeChanged)}}),
		})

	case PduRegisterNotification:
		event, _, err := parseEventID(p.Parameters)
		if err != nil || event != EventVolumeChanged {
			s.reply(ctx, label, s.rejectPDU(PduRegisterNotification, ErrorInvalidParameter))
			return
		}
		s.mu.Lock()
		current := s.volume
		s.pendingVolumeNotify = &label
		s.mu.Unlock()
		s.reply(ctx, label, Frame{
			CommandCode: ResponseInterim,
			Subunit:     SubunitPanel,
			Opcode:      OpcodeVendorDependent,
			Operand:     encodeOperand(pdu{ID: PduRegisterNotification, Parameters: []byte{byte(EventVolumeChanged), current}}),
		})

	case PduSetAbsoluteVolume:
		if len(p.Parameters) < 1 {
			s.reply(ctx, label, s.rejectPDU(PduSetAbsoluteVolume, ErrorInvalidParameter))
			return
		}
		vol := p.Parameters[0] & MaxVolume
		s.mu.Lock()
		s.volume = vol
		s.mu.Unlock()
		s.reply(ctx, label, Frame{
			CommandCode: ResponseAccepted,
			Subunit:     SubunitPanel,
			Opcode:      OpcodeVendorDependent,
			Operand:     encodeOperand(pdu{ID: PduSetAbsoluteVolume, Parameters: []byte{vol}}),
		})
		s.emitEvent(Event{ID: EventVolumeChanged, Volume: vol})

	case PduRequestContinuingResp, PduAbortContinuingResp:
		// Accepted but has no effect: this implementation never fragments
		// its own outbound responses, so there is never anything to
		// continue or abort.
		s.reply(ctx, label, Frame{
			CommandCode: ResponseAccepted,
			Subunit:     SubunitPanel,
			Opcode:      OpcodeVendorDependent,
			Operand:     encodeOperand(pdu{ID: p.ID, Parameters: p.Parameters}),
		})

	default:
		s.log.WithField("pdu", p.ID).Debug("unsupported vendor-dependent PDU, general reject")
		s.reply(ctx, label, s.rejectPDU(p.ID, ErrorInvalidCommand))
	}
}

func (s *Session) rejectPDU(id PduID, code ErrorCode) Frame {
	operand := encodeOperand(pdu{ID: id, Parameters: []byte{byte(code)}})
	return Frame{
		CommandCode: ResponseRejected,
		Subunit:     SubunitPanel,
		Opcode:      OpcodeVendorDependent,
		Operand:     operand,
	}
}

func (s *Session) reply(ctx context.Context, label uint8, frame Frame) {
	msg := avctp.Message{
		TransactionLabel: label,
		Type:             avctp.Response,
		ProfileID:        ProfileID,
		Data:             frame.encode(),
	}
	if err := s.transport.Send(ctx, msg); err != nil {
		s.log.WithError(err).Warn("failed to send AVRCP response")
	}
}
