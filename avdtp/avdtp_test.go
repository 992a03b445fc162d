package avdtp

import (
	"context"
	"testing"
	"time"

	"github.com/blueradio/avstack/l2cap"
)

func header(label uint8, pt packetType, mt MessageType) byte {
	return label<<4 | byte(pt)<<2 | byte(mt)
}

func testEndpoints() []*LocalEndpoint {
	return []*LocalEndpoint{
		{
			SEID:      1,
			MediaType: MediaTypeAudio,
			TSEP:      TSEPSink,
			Capabilities: []Capability{
				{Category: ServiceCategoryMediaTransport},
				{Category: ServiceCategoryMediaCodec, Payload: []byte{0x00, 0x00, 0x20, 0x15, 0x02, 0x40}},
			},
		},
	}
}

func newTestSession(t *testing.T) (*session, *l2cap.FakeChannel) {
	t.Helper()
	pair := l2cap.NewFakePair(1, 672)
	sess := newSession(pair.Local, testEndpoints())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = sess.run(ctx) }()
	return sess, pair.Remote
}

func sendAndRecv(t *testing.T, peer *l2cap.FakeChannel, frame []byte) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := peer.Send(ctx, frame); err != nil {
		t.Fatalf("send: %v", err)
	}
	reply, err := peer.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return reply
}

func TestDiscoverThenGetCapabilities(t *testing.T) {
	_, peer := newTestSession(t)

	discover := []byte{header(0, packetSingle, MessageCommand), byte(SignalDiscover)}
	reply := sendAndRecv(t, peer, discover)

	want := []byte{
		header(0, packetSingle, MessageResponseAccept), byte(SignalDiscover),
		0x04, 0x08,
	}
	if string(reply) != string(want) {
		t.Fatalf("Discover reply = % x, want % x", reply, want)
	}

	getCaps := []byte{header(1, packetSingle, MessageCommand), byte(SignalGetCapabilities), 0x04}
	reply = sendAndRecv(t, peer, getCaps)

	if reply[0] != header(1, packetSingle, MessageResponseAccept) {
		t.Fatalf("GetCapabilities header = %#x", reply[0])
	}
	caps, err := decodeCapabilities(reply[2:])
	if err != nil {
		t.Fatalf("decodeCapabilities: %v", err)
	}
	if len(caps) != 2 {
		t.Fatalf("expected 2 basic capabilities, got %d", len(caps))
	}
	for _, c := range caps {
		if c.Category == ServiceCategoryDelayReporting {
			t.Fatalf("GetCapabilities must not return DelayReporting")
		}
	}
}

func TestSetConfigurationTwiceRejectsWithBadState(t *testing.T) {
	_, peer := newTestSession(t)

	setConfig := []byte{
		header(0, packetSingle, MessageCommand), byte(SignalSetConfiguration),
		1 << 2, 1 << 2,
		byte(ServiceCategoryMediaTransport), 0x00,
	}

	reply := sendAndRecv(t, peer, setConfig)
	if reply[0] != header(0, packetSingle, MessageResponseAccept) {
		t.Fatalf("first SetConfiguration rejected: % x", reply)
	}

	reply = sendAndRecv(t, peer, setConfig)
	wantHeader := header(0, packetSingle, MessageResponseReject)
	if reply[0] != wantHeader {
		t.Fatalf("second SetConfiguration header = %#x, want %#x", reply[0], wantHeader)
	}
	if len(reply) < 4 {
		t.Fatalf("reject payload too short: % x", reply)
	}
	if reply[2] != byte(ServiceCategoryUnknown) {
		t.Fatalf("reject service category = %#x, want 0x00", reply[2])
	}
	if ErrorCode(reply[3]) != ErrorBadState {
		t.Fatalf("reject error code = %#x, want %#x", reply[3], ErrorBadState)
	}
}

func TestOpenRendezvousAttachesTransportToOpeningStream(t *testing.T) {
	sess, peer := newTestSession(t)

	setConfig := []byte{
		header(0, packetSingle, MessageCommand), byte(SignalSetConfiguration),
		1 << 2, 1 << 2,
		byte(ServiceCategoryMediaTransport), 0x00,
	}
	sendAndRecv(t, peer, setConfig)

	open := []byte{header(1, packetSingle, MessageCommand), byte(SignalOpen), 1 << 2}
	reply := sendAndRecv(t, peer, open)
	if reply[0] != header(1, packetSingle, MessageResponseAccept) {
		t.Fatalf("Open rejected: % x", reply)
	}

	transport := l2cap.NewFakePair(1, 672)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	select {
	case sess.transportCh <- transport.Local:
	case <-ctx.Done():
		t.Fatal("transportCh not accepting a rendezvous channel")
	}

	deadline := time.After(2 * time.Second)
	for {
		found := false
		for _, st := range sess.streams {
			if st.state == StreamOpen {
				found = true
			}
		}
		if found {
			break
		}
		select {
		case <-deadline:
			t.Fatal("stream never transitioned to Open after rendezvous")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestOpenRendezvousDroppedWithNoStreamOpening(t *testing.T) {
	sess, _ := newTestSession(t)

	other := l2cap.NewFakePair(2, 672)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	select {
	case sess.transportCh <- other.Local:
	case <-ctx.Done():
		t.Fatal("transportCh not accepting a rendezvous channel")
	}

	// Give the session loop a moment to drain transportCh; since no stream
	// is Opening, the channel must be dropped rather than attached anywhere.
	time.Sleep(50 * time.Millisecond)
	for _, st := range sess.streams {
		if st.transport != nil {
			t.Fatalf("transport attached to a stream with no pending Open")
		}
	}
}
