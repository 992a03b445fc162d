package avstack

import (
	"context"
	"testing"
	"time"

	"github.com/blueradio/avstack/avdtp"
	"github.com/blueradio/avstack/avrcp"
	"github.com/blueradio/avstack/l2cap"
)

type nullSessionHandler struct{}

func (nullSessionHandler) OnSession(*avrcp.Session)       {}
func (nullSessionHandler) OnSessionClosed(*avrcp.Session) {}

func TestStackRoutesByPSM(t *testing.T) {
	endpoints := func() []*avdtp.LocalEndpoint {
		return []*avdtp.LocalEndpoint{{SEID: 1, MediaType: avdtp.MediaTypeAudio, TSEP: avdtp.TSEPSink}}
	}
	stack := New(endpoints, nullSessionHandler{})

	signaling := l2cap.NewFakePair(1, 672)
	go stack.OnConnection(l2cap.AVDTPPSM, signaling.Remote)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	discover := []byte{0x00, 0x01}
	if err := signaling.Local.Send(ctx, discover); err != nil {
		t.Fatalf("send: %v", err)
	}
	reply, err := signaling.Local.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []byte{0x02, 0x01, 0x04, byte(avdtp.MediaTypeAudio)<<4 | byte(avdtp.TSEPSink)<<3}
	if string(reply) != string(want) {
		t.Fatalf("reply = % x, want % x", reply, want)
	}
}

type rejectRecorder struct {
	*l2cap.FakeChannel
	rejected bool
}

func (r *rejectRecorder) RejectConnection() error {
	r.rejected = true
	return nil
}

func TestStackRejectsUnknownPSM(t *testing.T) {
	endpoints := func() []*avdtp.LocalEndpoint { return nil }
	stack := New(endpoints, nullSessionHandler{})

	pair := l2cap.NewFakePair(1, 672)
	ch := &rejectRecorder{FakeChannel: pair.Remote}
	stack.OnConnection(0x1234, ch)
	if !ch.rejected {
		t.Fatal("connection on an unknown PSM was not rejected")
	}
}
