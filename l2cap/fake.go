package l2cap

import (
	"context"
	"io"
	"sync"
)

// FakePair is a pair of in-memory Channels wired to each other, standing in
// for a real L2CAP link in tests. Frames sent on
// one side arrive, unmodified and unfragmented by the fake itself, as the
// next Read on the other.
type FakePair struct {
	Local  *FakeChannel
	Remote *FakeChannel
}

// NewFakePair builds a connected pair for the given connection handle.
// mtu is reported by both ends' MTU method.
func NewFakePair(handle uint16, mtu uint16) *FakePair {
	toRemote := make(chan []byte, 16)
	toLocal := make(chan []byte, 16)
	closed := make(chan struct{})
	closeOnce := &sync.Once{}
	local := &FakeChannel{
		handle:    handle,
		mtu:       mtu,
		send:      toRemote,
		recv:      toLocal,
		closed:    closed,
		closeOnce: closeOnce,
	}
	remote := &FakeChannel{
		handle:    handle,
		mtu:       mtu,
		send:      toLocal,
		recv:      toRemote,
		closed:    closed,
		closeOnce: closeOnce,
	}
	return &FakePair{Local: local, Remote: remote}
}

// FakeChannel is an in-memory Channel implementation. It is safe for
// concurrent Read and Send from separate goroutines, matching how a real
// socket-backed channel behaves.
type FakeChannel struct {
	handle uint16
	mtu    uint16

	send chan []byte
	recv chan []byte

	closeOnce *sync.Once
	closed    chan struct{}
}

func (f *FakeChannel) Configure(ctx context.Context) error { return nil }

func (f *FakeChannel) Read(ctx context.Context) ([]byte, error) {
	select {
	case b, ok := <-f.recv:
		if !ok {
			return nil, io.EOF
		}
		return b, nil
	case <-f.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *FakeChannel) Send(ctx context.Context, frame []byte) error {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	select {
	case f.send <- cp:
		return nil
	case <-f.closed:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *FakeChannel) AcceptConnection() error { return nil }
func (f *FakeChannel) RejectConnection() error { return nil }

func (f *FakeChannel) ConnectionHandle() uint16 { return f.handle }
func (f *FakeChannel) MTU() uint16              { return f.mtu }

// Close tears down the pair; pending and future Reads on either end observe
// io.EOF.
func (f *FakeChannel) Close() {
	f.closeOnce.Do(func() { close(f.closed) })
}
