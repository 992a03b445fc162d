package avdtp

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/blueradio/avstack/l2cap"
)

// Server accepts the two L2CAP channels that make up one AVDTP peer
// relationship: the first channel opened on a given connection handle is
// treated as the signaling channel and spawns a session loop; any channel
// opened afterward on the same handle is treated as a transport channel and
// is handed to whichever of that session's streams is waiting for it.
type Server struct {
	endpoints func() []*LocalEndpoint

	mu       sync.Mutex
	sessions map[uint16]*session

	log *logrus.Entry
}

// NewServer builds a Server. endpoints is invoked once per new signaling
// session so every peer gets its own independent inUse/Stream bookkeeping.
func NewServer(endpoints func() []*LocalEndpoint) *Server {
	return &Server{
		endpoints: endpoints,
		sessions:  make(map[uint16]*session),
		log:       logrus.WithField("component", "avdtp.server"),
	}
}

// OnConnection implements l2cap.Acceptor.
func (srv *Server) OnConnection(channel l2cap.Channel) {
	handle := channel.ConnectionHandle()

	srv.mu.Lock()
	sess, existing := srv.sessions[handle]
	srv.mu.Unlock()

	if !existing {
		if err := channel.AcceptConnection(); err != nil {
			srv.log.WithError(err).Warn("failed to accept signaling connection")
			return
		}
		sess = newSession(channel, srv.endpoints())
		srv.mu.Lock()
		srv.sessions[handle] = sess
		srv.mu.Unlock()

		go func() {
			if err := sess.run(context.Background()); err != nil {
				srv.log.WithError(err).WithField("handle", handle).Warn("signaling session ended")
			} else {
				srv.log.WithField("handle", handle).Debug("signaling session closed")
			}
			srv.mu.Lock()
			delete(srv.sessions, handle)
			srv.mu.Unlock()
		}()
		return
	}

	if err := channel.AcceptConnection(); err != nil {
		srv.log.WithError(err).Warn("failed to accept transport connection")
		return
	}
	select {
	case sess.transportCh <- channel:
	default:
		srv.log.WithField("handle", handle).Warn("transport channel arrived while another was already pending")
		channel.RejectConnection()
	}
}
