package avrcp

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/blueradio/avstack/l2cap"
)

// SessionHandler is notified when a new AVRCP control session is
// established, so the collaborator can hold onto it (to call Send or
// UpdatedVolume later) and learn when it ends.
type SessionHandler interface {
	OnSession(session *Session)
	OnSessionClosed(session *Session)
}

// Server accepts AVRCP control channels and runs one Session per
// connection handle.
type Server struct {
	handler SessionHandler

	mu       sync.Mutex
	sessions map[uint16]*Session

	log *logrus.Entry
}

func NewServer(handler SessionHandler) *Server {
	return &Server{
		handler:  handler,
		sessions: make(map[uint16]*Session),
		log:      logrus.WithField("component", "avrcp.server"),
	}
}

// OnConnection implements l2cap.Acceptor.
func (srv *Server) OnConnection(channel l2cap.Channel) {
	handle := channel.ConnectionHandle()

	srv.mu.Lock()
	if _, exists := srv.sessions[handle]; exists {
		srv.mu.Unlock()
		srv.log.WithField("handle", handle).Warn("rejecting duplicate AVRCP connection for this handle")
		channel.RejectConnection()
		return
	}
	srv.mu.Unlock()

	if err := channel.AcceptConnection(); err != nil {
		srv.log.WithError(err).Warn("failed to accept AVRCP connection")
		return
	}

	session := NewSession(channel)
	srv.mu.Lock()
	srv.sessions[handle] = session
	srv.mu.Unlock()

	if srv.handler != nil {
		srv.handler.OnSession(session)
	}

	go func() {
		if err := session.Run(context.Background()); err != nil {
			srv.log.WithError(err).WithField("handle", handle).Warn("AVRCP session ended")
		} else {
			srv.log.WithField("handle", handle).Debug("AVRCP session closed")
		}
		srv.mu.Lock()
		delete(srv.sessions, handle)
		srv.mu.Unlock()
		if srv.handler != nil {
			srv.handler.OnSessionClosed(session)
		}
	}()
}
