// Package broadcast implements C3/C4: a plain-WebSocket server that fans
// admitted frames out to every connected downstream subscriber.
package broadcast

import (
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"

	"github.com/HanshengGUO/okx-websocket-repeater/internal/logging"
	"github.com/HanshengGUO/okx-websocket-repeater/internal/metrics"
)

// Connection-attempt rate limits, applied in handleConn before the
// WebSocket upgrade ever runs. Generous enough not to bother a normal
// subscriber population, tight enough to blunt a connection flood.
const (
	globalConnRPS   = 200.0
	globalConnBurst = 400
	perIPConnRPS    = 5.0
	perIPConnBurst  = 20
)

// Server accepts downstream subscriber connections on a plain TCP
// listener and upgrades each to a WebSocket session.
type Server struct {
	addr    string
	logger  zerolog.Logger
	metrics *metrics.Registry
	maxLen  int
	limiter *connLimiter

	listener   net.Listener
	sessions   sync.Map // int64 -> *Session
	wg         sync.WaitGroup
	cleanupEnd chan struct{}
}

// New constructs a Server. Sessions are not accepted until Start runs.
func New(addr string, sessionQueueDepth int, logger zerolog.Logger, reg *metrics.Registry) *Server {
	return &Server{
		addr:       addr,
		logger:     logger,
		metrics:    reg,
		maxLen:     sessionQueueDepth,
		limiter:    newConnLimiter(globalConnRPS, globalConnBurst, perIPConnRPS, perIPConnBurst),
		cleanupEnd: make(chan struct{}),
	}
}

// Start binds the listener and begins accepting connections in a
// background goroutine. It returns once the listener is bound, so callers
// can rely on the address being live as soon as Start returns.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()
	go s.limiter.runCleanup(s.cleanupEnd)
	return nil
}

// Addr returns the listener's actual address, useful when addr was ":0".
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	defer logging.RecoverPanic(s.logger, "broadcast.acceptLoop")
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Accept only fails this way when Shutdown closed the listener.
			return
		}
		go s.handleConn(conn)
	}
}

// handleConn performs the WebSocket upgrade directly on the raw TCP
// connection (no net/http server in front of this listener) and, on
// success, hands the connection to a new Session.
func (s *Server) handleConn(conn net.Conn) {
	defer logging.RecoverPanic(s.logger, "broadcast.handleConn")

	if !s.limiter.allow(conn.RemoteAddr()) {
		s.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("broadcast: connection rate limited")
		s.metrics.ConnectionRateLimited()
		conn.Close()
		return
	}

	upgrader := ws.Upgrader{}
	if _, err := upgrader.Upgrade(conn); err != nil {
		s.logger.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("broadcast: upgrade failed")
		conn.Close()
		return
	}

	id := nextSessionID()
	sess := newSession(id, conn, s.maxLen, s.onSessionLeave, s.logger, s.metrics)
	s.sessions.Store(id, sess)
	s.metrics.SessionJoined()
	s.logger.Debug().Int64("session_id", id).Str("remote", conn.RemoteAddr().String()).Msg("broadcast: session joined")

	sess.run()
}

func (s *Server) onSessionLeave(sess *Session) {
	s.sessions.Delete(sess.id)
	s.metrics.SessionLeft()
	s.logger.Debug().Int64("session_id", sess.id).Msg("broadcast: session left")
}

// Broadcast enqueues frame onto every live session's lane. Each session
// enforces its own bounded-queue slow-consumer policy, so a single stalled
// subscriber never blocks delivery to the rest.
func (s *Server) Broadcast(frame []byte) {
	s.sessions.Range(func(_, v any) bool {
		v.(*Session).enqueue(frame)
		return true
	})
}

// Shutdown closes the listener and every live session, then waits for the
// accept loop to exit. It does not wait for the sessions' pumps to exit.
func (s *Server) Shutdown() {
	close(s.cleanupEnd)
	if s.listener != nil {
		s.listener.Close()
	}
	s.sessions.Range(func(_, v any) bool {
		v.(*Session).close()
		return true
	})
	s.wg.Wait()
}

// SessionCount returns the number of currently live sessions, for health
// and debug reporting.
func (s *Server) SessionCount() int {
	n := 0
	s.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
