package broadcast

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/HanshengGUO/okx-websocket-repeater/internal/logging"
	"github.com/HanshengGUO/okx-websocket-repeater/internal/metrics"
)

const (
	pingPeriod = 20 * time.Second
	writeWait  = 5 * time.Second
	pongWait   = 40 * time.Second
)

// Session is one downstream subscriber's lane: a single goroutine (its
// write pump) owns every write to conn — data frames and pings alike —
// selecting between a wake channel and a ping ticker so no second
// goroutine ever touches the wire. A separate read pump only ever drains
// and discards client frames.
type Session struct {
	id      int64
	conn    net.Conn
	logger  zerolog.Logger
	metrics *metrics.Registry
	maxLen  int

	mu      sync.Mutex
	q       *queue.Queue
	closing bool

	wake     chan struct{}
	done     chan struct{}
	leave    func(*Session)
	leaveOne sync.Once
}

// newSession wraps an upgraded connection. Whichever pump notices the
// connection died first closes the session, which stops the other pump;
// leave is then invoked exactly once, by run, after both pumps have exited.
func newSession(id int64, conn net.Conn, maxLen int, leave func(*Session), logger zerolog.Logger, reg *metrics.Registry) *Session {
	return &Session{
		id:      id,
		conn:    conn,
		logger:  logger.With().Int64("session_id", id).Logger(),
		metrics: reg,
		maxLen:  maxLen,
		q:       queue.New(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		leave:   leave,
	}
}

// run starts the read and write pumps and blocks until both exit.
func (s *Session) run() {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.readPump()
	}()
	go func() {
		defer wg.Done()
		s.writePump()
	}()

	wg.Wait()
	s.leaveOne.Do(func() { s.leave(s) })
}

// enqueue appends frame to the session's lane. If the lane is already at
// capacity, the connection is a slow consumer: the frame is dropped and
// the session is torn down rather than let it buffer unbounded memory or
// serialize behind a stalled peer.
func (s *Session) enqueue(frame []byte) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	if s.q.Length() >= s.maxLen {
		s.mu.Unlock()
		s.logger.Warn().Int("queue_len", s.q.Length()).Msg("broadcast: session too slow, disconnecting")
		s.metrics.FrameDropped("slow_consumer")
		s.close()
		return
	}
	s.q.Add(frame)
	depth := s.q.Length()
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	s.metrics.ObserveSessionQueueDepth(depth)
}

// close tears down the underlying connection and wakes the write pump so
// it can observe closing and exit. Safe to call more than once.
func (s *Session) close() {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	s.mu.Unlock()
	close(s.done)
	s.conn.Close()
}

// drain pops every currently queued frame under the lock, for writePump to
// send outside the lock.
func (s *Session) drain() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var frames [][]byte
	for s.q.Length() > 0 {
		frames = append(frames, s.q.Peek().([]byte))
		s.q.Remove()
	}
	return frames
}

// writePump is the session's lane: the only goroutine that ever writes to
// conn, whether a queued data frame or a keepalive ping.
func (s *Session) writePump() {
	defer logging.RecoverPanic(s.logger, "session.writePump")

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer s.close()

	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
			for _, frame := range s.drain() {
				s.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := wsutil.WriteServerMessage(s.conn, ws.OpText, frame); err != nil {
					s.logger.Debug().Err(err).Msg("broadcast: write failed")
					return
				}
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(s.conn, ws.OpPing, nil); err != nil {
				s.logger.Debug().Err(err).Msg("broadcast: ping failed")
				return
			}
		}
	}
}

// readPump only drains and discards whatever the subscriber sends — this
// protocol is one-directional, downstream clients have nothing to say.
func (s *Session) readPump() {
	defer logging.RecoverPanic(s.logger, "session.readPump")
	defer s.close()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, op, err := wsutil.ReadClientData(s.conn)
		if err != nil {
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		if op == ws.OpClose {
			return
		}
	}
}

var sessionSeq int64

func nextSessionID() int64 {
	return atomic.AddInt64(&sessionSeq, 1)
}
