package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	errSessionClosed = errors.New("session: closed")
	errSendBufFull   = errors.New("session: send buffer full")
)

// handler receives session lifecycle callbacks and inbound frames.
type handler interface {
	OnSessionOpen(s *Session)
	OnSessionClose(s *Session)
	Dispatch(s *Session, frame []byte)
}

// SessionConfig bounds one websocket connection.
type SessionConfig struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	SendBuffer      int
	MaxMessageBytes int64
}

// Session is one client websocket connection. Its id is the connection
// identifier the room layer knows it by.
//
// A session runs two goroutines: readPump feeds inbound frames to the
// handler, writePump drains the send queue and emits heartbeat pings. The
// gorilla connection permits one concurrent reader and one concurrent
// writer, which this split guarantees.
//
// readPump is the only goroutine that calls Dispatch and OnSessionClose, so
// every frame a session delivers is handled before its close is.
type Session struct {
	id     string
	h      handler
	conn   *websocket.Conn
	cfg    SessionConfig
	logger *zap.Logger

	sendMu   sync.Mutex
	sendChan chan []byte
	closed   atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

func newSession(h handler, conn *websocket.Conn, cfg SessionConfig, logger *zap.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	return &Session{
		id:       id,
		h:        h,
		conn:     conn,
		cfg:      cfg,
		logger:   logger.With(zap.String("conn", id)),
		sendChan: make(chan []byte, cfg.SendBuffer),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// run registers the session and starts its pumps.
func (s *Session) run() {
	s.h.OnSessionOpen(s)
	go s.writePump()
	go s.readPump()
}

// ID returns the connection identifier.
func (s *Session) ID() string { return s.id }

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr().String() }

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool { return s.closed.Load() }

// Done is closed once the session has fully shut down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Send queues a frame without blocking. A session whose queue is full is
// considered stalled: it is closed asynchronously and the frame dropped.
func (s *Session) Send(frame []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed.Load() {
		return errSessionClosed
	}
	select {
	case s.sendChan <- frame:
		return nil
	default:
		// Send may run under a room lock; closing re-enters the room layer.
		go s.Close()
		return errSendBufFull
	}
}

func (s *Session) readPump() {
	defer func() {
		s.Close()
		s.h.OnSessionClose(s)
	}()

	s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Warn("unexpected close", zap.Error(err))
			} else {
				s.logger.Debug("read loop ended", zap.Error(err))
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		if s.closed.Load() {
			return
		}
		switch msgType {
		case websocket.TextMessage, websocket.BinaryMessage:
			s.h.Dispatch(s, data)
		default:
			s.logger.Debug("ignoring frame", zap.Int("type", msgType))
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
		close(s.done)
	}()

	for {
		select {
		case <-s.ctx.Done():
			s.flush()
			return
		case frame := <-s.sendChan:
			if err := s.write(frame); err != nil {
				s.logger.Debug("write failed", zap.Error(err))
				s.Close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Debug("ping failed", zap.Error(err))
				s.Close()
				return
			}
		}
	}
}

// flush writes frames queued before Close, then a close frame.
func (s *Session) flush() {
	for {
		select {
		case frame := <-s.sendChan:
			if err := s.write(frame); err != nil {
				return
			}
		default:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteTimeout))
			return
		}
	}
}

func (s *Session) write(frame []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

// Close shuts the session down. It is safe to call from any goroutine and
// more than once. The handler's OnSessionClose runs later, from readPump,
// once the read loop has stopped.
//
// Postcondition: Send rejects further frames and Closed reports true.
func (s *Session) Close() bool {
	s.sendMu.Lock()
	if !s.closed.CompareAndSwap(false, true) {
		s.sendMu.Unlock()
		return false
	}
	s.sendMu.Unlock()

	s.cancel()
	// Unblock a reader waiting on a silent peer.
	_ = s.conn.SetReadDeadline(time.Now())
	return true
}
