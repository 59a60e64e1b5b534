package websocket

import (
	"errors"
	"net"
	"time"
)

// ListenAndServe binds s.cfg's configured address and runs the blocking
// worker: one goroutine is spawned per accepted connection (spec.md
// Section 4.6), standing in for the "thread per connection" model —
// Go's M:N goroutine scheduler is the idiomatic substitute for OS
// threads here, the same substitution coregx-stream's own Hub.Run makes
// for its one-goroutine-per-broadcast-recipient fan-out.
func (s *Server) ListenAndServe() error {
	ln, err := listen(s.cfg)
	if err != nil {
		return err
	}
	s.listener = ln

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.shuttingDown() {
				return nil
			}
			return err
		}

		setNoDelay(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveBlockingConn(conn)
		}()
	}
}

// serveBlockingConn runs the full per-connection lifecycle: handshake,
// handler construction, read loop, and teardown (spec.md Section 4.6
// steps 1-5).
func (s *Server) serveBlockingConn(netConn net.Conn) {
	hs := s.hsPool.Acquire()
	defer s.hsPool.Release(hs)

	if s.cfg.Handshake.Timeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.cfg.Handshake.Timeout))
	}

	if err := s.readHandshake(netConn, hs); err != nil {
		_, _ = netConn.Write(BadRequestResponse(err))
		_ = netConn.Close()
		return
	}
	if s.cfg.Handshake.CheckOrigin != nil && !s.cfg.Handshake.CheckOrigin(hs, false) {
		_, _ = netConn.Write(BadRequestResponse(ErrForbiddenOrigin))
		_ = netConn.Close()
		return
	}
	_ = netConn.SetReadDeadline(time.Time{})

	reader := NewReader(s.bufs, s.cfg.ConnectionBufferSize, s.cfg.MaxMessageSize, true)
	conn := newConn(netConn, reader, true, Blocking, newConnID())

	handler, err := s.factory(hs, conn)
	if err != nil {
		resp := BadRequestResponse(err)
		if heh, ok := handler.(HandshakeErrorHandler); ok {
			resp = heh.HandshakeErrorResponse(err)
		}
		_ = conn.WriteFramed(resp)
		_ = netConn.Close()
		return
	}

	hc := newHandlerConn(conn, handler)
	if err := conn.WriteFramed(hs.Reply("")); err != nil {
		_ = netConn.Close()
		return
	}

	idx := s.arena.Insert(hc)
	hc.init()

	s.blockingReadLoop(hc)

	s.arena.Remove(idx)
	if !hc.IsClosed() {
		_ = hc.Close()
	}
	if hc.notified != nil {
		hc.notified(hc.Conn)
	}
}

// readHandshake reads off netConn directly (no Reader involved yet) until
// hs.Parse succeeds, hits ErrRequestTooLarge, or the read deadline fires.
func (s *Server) readHandshake(netConn net.Conn, hs *HandshakeState) error {
	scratch := make([]byte, s.cfg.ConnectionBufferSize)
	for {
		n, readErr := netConn.Read(scratch)
		if n > 0 {
			if ferr := hs.Feed(scratch[:n]); ferr != nil {
				return ferr
			}
			if perr := hs.Parse(); perr == nil {
				return nil
			} else if !errors.Is(perr, errIncompleteHandshake) {
				return perr
			}
		}
		if readErr != nil {
			return ErrHandshakeTimeout
		}
	}
}

// blockingReadLoop drains complete messages and control frames from hc
// until a close frame, protocol error, or transport error ends it.
func (s *Server) blockingReadLoop(hc *HandlerConn) {
	for {
		hasMore, msg, ctrl, err := hc.reader.Read()
		if err != nil {
			s.logf("protocol error on %s: %v", hc.ID(), err)
			_ = hc.failWith(err)
			return
		}

		if ctrl != nil {
			mustClose := hc.DispatchControl(ctrl)
			hc.reader.Done()
			if mustClose {
				return
			}
			continue
		}

		if msg != nil {
			hc.DispatchMessage(msg)
			hc.reader.Done()
			continue
		}

		if hasMore {
			continue
		}

		n, rerr := hc.reader.Fill(hc.netConn)
		if n == 0 && rerr != nil {
			if IsTemporaryError(rerr) {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			return
		}
	}
}
