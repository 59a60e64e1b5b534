//go:build unix

package websocket

import (
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// pollerBackend is the platform-specific readiness primitive: epoll
// (EPOLLIN|EPOLLONESHOT) on Linux, kqueue (EVFILT_READ, EV_DISPATCH) on
// BSD/Darwin. add registers fd for one-shot read readiness; rearm
// re-enables it after a worker finishes handling that fd — spec.md
// Section 4.7's "EV_DISPATCH/ONESHOT semantics guarantee no concurrent
// wake for the same connection." The epoll/kqueue instance itself is a
// kernel object safely shared across threads, so rearm may be called
// from any task-pool worker goroutine without additional locking.
type pollerBackend interface {
	add(fd int) error
	rearm(fd int) error
	wait() ([]int, error)
	close() error
}

// nbState holds the nonblocking-worker-specific fields alongside Server,
// kept separate so the blocking worker (worker_blocking.go) pays nothing
// for this when unused.
type nbState struct {
	listenerFD int
	shutdownRD int
	shutdownWR int

	poller pollerBackend
	pool   *taskPool

	mu    sync.Mutex
	byFD  map[int]*HandlerConn
}

// ServeNonblocking runs the readiness-driven worker: a single reactor
// goroutine waits on the listening socket, a shutdown pipe, and every
// accepted connection's fd, and hands readiness events to a fixed pool
// of goroutines (spec.md Section 4.7). Unlike ListenAndServe, which lets
// net.Listener/net.Conn's own runtime-integrated netpoller do the
// waiting, this path manages raw file descriptors directly so the
// one-shot rearm discipline the spec calls for is explicit rather than
// implicit in the Go runtime.
func (s *Server) ServeNonblocking() error {
	fd, err := rawListen(s.cfg)
	if err != nil {
		return err
	}

	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		_ = unix.Close(fd)
		return err
	}
	_ = unix.SetNonblock(fds[0], true)

	poller, err := newPoller()
	if err != nil {
		_ = unix.Close(fd)
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
		return err
	}

	nb := &nbState{
		listenerFD: fd,
		shutdownRD: fds[0],
		shutdownWR: fds[1],
		poller:     poller,
		pool:       newTaskPool(s.cfg.ThreadPool.Count, s.cfg.ThreadPool.Backlog),
		byFD:       make(map[int]*HandlerConn),
	}
	s.nb = nb

	if err := poller.add(fd); err != nil {
		return err
	}
	if err := poller.add(fds[0]); err != nil {
		return err
	}

	return s.reactorLoop(nb)
}

// ShutdownNonblocking wakes the reactor loop by writing to the shutdown
// pipe; ServeNonblocking's caller still observes termination via its
// return value.
func (s *Server) ShutdownNonblocking() error {
	if s.nb == nil {
		return nil
	}
	_, err := unix.Write(s.nb.shutdownWR, []byte{0})
	return err
}

func (s *Server) reactorLoop(nb *nbState) error {
	defer func() {
		nb.pool.Close()
		_ = nb.poller.close()
		_ = unix.Close(nb.listenerFD)
		_ = unix.Close(nb.shutdownRD)
		_ = unix.Close(nb.shutdownWR)
	}()

	for {
		ready, err := nb.poller.wait()
		if err != nil {
			return err
		}

		for _, fd := range ready {
			switch fd {
			case nb.listenerFD:
				s.acceptAllNonblocking(nb)
				_ = nb.poller.rearm(nb.listenerFD)
			case nb.shutdownRD:
				return nil
			default:
				nb.mu.Lock()
				hc := nb.byFD[fd]
				nb.mu.Unlock()
				if hc == nil {
					continue
				}
				nb.pool.Submit(func() { s.dataAvailable(nb, fd, hc) })
			}
		}
	}
}

// acceptAllNonblocking drains the accept queue until it returns
// EAGAIN/EWOULDBLOCK, per spec.md Section 4.7 step 2.
func (s *Server) acceptAllNonblocking(nb *nbState) {
	for {
		if s.cfg.MaxConn > 0 && s.arena.Len() >= s.cfg.MaxConn {
			return
		}

		connFD, _, err := unix.Accept4(nb.listenerFD, unix.SOCK_NONBLOCK)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK { //nolint:errorlint // raw syscall errno
				return
			}
			return
		}

		_ = unix.SetsockoptInt(connFD, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

		hs := s.hsPool.Acquire()
		hc := &HandlerConn{arenaIdx: arenaNil, pendingHS: hs}

		nb.mu.Lock()
		nb.byFD[connFD] = hc
		nb.mu.Unlock()

		if err := nb.poller.add(connFD); err != nil {
			nb.mu.Lock()
			delete(nb.byFD, connFD)
			nb.mu.Unlock()
			_ = unix.Close(connFD)
			s.hsPool.Release(hs)
		}
	}
}

// dataAvailable is run by a task-pool worker for a single readiness
// event: it either advances an in-progress handshake or, once upgraded,
// fills the reader and dispatches whatever complete frames/messages
// result, per spec.md Section 4.7.
func (s *Server) dataAvailable(nb *nbState, fd int, hc *HandlerConn) {
	defer func() {
		if !hc.upgraded || !hc.IsClosed() {
			_ = nb.poller.rearm(fd)
		}
	}()

	if !hc.upgraded {
		s.continueHandshake(nb, fd, hc)
		return
	}

	for {
		hasMore, msg, ctrl, err := hc.reader.Read()
		if err != nil {
			s.teardownNonblocking(nb, fd, hc)
			_ = hc.failWith(err)
			return
		}
		if ctrl != nil {
			mustClose := hc.DispatchControl(ctrl)
			hc.reader.Done()
			if mustClose {
				s.teardownNonblocking(nb, fd, hc)
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

		n, rerr := fillNonblocking(hc.reader, fd)
		if n == 0 && rerr != nil {
			if rerr != unix.EAGAIN && rerr != unix.EWOULDBLOCK { //nolint:errorlint
				s.teardownNonblocking(nb, fd, hc)
				_ = hc.Close()
			}
			return
		}
		if n == 0 {
			return
		}
	}
}

// continueHandshake reads whatever bytes are presently available into
// the in-progress HandshakeState, resuming across wake-ups rather than
// blocking, per spec.md Section 9's Open Question on nonblocking
// handshake resumption.
func (s *Server) continueHandshake(nb *nbState, fd int, hc *HandlerConn) {
	scratch := make([]byte, s.cfg.ConnectionBufferSize)
	for {
		n, err := unix.Read(fd, scratch)
		if n > 0 {
			if ferr := hc.pendingHS.Feed(scratch[:n]); ferr != nil {
				s.failHandshakeNonblocking(nb, fd, hc, ferr)
				return
			}
			if perr := hc.pendingHS.Parse(); perr == nil {
				s.completeHandshakeNonblocking(nb, fd, hc)
				return
			} else if perr != errIncompleteHandshake {
				s.failHandshakeNonblocking(nb, fd, hc, perr)
				return
			}
			continue
		}
		if err != nil {
			return // EAGAIN: wait for rearm
		}
		if n == 0 {
			s.teardownNonblocking(nb, fd, hc)
			return
		}
	}
}

func (s *Server) failHandshakeNonblocking(nb *nbState, fd int, hc *HandlerConn, err error) {
	_, _ = unix.Write(fd, BadRequestResponse(err))
	s.teardownNonblocking(nb, fd, hc)
}

func (s *Server) completeHandshakeNonblocking(nb *nbState, fd int, hc *HandlerConn) {
	hs := hc.pendingHS
	if s.cfg.Handshake.CheckOrigin != nil && !s.cfg.Handshake.CheckOrigin(hs, false) {
		s.failHandshakeNonblocking(nb, fd, hc, ErrForbiddenOrigin)
		return
	}
	netConn := &fdConn{fd: fd}
	reader := NewReader(s.bufs, s.cfg.ConnectionBufferSize, s.cfg.MaxMessageSize, true)
	conn := newConn(netConn, reader, true, Nonblocking, newConnID())

	handler, err := s.factory(hs, conn)
	if err != nil {
		resp := BadRequestResponse(err)
		if heh, ok := handler.(HandshakeErrorHandler); ok {
			resp = heh.HandshakeErrorResponse(err)
		}
		_, _ = unix.Write(fd, resp)
		s.hsPool.Release(hs)
		s.teardownNonblocking(nb, fd, hc)
		return
	}

	*hc = *newHandlerConn(conn, handler)
	hc.upgraded = true
	if _, werr := unix.Write(fd, hs.Reply("")); werr != nil {
		s.hsPool.Release(hs)
		s.teardownNonblocking(nb, fd, hc)
		return
	}
	s.hsPool.Release(hs)

	idx := s.arena.Insert(hc)
	hc.arenaIdx = idx
	hc.init()
}

// teardownNonblocking deregisters fd and removes hc from every registry.
func (s *Server) teardownNonblocking(nb *nbState, fd int, hc *HandlerConn) {
	nb.mu.Lock()
	delete(nb.byFD, fd)
	nb.mu.Unlock()

	if hc.arenaIdx != arenaNil {
		s.arena.Remove(hc.arenaIdx)
	}
	if hc.notified != nil {
		hc.notified(hc.Conn)
	}
	_ = unix.Close(fd)
}

// fillNonblocking is reader.go's Fill for the nonblocking worker: it
// reads via a raw file descriptor, since the reactor drives fds directly
// rather than through a net.Conn/io.Reader.
func fillNonblocking(reader *Reader, fd int) (int, error) {
	if !reader.compactIfFull() {
		return 0, nil
	}
	n, err := unix.Read(fd, reader.writable())
	reader.advance(n)
	return n, err
}

// fdConn adapts a raw nonblocking fd to the minimal net.Conn surface
// Conn's write path needs (Write/Close/RemoteAddr); Read is never called
// on it directly — the reactor drives reads via fillNonblocking instead.
type fdConn struct {
	fd int
}

func (c *fdConn) Read(b []byte) (int, error) {
	n, err := unix.Read(c.fd, b)
	if err != nil {
		return 0, err
	}
	return n, nil
}
func (c *fdConn) Write(b []byte) (int, error) { return unix.Write(c.fd, b) }
func (c *fdConn) Close() error                { return unix.Close(c.fd) }
func (c *fdConn) LocalAddr() net.Addr         { return nil }
func (c *fdConn) RemoteAddr() net.Addr        { return nil }
func (c *fdConn) SetDeadline(time.Time) error      { return nil }
func (c *fdConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fdConn) SetWriteDeadline(time.Time) error { return nil }
