package websocket

import (
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
)

// HandlerFactory constructs the application handler for one accepted
// connection, given its now-complete handshake state and Conn. Returning
// an error rejects the upgrade (spec.md Section 4.6 step 2): the server
// calls the returned handler's HandshakeErrorResponse, if it implements
// one, or else BadRequestResponse, writes that synchronously, and closes
// the socket without ever delivering a message.
//
// This is the Go realization of spec.md Section 3/§6's polymorphic
// handler type H — H.init(handshake, conn, ctx) becomes "call a factory
// function", since Go has no user-definable constructor protocol to hook
// into.
type HandlerFactory func(hs *HandshakeState, conn *Conn) (any, error)

// Server accepts WebSocket connections and dispatches them to a
// HandlerFactory, using the blocking worker (worker_blocking.go) or the
// nonblocking worker (worker_poll.go and friends) depending on which
// Serve method is called.
type Server struct {
	cfg     Config
	factory HandlerFactory

	listener net.Listener
	bufs     *BufferProvider
	hsPool   *HandshakePool
	arena    *connArena
	logger   zerolog.Logger
	nb       *nbState

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	wg           sync.WaitGroup
}

// NewServer prepares a Server from cfg (defaults applied) and factory,
// without yet binding a listening socket — call ListenAndServe or
// ServeNonblocking to do that.
func NewServer(cfg Config, factory HandlerFactory) *Server {
	cfg = cfg.WithDefaults()
	return &Server{
		cfg:        cfg,
		factory:    factory,
		bufs:       NewBufferProvider(cfg.LargeBuffers.Count, cfg.LargeBuffers.Size, cfg.MaxMessageSize),
		hsPool:     NewHandshakePool(cfg.Handshake.PoolCount, cfg.Handshake.MaxSize, cfg.Handshake.MaxHeaders),
		arena:      newConnArena(64),
		logger:     *cfg.Logger,
		shutdownCh: make(chan struct{}),
	}
}

// Shutdown signals all workers to stop accepting and draining connections
// and tears down every live HandlerConn per cfg.Shutdown's flags. It then
// blocks until the blocking worker's per-connection goroutines have
// returned; it does not wait for ListenAndServe or ServeNonblocking
// themselves to return.
func (s *Server) Shutdown() error {
	var err error
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)
		if s.listener != nil {
			err = s.listener.Close()
		}
		if s.nb != nil {
			err = s.ShutdownNonblocking()
		}

		s.arena.ForEach(func(hc *HandlerConn) {
			if s.cfg.Shutdown.NotifyHandler {
				if h, ok := hc.handler.(interface{ Close() }); ok {
					h.Close()
				}
			}
			if s.cfg.Shutdown.NotifyClient {
				_ = hc.CloseWithCode(CloseGoingAway, "")
			} else if s.cfg.Shutdown.CloseSocket {
				_ = hc.netConn.Close()
			}
		})

		s.wg.Wait()
	})
	return err
}

// shuttingDown reports whether Shutdown has been called.
func (s *Server) shuttingDown() bool {
	select {
	case <-s.shutdownCh:
		return true
	default:
		return false
	}
}

func (s *Server) logf(format string, args ...any) {
	s.logger.Debug().Msg(fmt.Sprintf(format, args...))
}
