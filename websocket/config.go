package websocket

import (
	"time"

	"github.com/rs/zerolog"
)

// HandshakeConfig bounds the server-side handshake parser.
type HandshakeConfig struct {
	// Timeout bounds how long an in-progress handshake may take. Zero
	// means unbounded. Only the blocking worker (ListenAndServe) applies
	// it; ServeNonblocking does not time out a pending handshake.
	Timeout time.Duration
	// MaxSize caps the handshake header buffer in bytes.
	MaxSize int
	// MaxHeaders caps the number of header lines accepted.
	MaxHeaders int
	// PoolCount is the number of preallocated HandshakeState instances.
	PoolCount int

	// CheckOrigin, if set, decides whether to accept a handshake carrying
	// a given Origin header; a false return fails the handshake with
	// ErrForbiddenOrigin. nil accepts every origin (CheckSameOrigin is
	// available for callers that want the conservative same-origin
	// policy instead).
	CheckOrigin func(h *HandshakeState, tls bool) bool
}

// LargeBufferConfig sizes the shared large-buffer pool (websocket/buffer.go).
type LargeBufferConfig struct {
	// Count is the number of buffers kept in the free list.
	Count int
	// Size is the size of each pooled buffer, in bytes.
	Size int
}

// ThreadPoolConfig sizes the nonblocking worker's fixed worker pool.
type ThreadPoolConfig struct {
	// Count is the number of goroutines draining the task queue.
	Count int
	// Backlog is the task queue's buffered capacity.
	Backlog int
	// BufferSize is the scratch read buffer size handed to each worker.
	BufferSize int
}

// ShutdownConfig toggles independent aspects of connection teardown on
// server shutdown.
type ShutdownConfig struct {
	CloseSocket   bool
	NotifyClient  bool
	NotifyHandler bool
}

// Config configures a Server.
type Config struct {
	// Port is the TCP port to listen on. Required unless UnixPath is set.
	Port uint16
	// Address is the bind address for TCP listeners (default 127.0.0.1).
	Address string
	// UnixPath, if set, listens on a Unix domain socket instead of TCP.
	UnixPath string

	// MaxMessageSize caps assembled message size (default 65536).
	MaxMessageSize uint64
	// ConnectionBufferSize is each connection's static read buffer size
	// (default 4096).
	ConnectionBufferSize int

	Handshake    HandshakeConfig
	LargeBuffers LargeBufferConfig
	ThreadPool   ThreadPoolConfig
	Shutdown     ShutdownConfig

	// MaxConn caps concurrently open connections for the nonblocking
	// worker; 0 means unbounded.
	MaxConn int

	// Logger receives the blocking worker's debug-level protocol-error
	// events. nil defaults to a no-op logger.
	Logger *zerolog.Logger
}

// WithDefaults returns a copy of c with zero-valued fields replaced by
// their documented defaults, mirroring
// coregx-stream/websocket/handshake.go's UpgradeOptions default-filling
// pattern.
func (c Config) WithDefaults() Config {
	if c.Address == "" {
		c.Address = "127.0.0.1"
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 65536
	}
	if c.ConnectionBufferSize == 0 {
		c.ConnectionBufferSize = 4096
	}
	if c.Handshake.MaxSize == 0 {
		c.Handshake.MaxSize = 1024
	}
	if c.Handshake.MaxHeaders == 0 {
		c.Handshake.MaxHeaders = 10
	}
	if c.Handshake.PoolCount == 0 {
		c.Handshake.PoolCount = 32
	}
	if c.LargeBuffers.Count == 0 {
		c.LargeBuffers.Count = 8
	}
	if c.LargeBuffers.Size == 0 {
		c.LargeBuffers.Size = int(c.MaxMessageSize * 2) // #nosec G115 -- bounded below
		if uint64(c.LargeBuffers.Size) > c.MaxMessageSize || c.LargeBuffers.Size <= 0 {
			c.LargeBuffers.Size = int(c.MaxMessageSize)
		}
	}
	if c.ThreadPool.Count == 0 {
		c.ThreadPool.Count = defaultThreadPoolCount
	}
	if c.ThreadPool.Backlog == 0 {
		c.ThreadPool.Backlog = 500
	}
	if c.ThreadPool.BufferSize == 0 {
		c.ThreadPool.BufferSize = 32768
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	// Shutdown's three flags default to true (spec.md Section 6). Since
	// the zero value of ShutdownConfig is all-false, "all false" is treated
	// as "not configured" rather than "explicitly disabled" and replaced by
	// all-true, so a configuration with every teardown side effect
	// suppressed cannot be expressed.
	if !c.Shutdown.CloseSocket && !c.Shutdown.NotifyClient && !c.Shutdown.NotifyHandler {
		c.Shutdown = ShutdownConfig{CloseSocket: true, NotifyClient: true, NotifyHandler: true}
	}
	return c
}

const defaultThreadPoolCount = 4

// ClientConfig configures an outbound Dial.
type ClientConfig struct {
	// MaxSize caps assembled message size (default 65536).
	MaxSize uint64
	// BufferSize is the client connection's static read buffer size
	// (default 4096).
	BufferSize int

	// TLS enables a TLS-wrapped dial even for a "ws://" URL ("wss://"
	// always uses TLS). The tls.Config, if any, is supplied via
	// DialOptions.TLSConfig.
	TLS bool

	// HandlePing/HandlePong/HandleClose are not consulted by Dial or
	// Conn.Read: Conn.Read always answers pings with a pong, skips pongs,
	// and closes the connection on a close frame, whatever their values.
	HandlePing  bool
	HandlePong  bool
	HandleClose bool

	// BufferProvider, if non-nil, is shared across multiple client
	// connections instead of each Dial allocating its own.
	BufferProvider *BufferProvider

	Logger *zerolog.Logger
}

// WithDefaults fills zero-valued fields with their documented defaults.
func (c ClientConfig) WithDefaults() ClientConfig {
	if c.MaxSize == 0 {
		c.MaxSize = 65536
	}
	if c.BufferSize == 0 {
		c.BufferSize = 4096
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	if c.BufferProvider == nil {
		c.BufferProvider = NewBufferProvider(2, int(c.MaxSize), c.MaxSize)
	}
	return c
}
