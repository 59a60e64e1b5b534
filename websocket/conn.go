package websocket

import (
	"encoding/json/v2"
	"net"
	"sync"
	"sync/atomic"
	"unicode/utf8"
)

// IOMode distinguishes how a Conn's owning worker drives its socket.
type IOMode int

const (
	// Blocking connections are served one goroutine per connection,
	// blocking in net.Conn.Read (worker_blocking.go).
	Blocking IOMode = iota
	// Nonblocking connections are driven by a readiness-based reactor
	// (worker_poll.go and friends) and must never block in Read or Write.
	Nonblocking
)

// Conn represents a single WebSocket connection (RFC 6455).
//
// Conn owns the underlying socket, a Reader for incremental frame
// decoding, and the write-side framing/masking logic. Unlike
// coregx-stream/websocket/conn.go (whose fragment reassembly lived in a
// bytes.Buffer on Conn itself, and whose closed flag was a plain
// bool+RWMutex), this Conn delegates message reassembly to Reader and
// closes idempotently via an atomic compare-and-swap, so Close can be
// called concurrently from the owning worker and from a handler callback
// without contending on a mutex for the common case.
type Conn struct {
	netConn  net.Conn
	isServer bool
	ioMode   IOMode
	id       string

	reader *Reader

	// RFC 6455 Section 5.1: "An endpoint MUST NOT send a data frame while
	// a fragmented message is being transmitted." Serializes Write/Ping/
	// Pong/Close against each other.
	writeMu sync.Mutex

	closed atomic.Bool
}

// newConn wraps netConn as a server or client WebSocket connection. id
// is an opaque identifier (see log.go) used only for structured logging.
func newConn(netConn net.Conn, reader *Reader, isServer bool, ioMode IOMode, id string) *Conn {
	return &Conn{
		netConn:  netConn,
		isServer: isServer,
		ioMode:   ioMode,
		id:       id,
		reader:   reader,
	}
}

// ID returns the connection's log identifier.
func (c *Conn) ID() string { return c.id }

// IsClosed reports whether Close has already run.
func (c *Conn) IsClosed() bool { return c.closed.Load() }

// RemoteAddr returns the peer address, or nil if the connection has no
// underlying socket (e.g. in unit tests using a pipe).
func (c *Conn) RemoteAddr() net.Addr {
	if c.netConn == nil {
		return nil
	}
	return c.netConn.RemoteAddr()
}

// Read blocks until the next complete message arrives, transparently
// answering Ping frames with Pong and retrying on Pong frames. It is only
// valid for Blocking-mode connections; Nonblocking connections are driven
// through Reader directly by the reactor in worker_poll.go.
func (c *Conn) Read() (MessageType, []byte, error) {
	if c.closed.Load() {
		return 0, nil, ErrClosed
	}

	for {
		hasMore, msg, ctrl, err := c.reader.Read()
		if err != nil {
			_ = c.failWith(err)
			return 0, nil, err
		}

		if ctrl != nil {
			c.reader.Done()
			switch ctrl.Opcode {
			case opcodePing:
				if werr := c.Pong(ctrl.Payload); werr != nil {
					return 0, nil, werr
				}
				continue
			case opcodePong:
				continue
			case opcodeClose:
				code := closeCodeFromPayload(ctrl.Payload)
				_ = c.closeLocked(code, "")
				return 0, nil, ErrClosed
			}
			continue
		}

		if msg != nil {
			c.reader.Done()
			return msg.Type, msg.Data, nil
		}

		if hasMore {
			continue
		}

		n, rerr := c.reader.Fill(c.netConn)
		if n == 0 && rerr != nil {
			_ = c.closeLocked(CloseAbnormalClosure, "")
			return 0, nil, rerr
		}
	}
}

func closeCodeFromPayload(payload []byte) CloseCode {
	if len(payload) < 2 {
		return CloseNoStatusReceived
	}
	return CloseCode(uint16(payload[0])<<8 | uint16(payload[1]))
}

// ReadText reads the next message, requiring it to be text.
func (c *Conn) ReadText() (string, error) {
	typ, data, err := c.Read()
	if err != nil {
		return "", err
	}
	if typ != TextMessage {
		return "", ErrInvalidMessageType
	}
	return string(data), nil
}

// ReadJSON reads the next message as JSON, requiring it to be text.
func (c *Conn) ReadJSON(v any) error {
	typ, data, err := c.Read()
	if err != nil {
		return err
	}
	if typ != TextMessage {
		return ErrInvalidMessageType
	}
	return json.Unmarshal(data, v)
}

// Write sends a single-frame (unfragmented) message.
func (c *Conn) Write(messageType MessageType, data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}

	var opcode byte
	switch messageType {
	case TextMessage:
		opcode = opcodeText
		if !utf8.Valid(data) {
			return ErrInvalidUTF8
		}
	case BinaryMessage:
		opcode = opcodeBinary
	default:
		return ErrInvalidMessageType
	}

	return c.writeFrame(opcode, data)
}

// WriteText writes a text message.
func (c *Conn) WriteText(text string) error {
	return c.Write(TextMessage, []byte(text))
}

// WriteJSON marshals v and writes it as a text message.
func (c *Conn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Write(TextMessage, data)
}

// Ping sends a ping control frame. data is optional and capped at 125 bytes.
func (c *Conn) Ping(data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if len(data) > maxControlPayload {
		return ErrControlTooLarge
	}
	return c.writeFrame(opcodePing, data)
}

// Pong sends a pong control frame, normally echoing a received ping's payload.
func (c *Conn) Pong(data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if len(data) > maxControlPayload {
		return ErrControlTooLarge
	}
	return c.writeFrame(opcodePong, data)
}

// Close sends a close frame with CloseNormalClosure and shuts the socket
// down. Idempotent.
func (c *Conn) Close() error {
	return c.CloseWithCode(CloseNormalClosure, "")
}

// CloseWithCode sends a close frame carrying code and reason, then closes
// the socket. Idempotent: only the first call sends and closes; later
// calls return nil.
func (c *Conn) CloseWithCode(code CloseCode, reason string) error {
	return c.closeLocked(code, reason)
}

func (c *Conn) closeLocked(code CloseCode, reason string) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	if reason != "" && !utf8.ValidString(reason) {
		reason = ""
	}
	payload := make([]byte, 2+len(reason))
	payload[0] = byte(code >> 8)
	payload[1] = byte(code & 0xFF)
	copy(payload[2:], reason)

	c.writeMu.Lock()
	var mask *[4]byte
	if !c.isServer {
		m := newClientMask()
		mask = &m
	}
	frameBytes := encodeFrame(opcodeClose, true, payload, mask)
	_, writeErr := c.netConn.Write(frameBytes)
	c.writeMu.Unlock()

	closeErr := c.netConn.Close()
	if writeErr != nil {
		return writeErr
	}
	return closeErr
}

// failWith closes the connection with the close code matching a
// protocol-level read error, without attempting to reuse the (now
// presumably desynchronized) framing.
func (c *Conn) failWith(err error) error {
	return c.closeLocked(closeCodeFor(err), "")
}

func (c *Conn) writeFrame(opcode byte, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}

	var mask *[4]byte
	if !c.isServer {
		m := newClientMask()
		mask = &m
	}
	_, err := c.netConn.Write(encodeFrame(opcode, true, payload, mask))
	return err
}

// WriteFramed writes pre-built frame bytes verbatim, bypassing masking
// and framing. Used for canned handshake-failure and close responses
// whose bytes were already constructed (e.g. BadRequestResponse).
func (c *Conn) WriteFramed(raw []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.netConn.Write(raw)
	return err
}
