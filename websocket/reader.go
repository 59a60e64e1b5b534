package websocket

import "unicode/utf8"

// readerMode tracks whether the reader is idle or mid-fragmented-message,
// per spec.md Section 4.3's state machine.
type readerMode int

const (
	modeIdle readerMode = iota
	modeFragmentedText
	modeFragmentedBinary
)

// Message is a fully assembled application message: one non-control data
// frame plus zero or more continuation frames, terminated by FIN.
type Message struct {
	Type MessageType
	Data []byte
}

// ControlFrame is a fully received control frame (close/ping/pong),
// delivered independently of any in-progress fragmented message per RFC
// 6455 Section 5.5 ("control frames MAY be injected in the middle of a
// fragmented message").
type ControlFrame struct {
	Opcode  byte
	Payload []byte
}

// Reader accumulates frames read from a connection into messages. It owns
// a fixed per-connection static buffer and borrows a large buffer from a
// BufferProvider when a message exceeds it.
//
// Simplification from spec.md's literal "payload stays in place" wording:
// this implementation copies frame payloads into an owned accumulator
// (growing within the static buffer's size budget, then spilling to a
// borrowed large buffer) rather than aliasing the network read buffer
// directly. Fragmented messages are never contiguous within the read
// buffer anyway (continuation frame headers interleave with payload
// bytes), so a copying accumulator is required for those regardless; this
// reader uses the same strategy uniformly, matching the accumulator
// style of coregx-stream/websocket/conn.go's fragmentBuf. The documented
// three-tier discipline (static budget → pooled large buffer → heap
// fallback → ErrMessageTooLarge) and the exactly-one-release invariant
// are preserved; only the zero-copy-in-place detail for single-frame
// messages is traded for simplicity. See DESIGN.md.
type Reader struct {
	provider *BufferProvider
	static   []byte
	readOff  int
	writeOff int
	maxMsg   uint64
	isServer bool

	mode readerMode
	acc  []byte // in-budget accumulator, used before spilling to a large buffer

	large     *BorrowedBuffer
	largeUsed int
}

// NewReader creates a Reader with the given static buffer size, backed by
// provider for large-message overflow, enforcing maxMessageSize. isServer
// selects which side of RFC 6455 Section 5.1's masking rule this reader
// enforces: a server rejects unmasked frames with ErrMaskRequired, a
// client rejects masked frames with ErrMaskUnexpected.
func NewReader(provider *BufferProvider, staticSize int, maxMessageSize uint64, isServer bool) *Reader {
	return &Reader{
		provider: provider,
		static:   provider.Static(staticSize),
		maxMsg:   maxMessageSize,
		isServer: isServer,
	}
}

// Fill reads as much as the static buffer can accept from r into the
// reader's writable region. It compacts already-consumed bytes to the
// front first if the buffer is full, so a reader stuck waiting on a
// single oversized frame header never starves.
func (rd *Reader) Fill(r interface{ Read([]byte) (int, error) }) (int, error) {
	if !rd.compactIfFull() {
		return 0, nil
	}
	n, err := r.Read(rd.writable())
	rd.advance(n)
	return n, err
}

// compactIfFull runs the pre-read compaction check shared by Fill and
// worker_poll.go's fillNonblocking.
func (rd *Reader) compactIfFull() bool {
	if rd.writeOff >= len(rd.static) && rd.readOff > 0 {
		rd.compact()
	}
	return rd.writeOff < len(rd.static)
}

// writable returns the reader's currently-writable tail region, for Fill
// and fillNonblocking to read into.
func (rd *Reader) writable() []byte {
	return rd.static[rd.writeOff:]
}

// advance records n additional bytes as written.
func (rd *Reader) advance(n int) {
	rd.writeOff += n
}

// seed primes the reader with bytes already read off the wire before the
// reader existed (e.g. frame bytes that arrived pipelined right after a
// client handshake response). It is only valid immediately after
// construction, before any Fill/fillNonblocking call.
func (rd *Reader) seed(b []byte) {
	n := copy(rd.static, b)
	rd.writeOff = n
}

// Read parses as many complete frames as the buffered bytes allow.
// Exactly one of (msg, ctrl) is non-nil when a result is delivered; all
// three are nil/false when more bytes are needed (call Fill again). When
// err is non-nil the connection must be closed with closeCodeFor(err).
// hasMore indicates another complete result may already be buffered.
func (rd *Reader) Read() (hasMore bool, msg *Message, ctrl *ControlFrame, err error) {
	for {
		buf := rd.static[rd.readOff:rd.writeOff]
		f, consumed, ferr := decodeFrame(buf, rd.maxMsg)
		if ferr == errIncompleteFrame {
			return false, nil, nil, nil
		}
		if ferr != nil {
			return false, nil, nil, ferr
		}
		rd.readOff += consumed
		more := rd.readOff < rd.writeOff

		if rd.isServer && !f.masked {
			return false, nil, nil, ErrMaskRequired
		}
		if !rd.isServer && f.masked {
			return false, nil, nil, ErrMaskUnexpected
		}

		if isControlFrame(f.opcode) {
			payload := append([]byte(nil), f.payload...)
			return more, nil, &ControlFrame{Opcode: f.opcode, Payload: payload}, nil
		}

		switch f.opcode {
		case opcodeText, opcodeBinary:
			if rd.mode != modeIdle {
				return false, nil, nil, ErrInvalidFragmentation
			}
			if f.fin {
				data, derr := rd.finishSingle(f.payload)
				if derr != nil {
					return false, nil, nil, derr
				}
				m, merr := rd.deliver(opcodeToType(f.opcode), data)
				if merr != nil {
					return false, nil, nil, merr
				}
				return more, m, nil, nil
			}
			rd.mode = fragModeFor(f.opcode)
			if aerr := rd.accumulate(f.payload); aerr != nil {
				rd.abort()
				return false, nil, nil, aerr
			}

		case opcodeContinuation:
			if rd.mode == modeIdle {
				return false, nil, nil, ErrInvalidFragmentation
			}
			if aerr := rd.accumulate(f.payload); aerr != nil {
				rd.abort()
				return false, nil, nil, aerr
			}
			if f.fin {
				typ := TextMessage
				if rd.mode == modeFragmentedBinary {
					typ = BinaryMessage
				}
				data := rd.takeAccumulated()
				rd.mode = modeIdle
				m, merr := rd.deliver(typ, data)
				if merr != nil {
					return false, nil, nil, merr
				}
				return more, m, nil, nil
			}
		}

		if !more {
			return false, nil, nil, nil
		}
	}
}

// Done signals that the most recently returned message or control frame
// has been consumed. Residual bytes (the start of the next frame) are
// compacted to the front of the static buffer. When no fragmented message
// is in progress, any borrowed large buffer is also released; a control
// frame that arrived between fragments leaves the partial message intact.
func (rd *Reader) Done() {
	if rd.mode == modeIdle {
		if rd.large != nil {
			_ = rd.provider.Release(rd.large)
			rd.large = nil
			rd.largeUsed = 0
		}
		rd.acc = nil
	}
	rd.compact()
}

// Abort releases resources for a message that will never be delivered
// (e.g., the connection is being torn down mid-fragment).
func (rd *Reader) Abort() {
	rd.abort()
}

func (rd *Reader) abort() {
	if rd.large != nil {
		_ = rd.provider.Release(rd.large)
		rd.large = nil
		rd.largeUsed = 0
	}
	rd.acc = nil
	rd.mode = modeIdle
}

// finishSingle handles an unfragmented (FIN=1, first-frame) data message:
// no accumulator is needed, the frame's own payload is the whole message.
func (rd *Reader) finishSingle(payload []byte) ([]byte, error) {
	out := append([]byte(nil), payload...)
	return out, nil
}

// accumulate appends payload to the in-progress message, spilling from
// the in-budget accumulator to a borrowed large buffer when the static
// buffer's size budget would be exceeded, and growing the large buffer
// again if a later frame still doesn't fit.
func (rd *Reader) accumulate(payload []byte) error {
	curLen := rd.largeUsed
	if rd.large == nil {
		curLen = len(rd.acc)
	}
	newLen := uint64(curLen) + uint64(len(payload))
	if newLen > rd.maxMsg {
		return ErrMessageTooLarge
	}

	if rd.large == nil {
		if int(newLen) <= len(rd.static) {
			rd.acc = append(rd.acc, payload...)
			return nil
		}
		bb, err := rd.provider.Acquire(int(newLen))
		if err != nil {
			return ErrMessageTooLarge
		}
		copy(bb.Bytes, rd.acc)
		copy(bb.Bytes[len(rd.acc):], payload)
		rd.acc = nil
		rd.large = bb
		rd.largeUsed = int(newLen)
		return nil
	}

	if int(newLen) <= len(rd.large.Bytes) {
		copy(rd.large.Bytes[rd.largeUsed:], payload)
		rd.largeUsed = int(newLen)
		return nil
	}

	bb, err := rd.provider.Acquire(int(newLen))
	if err != nil {
		return ErrMessageTooLarge
	}
	copy(bb.Bytes, rd.large.Bytes[:rd.largeUsed])
	copy(bb.Bytes[rd.largeUsed:], payload)
	_ = rd.provider.Release(rd.large)
	rd.large = bb
	rd.largeUsed = int(newLen)
	return nil
}

func (rd *Reader) takeAccumulated() []byte {
	if rd.large != nil {
		out := append([]byte(nil), rd.large.Bytes[:rd.largeUsed]...)
		return out
	}
	return append([]byte(nil), rd.acc...)
}

// deliver validates UTF-8 for text messages at completion time (so a
// code point split across frame boundaries never fails validation
// prematurely) and returns the assembled Message.
func (rd *Reader) deliver(typ MessageType, data []byte) (*Message, error) {
	if typ == TextMessage && !utf8.Valid(data) {
		return nil, ErrInvalidUTF8
	}
	return &Message{Type: typ, Data: data}, nil
}

func (rd *Reader) compact() {
	if rd.readOff == 0 {
		return
	}
	n := copy(rd.static, rd.static[rd.readOff:rd.writeOff])
	rd.writeOff = n
	rd.readOff = 0
}

func opcodeToType(opcode byte) MessageType {
	if opcode == opcodeBinary {
		return BinaryMessage
	}
	return TextMessage
}

func fragModeFor(opcode byte) readerMode {
	if opcode == opcodeBinary {
		return modeFragmentedBinary
	}
	return modeFragmentedText
}
