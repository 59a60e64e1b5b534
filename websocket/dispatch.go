package websocket

// HandlerConn pairs a Conn with the application handler bound to it and
// the capability closures resolved once at construction time, plus its
// slot in the owning worker's connArena.
//
// Grounded on jason-cq-nats-server/server/websocket.go's close-code
// validation ranges (reserved 1004/1005/1006, the (1013, 3000) rejection
// band) — the only pack reference that encodes the close-code legality
// table spec.md describes, even though it is reference-only material.
type HandlerConn struct {
	*Conn

	handler  any
	dispatch messageDispatch

	ping      func(data []byte)
	pong      func(data []byte)
	onClose   func(data []byte)
	afterInit func(conn *Conn)
	notified  func(conn *Conn)
	errResp   func(err error) []byte

	arenaIdx int

	// pendingHS/upgraded track an in-progress handshake for the
	// nonblocking worker (worker_poll.go), which resumes parsing across
	// multiple readiness wake-ups instead of blocking in one read.
	pendingHS *HandshakeState
	upgraded  bool
}

// newHandlerConn resolves handler's capability interfaces once, per
// spec.md Section 9's "binding is fixed at type-resolution time, not per
// call."
func newHandlerConn(conn *Conn, handler any) *HandlerConn {
	hc := &HandlerConn{
		Conn:     conn,
		handler:  handler,
		dispatch: resolveDispatch(handler),
		arenaIdx: arenaNil,
	}

	if h, ok := handler.(PingHandler); ok {
		hc.ping = h.HandlePing
	}
	if h, ok := handler.(PongHandler); ok {
		hc.pong = h.HandlePong
	}
	if h, ok := handler.(CloseHandler); ok {
		hc.onClose = h.HandleClose
	}
	if h, ok := handler.(AfterInitHandler); ok {
		hc.afterInit = h.AfterInit
	}
	if h, ok := handler.(CloseNotifiedHandler); ok {
		hc.notified = h.OnClose
	}
	if h, ok := handler.(HandshakeErrorHandler); ok {
		hc.errResp = h.HandshakeErrorResponse
	}

	return hc
}

// init runs the optional AfterInit hook once, right after the connection
// is registered with its worker.
func (hc *HandlerConn) init() {
	if hc.afterInit != nil {
		hc.afterInit(hc.Conn)
	}
}

// DispatchMessage delivers a completed application message to the
// handler's resolved callback.
func (hc *HandlerConn) DispatchMessage(msg *Message) {
	hc.dispatch.dispatch(msg.Data, msg.Type)
}

// DispatchControl handles a single control frame per spec.md Section 4.8:
// pings are answered with pong (either the handler's own HandlePing, or
// an echoing auto-pong), pongs are delivered to HandlePong or ignored,
// and close frames are validated and answered, reporting whether the
// connection must now be torn down.
func (hc *HandlerConn) DispatchControl(ctrl *ControlFrame) (mustClose bool) {
	switch ctrl.Opcode {
	case opcodePing:
		if hc.ping != nil {
			hc.ping(ctrl.Payload)
			return false
		}
		_ = hc.Pong(ctrl.Payload)
		return false

	case opcodePong:
		if hc.pong != nil {
			hc.pong(ctrl.Payload)
		}
		return false

	case opcodeClose:
		hc.handleClose(ctrl.Payload)
		return true
	}
	return false
}

// handleClose handles an incoming close frame per spec.md Section 4.8: if
// the handler declares HandleClose, the frame is delegated entirely and
// the core only closes the connection afterward — it does not also
// validate the status code or send its own close reply. Otherwise the
// core validates the status code (RFC 6455 Section 7.4) and answers it.
func (hc *HandlerConn) handleClose(payload []byte) {
	if hc.onClose != nil {
		hc.onClose(payload)
		_ = hc.Close()
		return
	}

	code := CloseNormalClosure
	if len(payload) >= 2 {
		code = CloseCode(uint16(payload[0])<<8 | uint16(payload[1]))
		if !isValidIncomingCloseCode(uint16(code)) {
			code = CloseProtocolError
		}
	} else if len(payload) == 1 {
		// A close frame body, if present, must carry at least the 2-byte
		// status code (RFC 6455 Section 5.5.1).
		code = CloseProtocolError
	}

	_ = hc.CloseWithCode(code, "")
}

// handshakeErrorResponse returns the bytes to write back synchronously
// when this connection's handshake fails, preferring the handler's
// customization if any.
func (hc *HandlerConn) handshakeErrorResponse(err error) []byte {
	if hc.errResp != nil {
		return hc.errResp(err)
	}
	return BadRequestResponse(err)
}
