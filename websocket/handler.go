package websocket

// MessageHandler is implemented by application types that don't care
// whether a message was text or binary.
type MessageHandler interface {
	HandleMessage(data []byte)
}

// TypedMessageHandler is implemented by application types that need to
// distinguish text from binary messages.
type TypedMessageHandler interface {
	HandleMessage(data []byte, kind MessageType)
}

// PingHandler lets an application observe (or reply to) incoming pings
// itself instead of the default auto-pong.
type PingHandler interface {
	HandlePing(data []byte)
}

// PongHandler lets an application observe incoming pongs (e.g. to clear a
// liveness timer). The default behavior is to ignore them.
type PongHandler interface {
	HandlePong(data []byte)
}

// CloseHandler lets an application run logic when a close frame arrives,
// before the connection is torn down.
type CloseHandler interface {
	HandleClose(data []byte)
}

// AfterInitHandler is called once, right after a connection's handshake
// completes and it is registered with its worker.
type AfterInitHandler interface {
	AfterInit(conn *Conn)
}

// CloseNotifiedHandler is called once the underlying socket has actually
// been closed, for application-side cleanup (e.g. removing the conn from
// an application-managed connection registry).
type CloseNotifiedHandler interface {
	OnClose(conn *Conn)
}

// HandshakeErrorHandler lets an application customize the response body
// sent back when a handshake fails validation, instead of the default
// BadRequestResponse.
type HandshakeErrorHandler interface {
	HandshakeErrorResponse(err error) []byte
}

// messageDispatch is resolved once, at HandlerConn construction, from
// whichever of MessageHandler/TypedMessageHandler the application type
// implements (spec.md Section 9: "binding is fixed at type-resolution
// time, not per call"). At most one of the two fields is non-nil; both are
// nil when the handler implements neither interface.
type messageDispatch struct {
	untyped func(data []byte)
	typed   func(data []byte, kind MessageType)
}

// resolveDispatch type-asserts handler once and caches the matching call
// shape. A handler implementing neither interface yields a no-op
// dispatch; dispatch.go still runs control-frame handling for it.
func resolveDispatch(handler any) messageDispatch {
	if th, ok := handler.(TypedMessageHandler); ok {
		return messageDispatch{typed: th.HandleMessage}
	}
	if mh, ok := handler.(MessageHandler); ok {
		return messageDispatch{untyped: mh.HandleMessage}
	}
	return messageDispatch{}
}

func (d messageDispatch) dispatch(data []byte, kind MessageType) {
	switch {
	case d.typed != nil:
		d.typed(data, kind)
	case d.untyped != nil:
		d.untyped(data)
	}
}
