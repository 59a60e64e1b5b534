package websocket

import (
	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"
)

// newConnID generates a short, log-friendly connection identifier.
// Grounded on tzrikka-timpani's use of shortuuid for correlation IDs in
// its structured log lines.
func newConnID() string {
	return shortuuid.New()
}

// connLogger returns a zerolog.Logger pre-bound with this connection's
// id and remote address, so every line logged against a HandlerConn
// carries both without the caller repeating them.
func connLogger(base *zerolog.Logger, id, remote string) zerolog.Logger {
	return base.With().Str("conn_id", id).Str("remote_addr", remote).Logger()
}
