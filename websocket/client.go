package websocket

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DialOptions configures Dial. Grounded on coregx-stream/websocket's
// client_test.go Dial helper (URL parsing, handshake request assembly),
// generalized from a test-only http.ReadResponse-based client into a
// production client built on the byte-based handshake codec in
// handshake.go, so it can share ParseClientResponse/BuildClientRequest
// with the server's own handshake parsing instead of depending on
// net/http.
type DialOptions struct {
	Header           http.Header
	Subprotocols     []string
	HandshakeTimeout time.Duration
	TLSConfig        *tls.Config
	Config           ClientConfig
}

// Dial connects to a WebSocket server at url ("ws://" or "wss://"),
// performs the opening handshake, and returns a ready-to-use client Conn.
func Dial(rawURL string, opts *DialOptions) (*Conn, error) {
	if opts == nil {
		opts = &DialOptions{}
	}
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	cfg := opts.Config.WithDefaults()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("websocket: parse url: %w", err)
	}

	var useTLS bool
	switch u.Scheme {
	case "ws":
		useTLS = false
	case "wss":
		useTLS = true
	default:
		return nil, fmt.Errorf("websocket: invalid URL scheme %q", u.Scheme)
	}

	host := u.Host
	if !hasPort(host) {
		if useTLS {
			host += ":443"
		} else {
			host += ":80"
		}
	}

	netConn, err := net.DialTimeout("tcp", host, opts.HandshakeTimeout)
	if err != nil {
		return nil, fmt.Errorf("websocket: dial: %w", err)
	}
	setNoDelay(netConn)

	if useTLS || opts.Config.TLS {
		tlsConn := tls.Client(netConn, opts.TLSConfig)
		if derr := tlsConn.Handshake(); derr != nil {
			netConn.Close()
			return nil, fmt.Errorf("websocket: tls handshake: %w", derr)
		}
		netConn = tlsConn
	}

	path := u.RequestURI()
	if path == "" {
		path = "/"
	}

	headers := opts.Header
	if len(opts.Subprotocols) > 0 {
		if headers == nil {
			headers = make(http.Header)
		}
		headers.Set("Sec-WebSocket-Protocol", strings.Join(opts.Subprotocols, ", "))
	}

	req := ClientHandshakeRequest{
		Path:    path,
		Host:    u.Host,
		Headers: headers,
	}

	deadline := time.Now().Add(opts.HandshakeTimeout)
	_ = netConn.SetDeadline(deadline)

	reqBytes, key := BuildClientRequest(req, nil)
	if _, err := netConn.Write(reqBytes); err != nil {
		netConn.Close()
		return nil, fmt.Errorf("websocket: write handshake: %w", err)
	}

	surplus, err := readClientHandshakeResponse(netConn, key, cfg.MaxSize)
	if err != nil {
		netConn.Close()
		return nil, err
	}

	_ = netConn.SetDeadline(time.Time{})

	reader := NewReader(cfg.BufferProvider, cfg.BufferSize, cfg.MaxSize, false)
	if len(surplus) > 0 {
		reader.seed(surplus)
	}

	conn := newConn(netConn, reader, false, Blocking, newConnID())
	return conn, nil
}

// readClientHandshakeResponse reads from netConn in small chunks until
// ParseClientResponse succeeds, returning any bytes read past the
// terminating CRLFCRLF so they can seed the connection's Reader (the
// server may have pipelined the first frame right after the 101
// response).
func readClientHandshakeResponse(netConn net.Conn, key string, maxSize uint64) ([]byte, error) {
	buf := make([]byte, 0, 1024)
	scratch := make([]byte, 512)
	limit := maxSize
	if limit == 0 || limit > 1<<20 {
		limit = 1 << 20
	}

	for {
		n, err := netConn.Read(scratch)
		if n > 0 {
			buf = append(buf, scratch[:n]...)
			surplus, perr := ParseClientResponse(buf, key)
			if perr == nil {
				return surplus, nil
			}
			if perr != errIncompleteHandshake {
				return nil, perr
			}
			if uint64(len(buf)) > limit {
				return nil, ErrRequestTooLarge
			}
		}
		if err != nil {
			return nil, fmt.Errorf("websocket: read handshake response: %w", err)
		}
	}
}

func hasPort(host string) bool {
	for i := len(host) - 1; i >= 0; i-- {
		switch host[i] {
		case ']':
			return false
		case ':':
			return true
		}
	}
	return false
}

// ClientLogger returns a per-connection logger derived from cfg, for
// callers that want to log around a dialed Conn the same way the server
// does for accepted connections.
func ClientLogger(cfg ClientConfig, conn *Conn) zerolog.Logger {
	return connLogger(cfg.Logger, conn.ID(), "")
}
