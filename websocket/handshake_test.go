package websocket

import (
	"net/http"
	"strings"
	"testing"
)

// TestComputeAcceptKey_RFCExample uses the worked example from RFC 6455
// Section 1.3 itself.
func TestComputeAcceptKey_RFCExample(t *testing.T) {
	const key = "dGhlIHNhbXBsZSBub25jZQ=="
	const want = "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got := computeAcceptKey(key); got != want {
		t.Fatalf("computeAcceptKey(%q) = %q, want %q", key, got, want)
	}
}

func validUpgradeRequest() string {
	return "GET /chat HTTP/1.1\r\n" +
		"Host: server.example.com\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"\r\n"
}

func TestHandshakeState_ParseValidRequest(t *testing.T) {
	hs := NewHandshakeState(1024, 10)
	if err := hs.Feed([]byte(validUpgradeRequest())); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if err := hs.Parse(); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if hs.Path != "/chat" {
		t.Errorf("Path = %q, want /chat", hs.Path)
	}
	if hs.Host != "server.example.com" {
		t.Errorf("Host = %q", hs.Host)
	}
	if hs.Key != "dGhlIHNhbXBsZSBub25jZQ==" {
		t.Errorf("Key = %q", hs.Key)
	}
}

func TestHandshakeState_IncrementalFeed(t *testing.T) {
	req := validUpgradeRequest()
	hs := NewHandshakeState(1024, 10)

	var parsed error
	for i := 0; i < len(req); i += 7 {
		end := i + 7
		if end > len(req) {
			end = len(req)
		}
		if err := hs.Feed([]byte(req[i:end])); err != nil {
			t.Fatalf("Feed chunk: %v", err)
		}
		parsed = hs.Parse()
		if parsed == nil {
			break
		}
		if parsed != errIncompleteHandshake {
			t.Fatalf("Parse: %v", parsed)
		}
	}
	if parsed != nil {
		t.Fatalf("request never completed: %v", parsed)
	}
	if hs.Path != "/chat" {
		t.Errorf("Path = %q", hs.Path)
	}
}

func TestHandshakeState_MissingHeaders(t *testing.T) {
	req := "GET / HTTP/1.1\r\nHost: x\r\n\r\n"
	hs := NewHandshakeState(1024, 10)
	_ = hs.Feed([]byte(req))
	if err := hs.Parse(); err != ErrInvalidUpgrade {
		t.Fatalf("err = %v, want ErrInvalidUpgrade", err)
	}
}

func TestHandshakeState_BadRequestLine(t *testing.T) {
	req := "POST /chat HTTP/1.1\r\nHost: x\r\n\r\n"
	hs := NewHandshakeState(1024, 10)
	_ = hs.Feed([]byte(req))
	if err := hs.Parse(); err != ErrInvalidRequestLine {
		t.Fatalf("err = %v, want ErrInvalidRequestLine", err)
	}
}

func TestHandshakeState_TooManyHeaders(t *testing.T) {
	var b strings.Builder
	b.WriteString("GET / HTTP/1.1\r\n")
	for i := 0; i < 5; i++ {
		b.WriteString("X-Extra: v\r\n")
	}
	b.WriteString("\r\n")

	hs := NewHandshakeState(1024, 3)
	_ = hs.Feed([]byte(b.String()))
	if err := hs.Parse(); err != ErrTooManyHeaders {
		t.Fatalf("err = %v, want ErrTooManyHeaders", err)
	}
}

func TestHandshakeState_RequestTooLarge(t *testing.T) {
	hs := NewHandshakeState(16, 10)
	if err := hs.Feed([]byte(validUpgradeRequest())); err != ErrRequestTooLarge {
		t.Fatalf("Feed err = %v, want ErrRequestTooLarge", err)
	}
}

func TestHandshakeState_InvalidKey(t *testing.T) {
	req := "GET / HTTP/1.1\r\n" +
		"Host: x\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: not-base64!!\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"
	hs := NewHandshakeState(1024, 10)
	_ = hs.Feed([]byte(req))
	if err := hs.Parse(); err != ErrInvalidHeader {
		t.Fatalf("err = %v, want ErrInvalidHeader", err)
	}
}

func TestHandshakeState_NegotiateSubprotocol(t *testing.T) {
	req := "GET / HTTP/1.1\r\n" +
		"Host: x\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"Sec-WebSocket-Protocol: soap, wamp\r\n\r\n"
	hs := NewHandshakeState(1024, 10)
	_ = hs.Feed([]byte(req))
	if err := hs.Parse(); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := hs.NegotiateSubprotocol([]string{"wamp"}); got != "wamp" {
		t.Fatalf("NegotiateSubprotocol = %q, want wamp", got)
	}
	if got := hs.NegotiateSubprotocol([]string{"other"}); got != "" {
		t.Fatalf("NegotiateSubprotocol = %q, want empty", got)
	}
}

func TestHandshakeState_Reply(t *testing.T) {
	hs := NewHandshakeState(1024, 10)
	_ = hs.Feed([]byte(validUpgradeRequest()))
	if err := hs.Parse(); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	reply := string(hs.Reply(""))
	if !strings.HasPrefix(reply, "HTTP/1.1 101 Switching Protocols\r\n") {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if !strings.Contains(reply, "Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=") {
		t.Fatalf("missing accept header: %q", reply)
	}
}

func TestHandshakePool_AcquireRelease(t *testing.T) {
	pool := NewHandshakePool(2, 256, 10)

	a := pool.Acquire()
	b := pool.Acquire()
	c := pool.Acquire() // pool exhausted, dynamic allocation
	if !c.dynamic {
		t.Fatalf("expected third acquisition to be dynamic")
	}

	pool.Release(a)
	pool.Release(b)
	pool.Release(c) // no-op, dynamic

	reacquired := pool.Acquire()
	if reacquired.dynamic {
		t.Fatalf("expected pooled instance to be reused")
	}
}

func TestBuildAndParseClientHandshake(t *testing.T) {
	req := ClientHandshakeRequest{
		Path:    "/ws",
		Host:    "example.com",
		Headers: http.Header{"Sec-WebSocket-Protocol": []string{"chat"}},
	}

	wire, key := BuildClientRequest(req, nil)

	hs := NewHandshakeState(1024, 10)
	if err := hs.Feed(wire); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if err := hs.Parse(); err != nil {
		t.Fatalf("server failed to parse client request: %v", err)
	}
	if hs.Key != key {
		t.Fatalf("server-observed key %q != client key %q", hs.Key, key)
	}

	reply := hs.Reply(hs.NegotiateSubprotocol([]string{"chat"}))
	surplus, err := ParseClientResponse(append(reply, []byte("leftover")...), key)
	if err != nil {
		t.Fatalf("ParseClientResponse: %v", err)
	}
	if string(surplus) != "leftover" {
		t.Fatalf("surplus = %q, want %q", surplus, "leftover")
	}
}

func TestParseClientResponse_BadAccept(t *testing.T) {
	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: wrong==\r\n\r\n"
	if _, err := ParseClientResponse([]byte(resp), "dGhlIHNhbXBsZSBub25jZQ=="); err != ErrInvalidWebSocketAcceptHeader {
		t.Fatalf("err = %v, want ErrInvalidWebSocketAcceptHeader", err)
	}
}

func TestParseClientResponse_Incomplete(t *testing.T) {
	resp := "HTTP/1.1 101 Switching Protocols\r\n"
	if _, err := ParseClientResponse([]byte(resp), "key"); err != errIncompleteHandshake {
		t.Fatalf("err = %v, want errIncompleteHandshake", err)
	}
}

func TestCheckSameOrigin(t *testing.T) {
	noOrigin := NewHandshakeState(1024, 10)
	_ = noOrigin.Feed([]byte(validUpgradeRequest()))
	_ = noOrigin.Parse()
	if !CheckSameOrigin(noOrigin, false) {
		t.Fatalf("a request with no Origin header must be accepted")
	}

	matching := NewHandshakeState(1024, 10)
	_ = matching.Feed([]byte("GET /chat HTTP/1.1\r\n" +
		"Host: server.example.com\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"Origin: http://server.example.com\r\n\r\n"))
	_ = matching.Parse()
	if !CheckSameOrigin(matching, false) {
		t.Fatalf("an Origin matching scheme+Host must be accepted")
	}
	if CheckSameOrigin(matching, true) {
		t.Fatalf("an http Origin must be rejected once tls is true (expects https)")
	}

	mismatched := NewHandshakeState(1024, 10)
	_ = mismatched.Feed([]byte("GET /chat HTTP/1.1\r\n" +
		"Host: server.example.com\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"Origin: http://evil.example.com\r\n\r\n"))
	_ = mismatched.Parse()
	if CheckSameOrigin(mismatched, false) {
		t.Fatalf("a cross-origin request must be rejected")
	}
}
