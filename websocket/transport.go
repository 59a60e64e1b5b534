//go:build unix

package websocket

import (
	"context"
	"net"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// listen binds cfg's configured address (TCP host:port, or a Unix domain
// socket when UnixPath is set), applying SO_REUSEPORT (falling back to
// SO_REUSEADDR when the platform lacks it), per spec.md Section 6.
// net.ListenConfig has no backlog knob — Go's runtime picks the kernel
// default (SOMAXCONN) for the listen(2) backlog — so this listener uses
// that platform default rather than 1024. TCP_NODELAY is applied
// per-connection after accept, in the workers (see setNoDelay).
func listen(cfg Config) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				if errno := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); errno != nil {
					_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				}
			})
			if err != nil {
				ctrlErr = err
			}
			return ctrlErr
		},
	}

	if cfg.UnixPath != "" {
		return lc.Listen(context.Background(), "unix", cfg.UnixPath)
	}

	addr := cfg.Address
	if addr == "" {
		addr = "127.0.0.1"
	}
	return lc.Listen(context.Background(), "tcp", net.JoinHostPort(addr, strconv.Itoa(int(cfg.Port))))
}

// setNoDelay enables TCP_NODELAY on conn, if it is a *net.TCPConn.
func setNoDelay(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
}

// rawListen builds a raw nonblocking listening socket for
// ServeNonblocking (worker_poll.go), which manages its own fds directly
// instead of going through net.Listener. Supports TCP (v4) and Unix
// domain sockets; SO_REUSEPORT (falling back to SO_REUSEADDR) and a 1024
// backlog are applied directly via the syscalls spec.md Section 6 names.
func rawListen(cfg Config) (int, error) {
	if cfg.UnixPath != "" {
		return rawListenUnix(cfg.UnixPath)
	}
	return rawListenTCP(cfg)
}

func rawListenTCP(cfg Config) (int, error) {
	addr := cfg.Address
	if addr == "" {
		addr = "127.0.0.1"
	}
	tcpAddr, err := net.ResolveTCPAddr("tcp4", net.JoinHostPort(addr, strconv.Itoa(int(cfg.Port))))
	if err != nil {
		return -1, err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, err
	}

	if e := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); e != nil {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}

	var sa unix.SockaddrInet4
	sa.Port = tcpAddr.Port
	copy(sa.Addr[:], tcpAddr.IP.To4())

	if err := unix.Bind(fd, &sa); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, 1024); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func rawListenUnix(path string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, 1024); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}
