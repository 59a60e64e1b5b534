//go:build linux

package websocket

import "golang.org/x/sys/unix"

// epollPoller implements pollerBackend on Linux using epoll with
// EPOLLONESHOT, so a readiness event for a given fd is delivered exactly
// once until that fd is explicitly rearmed (spec.md Section 4.7).
type epollPoller struct {
	fd     int
	events []unix.EpollEvent
}

func newPoller() (pollerBackend, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{
		fd:     fd,
		events: make([]unix.EpollEvent, 256),
	}, nil
}

func (p *epollPoller) add(fd int) error {
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLONESHOT,
		Fd:     int32(fd),
	}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) rearm(fd int) error {
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLONESHOT,
		Fd:     int32(fd),
	}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epollPoller) wait() ([]int, error) {
	for {
		n, err := unix.EpollWait(p.fd, p.events, -1)
		if err != nil {
			if err == unix.EINTR { //nolint:errorlint // raw syscall errno
				continue
			}
			return nil, err
		}

		ready := make([]int, 0, n)
		for i := 0; i < n; i++ {
			ready = append(ready, int(p.events[i].Fd))
		}
		return ready, nil
	}
}

func (p *epollPoller) close() error {
	return unix.Close(p.fd)
}
