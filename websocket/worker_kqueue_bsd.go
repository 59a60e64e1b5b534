//go:build darwin || freebsd || netbsd || openbsd

package websocket

import "golang.org/x/sys/unix"

// kqueuePoller implements pollerBackend on BSD/Darwin using kqueue with
// EV_DISPATCH, kqueue's equivalent of epoll's EPOLLONESHOT: once an event
// fires it is automatically disabled until rearm re-enables it (spec.md
// Section 4.7).
type kqueuePoller struct {
	fd     int
	events []unix.Kevent_t
}

func newPoller() (pollerBackend, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(fd)
	return &kqueuePoller{
		fd:     fd,
		events: make([]unix.Kevent_t, 256),
	}, nil
}

func (p *kqueuePoller) add(fd int) error {
	ev := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD | unix.EV_DISPATCH,
	}
	_, err := unix.Kevent(p.fd, []unix.Kevent_t{ev}, nil, nil)
	return err
}

func (p *kqueuePoller) rearm(fd int) error {
	ev := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ENABLE | unix.EV_DISPATCH,
	}
	_, err := unix.Kevent(p.fd, []unix.Kevent_t{ev}, nil, nil)
	return err
}

func (p *kqueuePoller) wait() ([]int, error) {
	for {
		n, err := unix.Kevent(p.fd, nil, p.events, nil)
		if err != nil {
			if err == unix.EINTR { //nolint:errorlint // raw syscall errno
				continue
			}
			return nil, err
		}

		ready := make([]int, 0, n)
		for i := 0; i < n; i++ {
			ready = append(ready, int(p.events[i].Ident))
		}
		return ready, nil
	}
}

func (p *kqueuePoller) close() error {
	return unix.Close(p.fd)
}
