//go:build linux

package selector

import (
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

func newPlatformSelector() (Selector, error) {
	return newEpoll()
}

type epollEntry struct {
	events Events
	data   interface{}
}

// epollSelector is the Linux backend, grounded on trpc-group-tnet's
// internal/poller epoll implementation (x/sys/unix.EpollCreate1/EpollCtl/
// EpollWait) but generalized to gaio's register/modify/unregister contract
// instead of tnet's fixed-at-attach read/write callback pair.
type epollSelector struct {
	fd int

	mu      sync.Mutex
	entries map[int]*epollEntry

	events []unix.EpollEvent
}

func newEpoll() (*epollSelector, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &epollSelector{
		fd:      fd,
		entries: make(map[int]*epollEntry),
		events:  make([]unix.EpollEvent, 128),
	}, nil
}

func toEpollMask(e Events) uint32 {
	var mask uint32
	if e.Has(Read) {
		mask |= unix.EPOLLIN
	}
	if e.Has(Write) {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func (s *epollSelector) Register(fd int, events Events, data interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[fd]; ok {
		return ErrAlreadyRegistered
	}
	ev := unix.EpollEvent{Events: toEpollMask(events), Fd: int32(fd)}
	if err := unix.EpollCtl(s.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return os.NewSyscallError("epoll_ctl(add)", err)
	}
	s.entries[fd] = &epollEntry{events: events, data: data}
	return nil
}

func (s *epollSelector) Modify(fd int, events Events, data interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[fd]
	if !ok {
		return ErrUnknownFD
	}
	ev := unix.EpollEvent{Events: toEpollMask(events), Fd: int32(fd)}
	if err := unix.EpollCtl(s.fd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return os.NewSyscallError("epoll_ctl(mod)", err)
	}
	e.events = events
	e.data = data
	return nil
}

func (s *epollSelector) Unregister(fd int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[fd]; !ok {
		return ErrUnknownFD
	}
	// Linux < 2.6.9 requires a non-nil event pointer even for DEL.
	_ = unix.EpollCtl(s.fd, unix.EPOLL_CTL_DEL, fd, &unix.EpollEvent{})
	delete(s.entries, fd)
	return nil
}

func (s *epollSelector) Info(fd int) (Events, interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[fd]
	if !ok {
		return 0, nil, ErrUnknownFD
	}
	return e.events, e.data, nil
}

func (s *epollSelector) Select(timeout time.Duration) ([]Ready, error) {
	ms := timeoutMillis(timeout)
	var n int
	var err error
	for {
		n, err = unix.EpollWait(s.fd, s.events, ms)
		if err == unix.EINTR {
			continue
		}
		break
	}
	if err != nil {
		return nil, os.NewSyscallError("epoll_wait", err)
	}

	out := make([]Ready, 0, n)
	s.mu.Lock()
	for i := 0; i < n; i++ {
		ev := s.events[i]
		fd := int(ev.Fd)
		e, ok := s.entries[fd]
		if !ok {
			continue
		}
		var re Events
		if ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			re |= Read
		}
		if ev.Events&(unix.EPOLLOUT|unix.EPOLLERR) != 0 {
			re |= Write
		}
		if re == 0 {
			continue
		}
		out = append(out, Ready{FD: fd, Events: re, Data: e.data})
	}
	s.mu.Unlock()
	return out, nil
}

func (s *epollSelector) Close() error {
	return os.NewSyscallError("close", unix.Close(s.fd))
}

// timeoutMillis converts a Select timeout to epoll_wait's millisecond
// convention: negative means block indefinitely (-1), zero means poll.
func timeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	ms := timeout.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	if ms > int64(^uint32(0)>>1) {
		ms = int64(^uint32(0) >> 1)
	}
	return int(ms)
}
