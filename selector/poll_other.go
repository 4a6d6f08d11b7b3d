//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly

package selector

import (
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

func newPlatformSelector() (Selector, error) {
	return newPollSelector(), nil
}

type pollEntry struct {
	events Events
	data   interface{}
}

// pollSelector is the portable poll(2)-based fallback backend: no
// kernel-side readiness set, so each Select call rebuilds the pollfd
// array from the registered fds and scans the result linearly. Adequate
// for platforms without epoll/kqueue; not competitive at very high fd
// counts, which is exactly why the ladder prefers the other two backends.
type pollSelector struct {
	mu      sync.Mutex
	entries map[int]*pollEntry
}

func newPollSelector() *pollSelector {
	return &pollSelector{entries: make(map[int]*pollEntry)}
}

func (s *pollSelector) Register(fd int, events Events, data interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[fd]; ok {
		return ErrAlreadyRegistered
	}
	s.entries[fd] = &pollEntry{events: events, data: data}
	return nil
}

func (s *pollSelector) Modify(fd int, events Events, data interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[fd]
	if !ok {
		return ErrUnknownFD
	}
	e.events = events
	e.data = data
	return nil
}

func (s *pollSelector) Unregister(fd int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[fd]; !ok {
		return ErrUnknownFD
	}
	delete(s.entries, fd)
	return nil
}

func (s *pollSelector) Info(fd int) (Events, interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[fd]
	if !ok {
		return 0, nil, ErrUnknownFD
	}
	return e.events, e.data, nil
}

func (s *pollSelector) Select(timeout time.Duration) ([]Ready, error) {
	s.mu.Lock()
	fds := make([]unix.PollFd, 0, len(s.entries))
	order := make([]int, 0, len(s.entries))
	for fd, e := range s.entries {
		var mask int16
		if e.events.Has(Read) {
			mask |= unix.POLLIN
		}
		if e.events.Has(Write) {
			mask |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: mask})
		order = append(order, fd)
	}
	s.mu.Unlock()

	ms := timeoutMillisPoll(timeout)
	var n int
	var err error
	for {
		n, err = unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		break
	}
	if err != nil {
		return nil, os.NewSyscallError("poll", err)
	}
	if n == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Ready, 0, n)
	for i, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		fd := order[i]
		e, ok := s.entries[fd]
		if !ok {
			continue
		}
		var re Events
		if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			re |= Read
		}
		if pfd.Revents&(unix.POLLOUT|unix.POLLERR) != 0 {
			re |= Write
		}
		if re == 0 {
			continue
		}
		out = append(out, Ready{FD: fd, Events: re, Data: e.data})
	}
	return out, nil
}

func (s *pollSelector) Close() error { return nil }

func timeoutMillisPoll(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	ms := timeout.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return int(ms)
}
