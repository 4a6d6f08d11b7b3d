//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package selector

import (
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

func newPlatformSelector() (Selector, error) {
	return newKqueue()
}

type kqueueEntry struct {
	events Events
	data   interface{}
}

// kqueueSelector is the BSD/Darwin backend, grounded on
// trpc-group-tnet's internal/poller kqueue implementation (one EVFILT_READ
// and one EVFILT_WRITE registration per fd, x/sys/unix.Kevent_t) but
// generalized to a Register/Modify/Unregister contract instead of tnet's
// attach-once Desc model.
type kqueueSelector struct {
	fd int

	mu      sync.Mutex
	entries map[int]*kqueueEntry

	events []unix.Kevent_t
}

func newKqueue() (*kqueueSelector, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &kqueueSelector{
		fd:      fd,
		entries: make(map[int]*kqueueEntry),
		events:  make([]unix.Kevent_t, 128),
	}, nil
}

func deleteChanges(fd int) []unix.Kevent_t {
	return []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
}

func (s *kqueueSelector) Register(fd int, events Events, data interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[fd]; ok {
		return ErrAlreadyRegistered
	}
	changes := s.addChangesForInterest(fd, events)
	if len(changes) > 0 {
		if _, err := unix.Kevent(s.fd, changes, nil, nil); err != nil {
			return os.NewSyscallError("kevent(add)", err)
		}
	}
	s.entries[fd] = &kqueueEntry{events: events, data: data}
	return nil
}

// addChangesForInterest builds EV_ADD|EV_ENABLE changes only for the bits
// set in events — kqueue tracks read and write interest as two independent
// filters rather than one bitmask.
func (s *kqueueSelector) addChangesForInterest(fd int, events Events) []unix.Kevent_t {
	var changes []unix.Kevent_t
	if events.Has(Read) {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_ENABLE})
	}
	if events.Has(Write) {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD | unix.EV_ENABLE})
	}
	return changes
}

func (s *kqueueSelector) Modify(fd int, events Events, data interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[fd]
	if !ok {
		return ErrUnknownFD
	}

	var changes []unix.Kevent_t
	if events.Has(Read) != e.events.Has(Read) {
		flags := uint16(unix.EV_DELETE)
		if events.Has(Read) {
			flags = unix.EV_ADD | unix.EV_ENABLE
		}
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if events.Has(Write) != e.events.Has(Write) {
		flags := uint16(unix.EV_DELETE)
		if events.Has(Write) {
			flags = unix.EV_ADD | unix.EV_ENABLE
		}
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	if len(changes) > 0 {
		if _, err := unix.Kevent(s.fd, changes, nil, nil); err != nil {
			return os.NewSyscallError("kevent(mod)", err)
		}
	}
	e.events = events
	e.data = data
	return nil
}

func (s *kqueueSelector) Unregister(fd int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[fd]; !ok {
		return ErrUnknownFD
	}
	_, _ = unix.Kevent(s.fd, deleteChanges(fd), nil, nil)
	delete(s.entries, fd)
	return nil
}

func (s *kqueueSelector) Info(fd int) (Events, interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[fd]
	if !ok {
		return 0, nil, ErrUnknownFD
	}
	return e.events, e.data, nil
}

func (s *kqueueSelector) Select(timeout time.Duration) ([]Ready, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}

	var n int
	var err error
	for {
		n, err = unix.Kevent(s.fd, nil, s.events, ts)
		if err == unix.EINTR {
			continue
		}
		break
	}
	if err != nil {
		return nil, os.NewSyscallError("kevent(wait)", err)
	}

	// Aggregate read/write bits per fd: kqueue reports them as separate
	// events even when both fire in the same Select call.
	byFD := make(map[int]Events, n)
	s.mu.Lock()
	for i := 0; i < n; i++ {
		ev := s.events[i]
		fd := int(ev.Ident)
		if _, ok := s.entries[fd]; !ok {
			continue
		}
		switch ev.Filter {
		case unix.EVFILT_READ:
			byFD[fd] |= Read
		case unix.EVFILT_WRITE:
			byFD[fd] |= Write
		}
		if ev.Flags&(unix.EV_EOF|unix.EV_ERROR) != 0 {
			byFD[fd] |= Read | Write
		}
	}
	out := make([]Ready, 0, len(byFD))
	for fd, re := range byFD {
		out = append(out, Ready{FD: fd, Events: re, Data: s.entries[fd].data})
	}
	s.mu.Unlock()
	return out, nil
}

func (s *kqueueSelector) Close() error {
	return os.NewSyscallError("close", unix.Close(s.fd))
}
