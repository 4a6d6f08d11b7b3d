package loop

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

func setNonblock(f *os.File) error {
	return unix.SetNonblock(int(f.Fd()), true)
}

func isWouldBlock(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}
