//go:build !windows

package fsutil

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// Lock takes an exclusive lock on f, blocking until it is available.
func Lock(f *os.File) error {
	return flock(f, unix.LOCK_EX)
}

// RLock takes a shared lock on f, blocking until it is available.
func RLock(f *os.File) error {
	return flock(f, unix.LOCK_SH)
}

// TryLock attempts an exclusive lock without blocking. It reports false, with
// a nil error, when another holder has the lock.
func TryLock(f *os.File) (bool, error) {
	err := flock(f, unix.LOCK_EX|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return false, nil
	}
	return err == nil, err
}

// Unlock releases any lock held on f.
func Unlock(f *os.File) error {
	return flock(f, unix.LOCK_UN)
}

func flock(f *os.File, how int) error {
	for {
		err := unix.Flock(int(f.Fd()), how)
		if err != unix.EINTR {
			return err
		}
	}
}
