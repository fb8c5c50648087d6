// Package daemonlock keeps a daemon to one running instance with a PID
// lockfile.
//
// The lockfile is flock'ed for the lifetime of the daemon and holds its PID.
// The flock is the authority: the OS drops it when its holder exits, so a
// held flock always means a live owner, whatever PID the file records. A
// lockfile left behind by a crashed daemon is stale and is taken over by the
// next Acquire, which overwrites the recorded PID.
//
//	locker := daemonlock.New("/run/watcher")
//	lk, err := locker.Acquire("collector")
//	if errors.Is(err, daemonlock.ErrLocked) {
//	    // another instance is running
//	}
//	defer lk.Release()
package daemonlock

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/nicktill/tinywatch/pkg/fsutil"
)

// DefaultPrefix starts every lockfile name.
const DefaultPrefix = "watcher-"

// ErrLocked is returned when another live process holds the lock.
var ErrLocked = errors.New("daemon is already running")

// HeldError reports the process holding a lock. It matches ErrLocked with
// errors.Is.
type HeldError struct {
	Name string
	PID  int
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("%s: another instance (PID %d) is already running", e.Name, e.PID)
}

// Is reports whether target is ErrLocked.
func (e *HeldError) Is(target error) bool {
	return target == ErrLocked
}

// ProcessChecker tells whether a process exists.
type ProcessChecker interface {
	Alive(pid int) bool
}

// ProcessCheckerFunc adapts a function to ProcessChecker.
type ProcessCheckerFunc func(pid int) bool

// Alive calls f.
func (f ProcessCheckerFunc) Alive(pid int) bool {
	return f(pid)
}

// OSProcessChecker asks the operating system.
var OSProcessChecker ProcessChecker = ProcessCheckerFunc(processAlive)

// Locker creates lockfiles named <Dir>/<Prefix><name>.lock.
type Locker struct {
	Dir     string
	Prefix  string
	Checker ProcessChecker

	// PID is written into acquired lockfiles. Defaults to os.Getpid().
	PID int
}

// New returns a Locker for dir with the default prefix and OS liveness
// checks. An empty dir uses os.TempDir().
func New(dir string) *Locker {
	return &Locker{Dir: dir}
}

func (l *Locker) dir() string {
	if l.Dir == "" {
		return os.TempDir()
	}
	return l.Dir
}

func (l *Locker) checker() ProcessChecker {
	if l.Checker == nil {
		return OSProcessChecker
	}
	return l.Checker
}

func (l *Locker) pid() int {
	if l.PID == 0 {
		return os.Getpid()
	}
	return l.PID
}

// Path is the lockfile of name.
func (l *Locker) Path(name string) string {
	prefix := l.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return filepath.Join(l.dir(), prefix+name+".lock")
}

// Lock is a held daemon lock. Keep it for the daemon's lifetime.
type Lock struct {
	name  string
	path  string
	f     *os.File
	stale int
}

// Path is the lockfile.
func (lk *Lock) Path() string {
	return lk.path
}

// Reclaimed returns the PID of the dead owner whose leftover lockfile was
// taken over, if any.
func (lk *Lock) Reclaimed() (int, bool) {
	return lk.stale, lk.stale > 0
}

// Acquire takes the lock for name without blocking. A lock held by another
// process yields a *HeldError when the recorded PID is alive, and ErrLocked
// otherwise (the holder may not have written its PID yet). A lockfile that
// nobody holds is taken over.
func (l *Locker) Acquire(name string) (*Lock, error) {
	path := l.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	lk, err := l.tryAcquire(name, path)
	if err != nil {
		if !errors.Is(err, ErrLocked) {
			return nil, err
		}
		if pid, ok := readPID(path); ok && l.checker().Alive(pid) {
			return nil, &HeldError{Name: name, PID: pid}
		}
		return nil, ErrLocked
	}

	if lk.stale > 0 {
		log.WithFields(log.Fields{"daemon": name, "pid": lk.stale}).
			Warn("Took over stale lock (process no longer exists)")
	}
	return lk, nil
}

// tryAcquire flocks the lockfile. The file is reopened when it was removed
// by a releasing owner between our open and our flock, since a lock on an
// unlinked file excludes nobody.
func (l *Locker) tryAcquire(name, path string) (*Lock, error) {
	for attempt := 0; ; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open lock file: %w", err)
		}

		ok, err := fsutil.TryLock(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to lock %s: %w", path, err)
		}
		if !ok {
			f.Close()
			return nil, ErrLocked
		}

		if !fsutil.SameFile(f, path) {
			fsutil.Unlock(f)
			f.Close()
			if attempt < 3 {
				continue
			}
			return nil, ErrLocked
		}

		lk := &Lock{name: name, path: path, f: f}
		if prev, ok := pidFromFile(f); ok && prev != l.pid() && !l.checker().Alive(prev) {
			lk.stale = prev
		}
		if err := writePID(f, l.pid()); err != nil {
			fsutil.Unlock(f)
			f.Close()
			return nil, err
		}
		return lk, nil
	}
}

// Release unlocks and removes the lockfile. It is safe to call on a nil
// Lock and more than once.
func (lk *Lock) Release() error {
	if lk == nil || lk.f == nil {
		return nil
	}
	var err error
	if rmErr := os.Remove(lk.path); rmErr != nil && !os.IsNotExist(rmErr) {
		err = rmErr
	}
	fsutil.Unlock(lk.f)
	if cerr := lk.f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	lk.f = nil
	return err
}

// IsRunning reports whether the lockfile of name records a live process.
func (l *Locker) IsRunning(name string) bool {
	pid, ok := l.RecordedPID(name)
	return ok && l.checker().Alive(pid)
}

// RecordedPID returns the process recorded in the lockfile of name.
func (l *Locker) RecordedPID(name string) (int, bool) {
	return readPID(l.Path(name))
}

func readPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	return parsePID(data)
}

func pidFromFile(f *os.File) (int, bool) {
	buf := make([]byte, 32)
	n, err := f.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, false
	}
	return parsePID(buf[:n])
}

func parsePID(data []byte) (int, bool) {
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func writePID(f *os.File, pid int) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate lock file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(pid)), 0); err != nil {
		return fmt.Errorf("failed to write pid: %w", err)
	}
	return f.Sync()
}
