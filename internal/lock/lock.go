// Package lock provides per-contract exclusive file locks shared by all accord processes.
package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"syscall"
)

// Lock is an exclusive lock held on a file under the locks directory.
type Lock struct {
	file *os.File
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Path returns the lock file used for name. Names that need sanitizing get a hash suffix so
// that distinct names never share a file.
func Path(dir, name string) string {
	safe := unsafeChars.ReplaceAllString(name, "_")
	if safe != name {
		sum := sha256.Sum256([]byte(name))
		safe += "-" + hex.EncodeToString(sum[:8])
	}
	return filepath.Join(dir, safe+".lock")
}

// Acquire blocks until it holds the lock for name.
func Acquire(dir, name string) (*Lock, error) {
	file, err := open(dir, name)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("lock %s: %w", name, err)
	}
	return &Lock{file: file}, nil
}

// TryAcquire takes the lock for name if nobody holds it. It reports false when the lock is busy.
func TryAcquire(dir, name string) (*Lock, bool, error) {
	file, err := open(dir, name)
	if err != nil {
		return nil, false, err
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = file.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("lock %s: %w", name, err)
	}
	return &Lock{file: file}, true, nil
}

func open(dir, name string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create locks dir: %w", err)
	}
	file, err := os.OpenFile(Path(dir, name), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return file, nil
}

// Release releases the lock. It is safe on a nil lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	defer func() { l.file = nil }()
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = l.file.Close()
		return err
	}
	return l.file.Close()
}
