package vault

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
)

// dirLock is an advisory lock on a file inside the data directory. The
// holder writes its pid into the file so a contended Open can name it.
type dirLock struct {
	f *os.File
}

// lockPath locks path exclusively. With wait set it blocks until the lock
// is free; otherwise a held lock fails at once with ErrLocked.
func lockPath(path string, wait bool) (*dirLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("vault: open %s: %w", path, err)
	}
	if err := lockFile(f, wait); err != nil {
		holder := readHolder(f)
		_ = f.Close()
		if holder > 0 {
			return nil, fmt.Errorf("%w (pid %d): %w", ErrLocked, holder, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrLocked, err)
	}
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	return &dirLock{f: f}, nil
}

func readHolder(f *os.File) int {
	buf := make([]byte, 32)
	n, _ := f.ReadAt(buf, 0)
	pid, err := strconv.Atoi(string(bytes.TrimSpace(buf[:n])))
	if err != nil {
		return 0
	}
	return pid
}

// release drops the lock. The file stays so its mode survives restarts.
func (l *dirLock) release() {
	if l == nil || l.f == nil {
		return
	}
	_ = l.f.Truncate(0)
	unlockFile(l.f)
	_ = l.f.Close()
	l.f = nil
}
