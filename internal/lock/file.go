package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// FileLocker uses advisory file locks so that several processes on one host
// (server and worker) do not dispatch the same campaign at once. The lock
// lives as long as the holder; ttl is ignored.
type FileLocker struct {
	dir string

	mu   sync.Mutex
	held map[string]bool
}

func NewFileLocker(dir string) (*FileLocker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	return &FileLocker{dir: dir, held: make(map[string]bool)}, nil
}

var _ Locker = (*FileLocker)(nil)

func (l *FileLocker) path(key string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, key)
	return filepath.Join(l.dir, safe+".lock")
}

func (l *FileLocker) TryLock(ctx context.Context, key string, _ time.Duration) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	// flock does not exclude a second descriptor in every OS, so track our own holds too
	l.mu.Lock()
	if l.held[key] {
		l.mu.Unlock()
		return nil, false, nil
	}
	l.held[key] = true
	l.mu.Unlock()

	release := func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}

	fl := flock.New(l.path(key))
	ok, err := fl.TryLock()
	if err != nil {
		release()
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		release()
		return nil, false, nil
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = fl.Unlock()
			release()
		})
	}, true, nil
}
