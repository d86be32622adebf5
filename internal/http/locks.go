package http

import "sync"

// pathLocks enforces a single writer per notebook across requests.
type pathLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newPathLocks() *pathLocks {
	return &pathLocks{held: make(map[string]struct{})}
}

// tryLock claims path without blocking.
func (l *pathLocks) tryLock(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[path]; busy {
		return false
	}
	l.held[path] = struct{}{}
	return true
}

func (l *pathLocks) unlock(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, path)
}
