package memory

import "context"

// Locker is a process-local store.Locker. It is one lock for all items:
// a merge touches incidents of several topologically related items.
type Locker struct {
	ch chan struct{}
}

// NewLocker creates an unlocked Locker.
func NewLocker() *Locker {
	return &Locker{ch: make(chan struct{}, 1)}
}

// Lock blocks until the lock is held or ctx is done.
func (l *Locker) Lock(ctx context.Context) (func(), error) {
	select {
	case l.ch <- struct{}{}:
		return func() { <-l.ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
