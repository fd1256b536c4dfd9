package subscription

import "sync"

// channelLocks hands out one mutex per channel id. Entries are dropped once
// nobody holds or waits on them.
type channelLocks struct {
	mu    sync.Mutex
	locks map[int64]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newChannelLocks() *channelLocks {
	return &channelLocks{locks: map[int64]*refMutex{}}
}

// Lock blocks until the channel's mutex is held and returns its release func.
func (l *channelLocks) Lock(channelID int64) (unlock func()) {
	l.mu.Lock()
	m := l.locks[channelID]
	if m == nil {
		m = &refMutex{}
		l.locks[channelID] = m
	}
	m.refs++
	l.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		l.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(l.locks, channelID)
		}
		l.mu.Unlock()
	}
}

func (l *channelLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
