package subscription

import (
	"slices"
	"sync"

	"eventbot/internal/task/scheduler"
)

// JobTable maps a channel id to the handle of its one live job. Membership in
// the table is what "subscribed" means.
type JobTable struct {
	mu   sync.RWMutex
	jobs map[int64]scheduler.JobID
}

func NewJobTable() *JobTable {
	return &JobTable{jobs: map[int64]scheduler.JobID{}}
}

func (t *JobTable) Get(channelID int64) (scheduler.JobID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.jobs[channelID]
	return id, ok
}

func (t *JobTable) Has(channelID int64) bool {
	_, ok := t.Get(channelID)
	return ok
}

func (t *JobTable) Set(channelID int64, id scheduler.JobID) {
	t.mu.Lock()
	t.jobs[channelID] = id
	t.mu.Unlock()
}

// Delete removes the entry and returns the handle it held.
func (t *JobTable) Delete(channelID int64) (scheduler.JobID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.jobs[channelID]
	delete(t.jobs, channelID)
	return id, ok
}

func (t *JobTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.jobs)
}

// Channels returns the subscribed channel ids in ascending order.
func (t *JobTable) Channels() []int64 {
	t.mu.RLock()
	out := make([]int64, 0, len(t.jobs))
	for id := range t.jobs {
		out = append(out, id)
	}
	t.mu.RUnlock()
	slices.Sort(out)
	return out
}
