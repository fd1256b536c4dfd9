package scheduler

// Snapshot returns a point-in-time view of every pending job.
func (s *Scheduler) Snapshot() Snapshot {
	now := s.now().In(s.loc)

	s.mu.Lock()
	defer s.mu.Unlock()
	out := Snapshot{Location: s.loc.String(), Now: now, Jobs: make([]JobInfo, 0, len(s.jobs))}
	for _, e := range s.jobs {
		out.Jobs = append(out.Jobs, JobInfo{
			ID:   e.id,
			Name: e.name,
			At:   e.at.String(),
			Next: e.next,
			Prev: e.prev,
		})
	}
	return out
}
