// Package scheduler keeps the set of pending daily jobs and computes which of
// them are due. It performs no I/O and runs nothing itself: the dispatch loop
// calls PollDue and launches the returned actions.
package scheduler
