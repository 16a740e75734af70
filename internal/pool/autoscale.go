package pool

import "github.com/phrazzld/verifyd/internal/store"

// Sizing bounds the fleet.
type Sizing struct {
	MinWorkers     int `json:"min_workers"`
	MaxWorkers     int `json:"max_workers"`
	TasksPerWorker int `json:"tasks_per_worker"`
}

// DesiredWorkers returns the fleet size for a backlog.
//
// The fleet is sized by ceil(pending/TasksPerWorker), clamped to
// [MinWorkers, MaxWorkers]. Processing tasks are already claimed and give
// nobody new work, so when nothing is pending the base is a single worker;
// that only keeps the fleet from being sized to zero while work is in flight.
// An empty backlog always yields zero, regardless of MinWorkers.
func DesiredWorkers(b store.Backlog, s Sizing) int {
	if b.Pending <= 0 && b.Processing <= 0 {
		return 0
	}

	per := int64(s.TasksPerWorker)
	if per <= 0 {
		per = 1
	}

	desired := 1
	if b.Pending > 0 {
		desired = int((b.Pending + per - 1) / per)
	}

	if desired < s.MinWorkers {
		desired = s.MinWorkers
	}
	if s.MaxWorkers > 0 && desired > s.MaxWorkers {
		desired = s.MaxWorkers
	}
	return desired
}
