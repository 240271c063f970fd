package worker

import (
	"sync"

	"github.com/JakeFAU/forum-harvester/internal/forum"
)

// Status is a point-in-time view of a worker.
type Status struct {
	Partition     string            `json:"partition"`
	Running       bool              `json:"running"`
	RunID         string            `json:"run_id,omitempty"`
	Passes        int               `json:"passes"`
	CurrentThread int64             `json:"current_thread,omitempty"`
	CurrentPage   int               `json:"current_page,omitempty"`
	State         forum.ThreadState `json:"state"`
	LastPass      *PassReport       `json:"last_pass,omitempty"`
}

type statusTracker struct {
	partition string

	mu     sync.RWMutex
	status Status
}

func newStatusTracker(partition string) *statusTracker {
	return &statusTracker{
		partition: partition,
		status:    Status{Partition: partition, State: forum.StateIdle},
	}
}

func (s *statusTracker) passStarted(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Running = true
	s.status.RunID = runID
	s.status.State = forum.StateIdle
}

func (s *statusTracker) passFinished(report PassReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Running = false
	s.status.Passes++
	s.status.CurrentThread = 0
	s.status.CurrentPage = 0
	s.status.State = forum.StateIdle
	s.status.LastPass = &report
}

func (s *statusTracker) threadState(threadID int64, page int, state forum.ThreadState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.CurrentThread = threadID
	s.status.CurrentPage = page
	s.status.State = state
}

func (s *statusTracker) snapshot() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.status
	if out.LastPass != nil {
		last := *out.LastPass
		out.LastPass = &last
	}
	return out
}
