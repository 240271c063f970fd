// Package partition decides which worker owns a thread.
//
// Ownership is derived from the thread identifier alone: a thread belongs to
// the worker whose index equals threadID mod count. Nothing is stored, so
// resizing the pool reshuffles ownership on the next run.
package partition

import (
	"fmt"

	"github.com/JakeFAU/forum-harvester/internal/forum"
)

// Assigner is the immutable (index, count) pair of one worker.
type Assigner struct {
	index int
	count int
}

// New validates the worker coordinates and returns an Assigner.
func New(index, count int) (*Assigner, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: worker count %d must be at least 1", forum.ErrPartitionMisconfiguration, count)
	}
	if index < 0 || index >= count {
		return nil, fmt.Errorf("%w: worker index %d outside [0,%d)", forum.ErrPartitionMisconfiguration, index, count)
	}
	return &Assigner{index: index, count: count}, nil
}

// Owns reports whether threadID belongs to this worker.
func (a *Assigner) Owns(threadID int64) bool {
	return Slot(threadID, a.count) == a.index
}

// Index returns the worker index.
func (a *Assigner) Index() int { return a.index }

// Count returns the pool size.
func (a *Assigner) Count() int { return a.count }

// String renders the assignment for logs.
func (a *Assigner) String() string {
	return fmt.Sprintf("%d/%d", a.index, a.count)
}

// Slot maps threadID onto [0,count). Negative identifiers are folded so every
// thread still has exactly one owner.
func Slot(threadID int64, count int) int {
	if count < 1 {
		return 0
	}
	m := threadID % int64(count)
	if m < 0 {
		m += int64(count)
	}
	return int(m)
}
