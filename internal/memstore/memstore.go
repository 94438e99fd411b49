// Package memstore implements durex.Store entirely in memory, guarded by a
// single mutex. It exists for fast unit tests of the engine's reservation
// logic (key generation, dispatch, crash policy) without a real database.
package memstore

import (
	"context"

	"github.com/corestep/durex"
)

type row struct {
	rec durex.StepRecord
}

// Store is an in-memory durex.Store. The zero value is not usable; use New.
type Store struct {
	mu   chan struct{} // binary semaphore; simpler than sync.Mutex to keep zero-alloc Lock/Unlock pairs obvious at call sites
	rows map[string]*row
	now  func() int64
}

// New constructs an empty in-memory Store. nowFn overrides the clock used
// for StartedAtMS/UpdatedAtMS (useful in tests that assert ordering); pass
// nil to use a monotonically increasing counter.
func New(nowFn func() int64) *Store {
	if nowFn == nil {
		var counter int64
		nowFn = func() int64 {
			counter++
			return counter
		}
	}
	s := &Store{
		mu:   make(chan struct{}, 1),
		rows: make(map[string]*row),
		now:  nowFn,
	}
	s.mu <- struct{}{}
	return s
}

func (s *Store) lock()   { <-s.mu }
func (s *Store) unlock() { s.mu <- struct{}{} }

func key(workflowID, stepKey string) string { return workflowID + "\x00" + stepKey }

func (s *Store) Initialize(ctx context.Context) error { return nil }

func (s *Store) Reserve(ctx context.Context, workflowID, stepKey, stepID, owner string, leaseMS int64) (durex.Reservation, error) {
	s.lock()
	defer s.unlock()

	k := key(workflowID, stepKey)
	r, ok := s.rows[k]
	now := s.now()

	if !ok {
		rec := durex.StepRecord{
			WorkflowID:  workflowID,
			StepKey:     stepKey,
			StepID:      stepID,
			Status:      durex.StatusRunning,
			Attempt:     1,
			Owner:       owner,
			StartedAtMS: now,
			UpdatedAtMS: now,
		}
		s.rows[k] = &row{rec: rec}
		return durex.Reservation{Kind: durex.Acquired, Record: rec}, nil
	}

	switch r.rec.Status {
	case durex.StatusCompleted:
		return durex.Reservation{Kind: durex.Cached, Record: r.rec}, nil
	case durex.StatusRunning:
		stale := now-r.rec.UpdatedAtMS > leaseMS
		sameOwner := r.rec.Owner == owner
		if !stale && !sameOwner {
			return durex.Reservation{Kind: durex.RunningElsewhere, Record: r.rec}, nil
		}
		r.rec.Owner = owner
		r.rec.Attempt++
		r.rec.OutputJSON = ""
		r.rec.OutputType = ""
		r.rec.ErrorMessage = ""
		r.rec.UpdatedAtMS = now
		return durex.Reservation{Kind: durex.Acquired, Record: r.rec}, nil
	default: // FAILED
		r.rec.Status = durex.StatusRunning
		r.rec.Owner = owner
		r.rec.Attempt++
		r.rec.OutputJSON = ""
		r.rec.OutputType = ""
		r.rec.ErrorMessage = ""
		r.rec.UpdatedAtMS = now
		return durex.Reservation{Kind: durex.Acquired, Record: r.rec}, nil
	}
}

func (s *Store) Complete(ctx context.Context, workflowID, stepKey, owner, outputJSON, outputType string) error {
	s.lock()
	defer s.unlock()

	r, ok := s.rows[key(workflowID, stepKey)]
	if !ok || r.rec.Owner != owner || r.rec.Status == durex.StatusCompleted {
		return durex.ErrOwnershipLost
	}
	r.rec.Status = durex.StatusCompleted
	r.rec.OutputJSON = outputJSON
	r.rec.OutputType = outputType
	r.rec.ErrorMessage = ""
	r.rec.UpdatedAtMS = s.now()
	return nil
}

func (s *Store) Fail(ctx context.Context, workflowID, stepKey, owner, errorMessage string) error {
	s.lock()
	defer s.unlock()

	r, ok := s.rows[key(workflowID, stepKey)]
	if !ok || r.rec.Owner != owner {
		return durex.ErrOwnershipLost
	}
	if r.rec.Status == durex.StatusCompleted {
		return durex.ErrOwnershipLost
	}
	r.rec.Status = durex.StatusFailed
	r.rec.ErrorMessage = errorMessage
	r.rec.UpdatedAtMS = s.now()
	return nil
}

func (s *Store) Close() error { return nil }

// Snapshot returns a copy of every record currently held, for test
// assertions.
func (s *Store) Snapshot() map[string]durex.StepRecord {
	s.lock()
	defer s.unlock()
	out := make(map[string]durex.StepRecord, len(s.rows))
	for k, r := range s.rows {
		out[k] = r.rec
	}
	return out
}

var _ durex.Store = (*Store)(nil)
