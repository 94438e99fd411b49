package durex

import "context"

// Store abstracts the relational persistence of step records. Every method
// must be safe for concurrent callers against the same or different
// processes; see the individual adapters (store/sqlite, store/postgres) for
// the transactional contract each one provides.
type Store interface {
	// Initialize idempotently creates the steps table and its indexes.
	Initialize(ctx context.Context) error

	// Reserve atomically claims or observes the row for (workflowID, stepKey):
	//
	//   - absent:                insert RUNNING, attempt=1, owned by owner -> Acquired
	//   - COMPLETED:              returned unchanged                        -> Cached
	//   - RUNNING, lease stale
	//     or RUNNING, same owner: rewritten to RUNNING, new owner,
	//                             attempt+1, outputs cleared                -> Acquired
	//   - RUNNING, fresh lease,
	//     different owner:       returned unchanged                        -> RunningElsewhere
	//   - FAILED:                rewritten to RUNNING as above              -> Acquired
	//
	// The read-then-write must be one serializable unit per row.
	Reserve(ctx context.Context, workflowID, stepKey, stepID, owner string, leaseMS int64) (Reservation, error)

	// Complete conditionally transitions a row to COMPLETED, installing the
	// output fields and clearing any prior error message, but only if owner
	// still matches the row's current owner. Returns ErrOwnershipLost if no
	// row matched.
	Complete(ctx context.Context, workflowID, stepKey, owner, outputJSON, outputType string) error

	// Fail conditionally transitions a row to FAILED under the same
	// ownership predicate as Complete. Returns ErrOwnershipLost if no row
	// matched.
	Fail(ctx context.Context, workflowID, stepKey, owner, errorMessage string) error

	// Close releases any resources held by the store (connection pool,
	// file handle). Safe to call once after the engine is done with it.
	Close() error
}
