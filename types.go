package durex

// StepStatus is the lifecycle state of a StepRecord.
type StepStatus string

const (
	StatusRunning   StepStatus = "RUNNING"
	StatusCompleted StepStatus = "COMPLETED"
	StatusFailed    StepStatus = "FAILED"
)

// StepRecord is one row of the steps table, keyed by (WorkflowID, StepKey).
//
// Invariants (enforced by every Store implementation, not by this struct):
//  1. (WorkflowID, StepKey) is the primary key.
//  2. StatusCompleted is terminal: OutputJSON/OutputType never change once set.
//  3. StatusRunning implies Owner is non-empty.
//  4. Every mutation besides the initial insert must match the current Owner.
//  5. Attempt is non-decreasing.
//  6. UpdatedAtMS >= StartedAtMS.
type StepRecord struct {
	WorkflowID   string     `json:"workflow_id"`
	StepKey      string     `json:"step_key"`
	StepID       string     `json:"step_id"`
	Status       StepStatus `json:"status"`
	OutputJSON   string     `json:"output_json,omitempty"`
	OutputType   string     `json:"output_type,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Attempt      int64      `json:"attempt"`
	Owner        string     `json:"owner,omitempty"`
	StartedAtMS  int64      `json:"started_at_ms"`
	UpdatedAtMS  int64      `json:"updated_at_ms"`
}

// ReservationKind is the three-valued outcome of Store.Reserve.
type ReservationKind string

const (
	Acquired         ReservationKind = "ACQUIRED"
	Cached           ReservationKind = "CACHED"
	RunningElsewhere ReservationKind = "RUNNING_ELSEWHERE"
)

// Reservation is the result of attempting to claim a step.
type Reservation struct {
	Kind   ReservationKind
	Record StepRecord
}
