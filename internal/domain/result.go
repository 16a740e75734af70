package domain

// FailureReason classifies why a task was settled invalid without (or
// despite) a verdict from the oracle. A negative verdict has no failure reason.
type FailureReason string

const (
	FailureOrphanTask         FailureReason = "orphan_task"
	FailureInsufficientCredit FailureReason = "insufficient_credit"
	FailureTimeout            FailureReason = "timeout"
	FailureOracleError        FailureReason = "oracle_error"
	FailureProcessingError    FailureReason = "processing_error"
)

// Result is the structured detail stored with a terminal task.
// It is only guaranteed to be fully populated once the task is terminal.
type Result struct {
	Valid   bool          `json:"valid"`
	Reason  string        `json:"reason,omitempty"`
	Failure FailureReason `json:"failure,omitempty"`
	Error   string        `json:"error,omitempty"`
	Timeout bool          `json:"timeout,omitempty"`

	RegexValid bool `json:"regex_valid"`
	MXValid    bool `json:"mx_valid"`
	SMTPValid  bool `json:"smtp_valid"`
	Disposable bool `json:"disposable"`
	Typo       bool `json:"typo"`
	CatchAll   bool `json:"catch_all"`

	ProcessedBy string `json:"processed_by,omitempty"`
}

// Outcome is what a worker writes when settling a task.
type Outcome struct {
	Status TaskStatus
	Result *Result
}

// VerdictOutcome maps an oracle verdict to verified or invalid.
func VerdictOutcome(result Result) Outcome {
	status := TaskStatusInvalid
	if result.Valid {
		status = TaskStatusVerified
	}
	return Outcome{Status: status, Result: &result}
}

// FailedOutcome builds an invalid outcome for a failure that did not produce
// a usable verdict.
func FailedOutcome(reason FailureReason, detail string) Outcome {
	return Outcome{
		Status: TaskStatusInvalid,
		Result: &Result{
			Valid:   false,
			Failure: reason,
			Error:   detail,
			Timeout: reason == FailureTimeout,
		},
	}
}
