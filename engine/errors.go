package engine

import "errors"

// Error taxonomy for the release engine. Handlers map these to HTTP statuses
// with errors.Is so callers can tell a closed window from an infra failure.
var (
	// ErrIllegalTransition: the requested edge does not exist from the
	// task's current status. State is left untouched.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrVerificationFailed: the external verifier rejected the proof.
	// The task stays in proof_submitted; the worker may resubmit.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrTaskAlreadyReleased: the action arrived after an auto or manual
	// release already committed.
	ErrTaskAlreadyReleased = errors.New("task already released")

	// ErrTaskNotPendingRelease: the action is only legal while the task
	// is pending release.
	ErrTaskNotPendingRelease = errors.New("task is no longer pending release")

	// ErrLedgerSubmissionFailed: all retries against the escrow gateway
	// were exhausted.
	ErrLedgerSubmissionFailed = errors.New("ledger submission failed")

	// ErrForbidden: the caller is not a participant allowed to perform
	// the action on this task.
	ErrForbidden = errors.New("caller is not allowed to perform this action")
)
