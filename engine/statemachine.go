package engine

import (
	"fmt"
	"time"

	"proofpay/models"
)

// Task statuses. released and refunded are terminal; disputed is terminal for
// the engine's automation and leaves only through admin resolution.
const (
	StatusPending        = "pending"
	StatusProofSubmitted = "proof_submitted"
	StatusPendingRelease = "pending_release"
	StatusReleased       = "released"
	StatusRefunded       = "refunded"
	StatusDisputed       = "disputed"
)

// Proof types. Fixed at creation; the governing strategy never changes
// mid-life.
const (
	ProofSoft   = "soft"
	ProofZkTLS  = "zktls"
	ProofHybrid = "hybrid"
)

// MaxSoftRejections bounds the soft-proof retry loop: the rejection that
// brings the count to this value refunds the task instead of returning it to
// pending.
const MaxSoftRejections = 3

// EventType names the transition triggers accepted by Transition.
type EventType string

const (
	EventProofSubmitted   EventType = "proof_submitted"
	EventApproved         EventType = "approved"
	EventRejected         EventType = "rejected"
	EventVerified         EventType = "verified"
	EventReleaseNow       EventType = "release_now"
	EventExpired          EventType = "expired"
	EventDisputed         EventType = "disputed"
	EventCancelled        EventType = "cancelled"
	EventResolvedReleased EventType = "resolved_released"
	EventResolvedRefunded EventType = "resolved_refunded"
)

// Event is a proposed transition plus its payload.
type Event struct {
	Type        EventType
	PayloadRef  string
	ProofHash   string
	Reason      string
	EvidenceRef string
}

// ValidProofType reports whether p names a known proof strategy.
func ValidProofType(p string) bool {
	switch p {
	case ProofSoft, ProofZkTLS, ProofHybrid:
		return true
	}
	return false
}

// IsTerminal reports whether no edge leaves the status.
func IsTerminal(status string) bool {
	return status == StatusReleased || status == StatusRefunded
}

// Transition validates ev against t's current status and, only when the edge
// is legal, applies the new status, stamps UpdatedAt and maintains the
// pending-release expiry. It performs no I/O; callers serialize invocations
// per task.
//
// Illegal edges fail with ErrIllegalTransition, except timing-window actions
// (release_now, expired, disputed) which map to ErrTaskAlreadyReleased or
// ErrTaskNotPendingRelease so callers can report the precise reason.
func Transition(t *models.Task, ev Event, now time.Time) error {
	next := ""
	var expiresAt *time.Time

	switch ev.Type {
	case EventProofSubmitted:
		// A new attempt is legal both from pending and on top of an
		// unverified previous attempt.
		if t.Status != StatusPending && t.Status != StatusProofSubmitted {
			return illegal(t, ev)
		}
		if t.Worker == nil {
			return fmt.Errorf("%w: task %s has no worker bound", ErrIllegalTransition, t.ID)
		}
		next = StatusProofSubmitted

	case EventApproved:
		if t.ProofType != ProofSoft || t.Status != StatusProofSubmitted {
			return illegal(t, ev)
		}
		next = StatusReleased

	case EventRejected:
		if t.ProofType != ProofSoft || t.Status != StatusProofSubmitted {
			return illegal(t, ev)
		}
		t.RejectionCount++
		if t.RejectionCount >= MaxSoftRejections {
			next = StatusRefunded
		} else {
			next = StatusPending
		}

	case EventVerified:
		if t.Status != StatusProofSubmitted {
			return illegal(t, ev)
		}
		switch t.ProofType {
		case ProofZkTLS:
			next = StatusReleased
		case ProofHybrid:
			next = StatusPendingRelease
			at := now.Add(time.Duration(t.ReviewWindowSeconds) * time.Second)
			expiresAt = &at
		case ProofSoft:
			return illegal(t, ev)
		default:
			return fmt.Errorf("%w: unknown proof type %q", ErrIllegalTransition, t.ProofType)
		}

	case EventReleaseNow, EventExpired, EventDisputed:
		if t.Status != StatusPendingRelease {
			if t.Status == StatusReleased {
				return fmt.Errorf("%w: task %s", ErrTaskAlreadyReleased, t.ID)
			}
			return fmt.Errorf("%w: task %s is %s", ErrTaskNotPendingRelease, t.ID, t.Status)
		}
		if ev.Type == EventDisputed {
			next = StatusDisputed
		} else {
			next = StatusReleased
		}

	case EventCancelled:
		if t.Status != StatusPending {
			return illegal(t, ev)
		}
		if t.Worker != nil {
			return fmt.Errorf("%w: task %s already has a worker", ErrIllegalTransition, t.ID)
		}
		next = StatusRefunded

	case EventResolvedReleased, EventResolvedRefunded:
		if t.Status != StatusDisputed {
			return illegal(t, ev)
		}
		if ev.Type == EventResolvedReleased {
			next = StatusReleased
		} else {
			next = StatusRefunded
		}

	default:
		return fmt.Errorf("%w: unknown event %q", ErrIllegalTransition, ev.Type)
	}

	// Validation passed; apply.
	t.Status = next
	t.PendingReleaseExpiresAt = expiresAt
	if ev.Type == EventProofSubmitted {
		if ev.PayloadRef != "" {
			ref := ev.PayloadRef
			t.EvidenceRef = &ref
		}
	}
	if ev.ProofHash != "" {
		h := ev.ProofHash
		t.ProofHash = &h
	}
	if now.After(t.UpdatedAt) {
		t.UpdatedAt = now
	}
	return nil
}

func illegal(t *models.Task, ev Event) error {
	return fmt.Errorf("%w: %s not legal for %s task %s in status %s",
		ErrIllegalTransition, ev.Type, t.ProofType, t.ID, t.Status)
}
