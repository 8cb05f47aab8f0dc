package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"proofpay/models"
	"proofpay/utils"
)

// Ledger is the command half of the escrow contract gateway. Every call
// carries a caller-generated reference id so retries stay idempotent on the
// ledger side.
type Ledger interface {
	Escrow(ctx context.Context, t *models.Task, ref string) error
	RecordProof(ctx context.Context, taskID, proofHash, ref string) error
	Release(ctx context.Context, taskID, ref string) error
	Refund(ctx context.Context, taskID, ref string) error
	Dispute(ctx context.Context, taskID, reason, ref string) error
}

// Countdowns is the subset of the scheduler the service drives.
type Countdowns interface {
	Arm(taskID string, expiresAt time.Time)
	Cancel(taskID string)
}

// Outbox command names recorded on the task row.
const (
	ledgerCmdRelease = "release"
	ledgerCmdRefund  = "refund"
	ledgerCmdDispute = "dispute"
)

// stampLedgerCommand records the command the ledger still owes us for this
// task. Runs inside the same locked transaction as the status change, so a
// committed terminal status always carries its unsubmitted command. The ref is
// minted once and reused by every retry.
func stampLedgerCommand(t *models.Task, command string) {
	c := command
	ref := utils.NewCommandRef()
	t.PendingLedgerCommand = &c
	t.LedgerCommandRef = &ref
}

// Service implements the command surface over the state machine. All status
// mutation goes through store.UpdateTask, whose row lock serializes
// transitions per task.
type Service struct {
	Store    Store
	Ledger   Ledger
	Verifier Verifier
	Sched    Countdowns
	Now      func() time.Time
}

func NewService(store Store, ledger Ledger, verifier Verifier) *Service {
	return &Service{
		Store:    store,
		Ledger:   ledger,
		Verifier: verifier,
		Now:      time.Now,
	}
}

// SetScheduler breaks the construction cycle: the scheduler needs the service
// as its releaser and the service needs the scheduler for arm/cancel.
func (s *Service) SetScheduler(c Countdowns) { s.Sched = c }

type CreateTaskInput struct {
	Payer               string
	Amount              int64
	Denom               string
	ProofType           string
	Description         string
	ReviewWindowSeconds int64
}

func (s *Service) CreateTask(ctx context.Context, in CreateTaskInput) (*models.Task, error) {
	if in.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	if !ValidProofType(in.ProofType) {
		return nil, fmt.Errorf("unknown proof type %q", in.ProofType)
	}
	if in.ProofType == ProofHybrid && in.ReviewWindowSeconds <= 0 {
		return nil, fmt.Errorf("hybrid tasks require review_window_seconds")
	}
	if in.ProofType != ProofHybrid && in.ReviewWindowSeconds != 0 {
		return nil, fmt.Errorf("review_window_seconds only applies to hybrid tasks")
	}

	now := s.Now()
	t := &models.Task{
		ID:                  utils.NewTaskID(),
		Payer:               in.Payer,
		Amount:              in.Amount,
		Denom:               in.Denom,
		ProofType:           in.ProofType,
		Status:              StatusPending,
		Description:         in.Description,
		ReviewWindowSeconds: in.ReviewWindowSeconds,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	// Funds are escrowed before the read model knows the task; the ledger
	// stays the single writer of truth.
	if err := s.Ledger.Escrow(ctx, t, utils.NewCommandRef()); err != nil {
		return nil, fmt.Errorf("%w: escrow: %v", ErrLedgerSubmissionFailed, err)
	}
	if err := s.Store.CreateTask(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) AcceptTask(ctx context.Context, taskID, worker string) (*models.Task, error) {
	return s.Store.UpdateTask(ctx, taskID, func(t *models.Task) error {
		if t.Status != StatusPending {
			return fmt.Errorf("%w: task %s is %s, cannot be accepted", ErrIllegalTransition, t.ID, t.Status)
		}
		if t.Worker != nil {
			return fmt.Errorf("%w: task %s already has a worker", ErrIllegalTransition, t.ID)
		}
		if worker == t.Payer {
			return fmt.Errorf("%w: payer cannot accept own task", ErrForbidden)
		}
		w := worker
		t.Worker = &w
		now := s.Now()
		if now.After(t.UpdatedAt) {
			t.UpdatedAt = now
		}
		return nil
	})
}

// SubmitProof routes the attempt through the strategy for the task's declared
// proof type. The returned outcome tells the worker whether the proof was
// accepted, definitively rejected (resubmit), or parked for manual review.
func (s *Service) SubmitProof(ctx context.Context, taskID, worker, payloadRef string) (*models.Task, Outcome, error) {
	now := s.Now()

	// Record the attempt first; evaluation happens on a task already in
	// proof_submitted so a failed verification leaves it retryable.
	t, err := s.Store.UpdateTask(ctx, taskID, func(t *models.Task) error {
		if t.Worker == nil || *t.Worker != worker {
			return fmt.Errorf("%w: only the bound worker may submit proof", ErrForbidden)
		}
		return Transition(t, Event{Type: EventProofSubmitted, PayloadRef: payloadRef}, now)
	})
	if err != nil {
		return nil, "", err
	}

	sub := Submission{TaskID: t.ID, ProofType: t.ProofType, Worker: worker, PayloadRef: payloadRef}
	if err := s.Store.CreateSubmission(ctx, &models.ProofSubmission{
		TaskID:      t.ID,
		Worker:      worker,
		ProofType:   t.ProofType,
		PayloadRef:  payloadRef,
		SubmittedAt: now,
	}); err != nil {
		return nil, "", err
	}

	strategy, err := Resolve(t.ProofType, s.Verifier)
	if err != nil {
		return nil, "", err
	}
	outcome, proofHash, err := strategy.Evaluate(ctx, sub)
	if err != nil {
		// Infra failure talking to the verifier; the task stays
		// proof_submitted and the worker retries later.
		return t, "", err
	}

	switch outcome {
	case OutcomePendingManualReview:
		return t, outcome, nil

	case OutcomeRejected:
		if err := s.Store.SetLatestSubmissionResult(ctx, t.ID, "rejected"); err != nil {
			log.Printf("[engine] mark submission rejected for task %s: %v", t.ID, err)
		}
		return t, outcome, fmt.Errorf("%w: task %s", ErrVerificationFailed, t.ID)

	case OutcomeAccepted:
		t, err = s.Store.UpdateTask(ctx, taskID, func(t *models.Task) error {
			if err := Transition(t, Event{Type: EventVerified, ProofHash: proofHash}, s.Now()); err != nil {
				return err
			}
			if t.Status == StatusReleased {
				// zktls: verification success implies immediate release.
				stampLedgerCommand(t, ledgerCmdRelease)
			}
			return nil
		})
		if err != nil {
			return nil, "", err
		}
		if err := s.Store.SetLatestSubmissionResult(ctx, t.ID, "accepted"); err != nil {
			log.Printf("[engine] mark submission accepted for task %s: %v", t.ID, err)
		}
		if err := s.Ledger.RecordProof(ctx, t.ID, proofHash, utils.NewCommandRef()); err != nil {
			log.Printf("[engine] record proof for task %s: %v", t.ID, err)
		}
		switch t.Status {
		case StatusReleased:
			if err := s.submitLedger(ctx, t); err != nil {
				return t, outcome, err
			}
		case StatusPendingRelease:
			if s.Sched != nil && t.PendingReleaseExpiresAt != nil {
				s.Sched.Arm(t.ID, *t.PendingReleaseExpiresAt)
			}
		}
		return t, outcome, nil
	}
	return t, outcome, nil
}

// ApprovePayment is the payer's manual accept for soft tasks.
func (s *Service) ApprovePayment(ctx context.Context, taskID, payer string) (*models.Task, error) {
	t, err := s.Store.UpdateTask(ctx, taskID, func(t *models.Task) error {
		if t.Payer != payer {
			return fmt.Errorf("%w: only the payer may approve", ErrForbidden)
		}
		if err := Transition(t, Event{Type: EventApproved}, s.Now()); err != nil {
			return err
		}
		stampLedgerCommand(t, ledgerCmdRelease)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.Store.SetLatestSubmissionResult(ctx, t.ID, "approved"); err != nil {
		log.Printf("[engine] mark submission approved for task %s: %v", t.ID, err)
	}
	if err := s.submitLedger(ctx, t); err != nil {
		return t, err
	}
	return t, nil
}

// RejectPayment returns a soft task to awaiting-proof, or refunds it once the
// rejection cap is reached.
func (s *Service) RejectPayment(ctx context.Context, taskID, payer, reason string) (*models.Task, error) {
	t, err := s.Store.UpdateTask(ctx, taskID, func(t *models.Task) error {
		if t.Payer != payer {
			return fmt.Errorf("%w: only the payer may reject", ErrForbidden)
		}
		if err := Transition(t, Event{Type: EventRejected, Reason: reason}, s.Now()); err != nil {
			return err
		}
		if t.Status == StatusRefunded {
			stampLedgerCommand(t, ledgerCmdRefund)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.Store.SetLatestSubmissionResult(ctx, t.ID, "rejected"); err != nil {
		log.Printf("[engine] mark submission rejected for task %s: %v", t.ID, err)
	}
	if err := s.submitLedger(ctx, t); err != nil {
		return t, err
	}
	return t, nil
}

// ReleaseNow lets the payer end the review window early. It races the
// scheduler; the transition under lock decides the single winner.
func (s *Service) ReleaseNow(ctx context.Context, taskID, payer string) (*models.Task, error) {
	t, err := s.Store.UpdateTask(ctx, taskID, func(t *models.Task) error {
		if t.Payer != payer {
			return fmt.Errorf("%w: only the payer may release", ErrForbidden)
		}
		if err := Transition(t, Event{Type: EventReleaseNow}, s.Now()); err != nil {
			return err
		}
		stampLedgerCommand(t, ledgerCmdRelease)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.Sched != nil {
		s.Sched.Cancel(t.ID)
	}
	if err := s.submitLedger(ctx, t); err != nil {
		return t, err
	}
	return t, nil
}

// AutoRelease is the scheduler's expiry callback. The transition is the
// re-check-before-act: a task that already left pending_release fails it with
// a window error and nothing is submitted to the ledger.
func (s *Service) AutoRelease(ctx context.Context, taskID string) error {
	t, err := s.Store.UpdateTask(ctx, taskID, func(t *models.Task) error {
		if err := Transition(t, Event{Type: EventExpired}, s.Now()); err != nil {
			return err
		}
		stampLedgerCommand(t, ledgerCmdRelease)
		return nil
	})
	if err != nil {
		return err
	}
	return s.submitLedger(ctx, t)
}

// OpenDispute freezes the countdown and parks the task for resolution.
func (s *Service) OpenDispute(ctx context.Context, taskID, payer, reason, evidenceRef string) (*models.Task, error) {
	t, err := s.Store.UpdateTask(ctx, taskID, func(t *models.Task) error {
		if t.Payer != payer {
			return fmt.Errorf("%w: only the payer may dispute", ErrForbidden)
		}
		if err := Transition(t, Event{Type: EventDisputed, Reason: reason, EvidenceRef: evidenceRef}, s.Now()); err != nil {
			return err
		}
		stampLedgerCommand(t, ledgerCmdDispute)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.Sched != nil {
		s.Sched.Cancel(t.ID)
	}
	d := &models.Dispute{TaskID: t.ID, RaisedBy: payer, Reason: reason, CreatedAt: s.Now()}
	if evidenceRef != "" {
		ref := evidenceRef
		d.EvidenceRef = &ref
	}
	if err := s.Store.CreateDispute(ctx, d); err != nil {
		return t, err
	}
	if err := s.submitLedger(ctx, t); err != nil {
		return t, err
	}
	return t, nil
}

// CancelTask refunds an unaccepted pending task back to the payer.
func (s *Service) CancelTask(ctx context.Context, taskID, payer string) (*models.Task, error) {
	t, err := s.Store.UpdateTask(ctx, taskID, func(t *models.Task) error {
		if t.Payer != payer {
			return fmt.Errorf("%w: only the payer may cancel", ErrForbidden)
		}
		if err := Transition(t, Event{Type: EventCancelled}, s.Now()); err != nil {
			return err
		}
		stampLedgerCommand(t, ledgerCmdRefund)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.submitLedger(ctx, t); err != nil {
		return t, err
	}
	return t, nil
}

// ResolveDispute records the resolution decided outside the engine.
// outcome is "released" or "refunded".
func (s *Service) ResolveDispute(ctx context.Context, taskID, outcome string) (*models.Task, error) {
	var ev EventType
	switch outcome {
	case StatusReleased:
		ev = EventResolvedReleased
	case StatusRefunded:
		ev = EventResolvedRefunded
	default:
		return nil, fmt.Errorf("outcome must be released or refunded")
	}
	t, err := s.Store.UpdateTask(ctx, taskID, func(t *models.Task) error {
		if err := Transition(t, Event{Type: ev}, s.Now()); err != nil {
			return err
		}
		if outcome == StatusReleased {
			stampLedgerCommand(t, ledgerCmdRelease)
		} else {
			stampLedgerCommand(t, ledgerCmdRefund)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.Store.ResolveDispute(ctx, t.ID, outcome, s.Now()); err != nil {
		log.Printf("[engine] mark dispute resolved for task %s: %v", t.ID, err)
	}
	if err := s.submitLedger(ctx, t); err != nil {
		return t, err
	}
	return t, nil
}

// submitLedger submits the task's recorded outbox command and clears it when
// the gateway accepts. A failure leaves the command recorded; the sweep picks
// it up through PendingLedgerSubmissions, and the stable ref keeps the
// eventual duplicate submissions harmless.
func (s *Service) submitLedger(ctx context.Context, t *models.Task) error {
	if t.PendingLedgerCommand == nil || t.LedgerCommandRef == nil {
		return nil
	}
	cmd, ref := *t.PendingLedgerCommand, *t.LedgerCommandRef

	var err error
	switch cmd {
	case ledgerCmdRelease:
		err = s.Ledger.Release(ctx, t.ID, ref)
	case ledgerCmdRefund:
		err = s.Ledger.Refund(ctx, t.ID, ref)
	case ledgerCmdDispute:
		reason := ""
		if d, derr := s.Store.GetDispute(ctx, t.ID); derr == nil && d != nil {
			reason = d.Reason
		}
		err = s.Ledger.Dispute(ctx, t.ID, reason, ref)
	default:
		return fmt.Errorf("unknown pending ledger command %q for task %s", cmd, t.ID)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLedgerSubmissionFailed, cmd, err)
	}

	cleared, err := s.Store.UpdateTask(ctx, t.ID, func(u *models.Task) error {
		u.PendingLedgerCommand = nil
		u.LedgerCommandRef = nil
		return nil
	})
	if err != nil {
		// The gateway has the command; a re-submission dedups on the ref.
		log.Printf("[engine] clear ledger outbox for task %s: %v", t.ID, err)
		return nil
	}
	*t = *cleared
	return nil
}

// RetryLedger re-submits a task's recorded outbox command. Driven by the
// sweep for tasks whose original submission exhausted its attempts.
func (s *Service) RetryLedger(ctx context.Context, taskID string) error {
	t, err := s.Store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	return s.submitLedger(ctx, t)
}
