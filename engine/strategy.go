package engine

import (
	"context"
	"fmt"
)

// Outcome of evaluating a proof submission.
type Outcome string

const (
	OutcomeAccepted            Outcome = "accepted"
	OutcomeRejected            Outcome = "rejected"
	OutcomePendingManualReview Outcome = "pending_manual_review"
)

// Submission is the strategy input: one proof attempt for one task.
type Submission struct {
	TaskID     string
	ProofType  string
	Worker     string
	PayloadRef string
}

// Strategy is the uniform evaluate contract over the closed set of proof
// types. A non-nil error means the verifier could not be reached; it is an
// infra failure, not a verdict.
type Strategy interface {
	Evaluate(ctx context.Context, sub Submission) (Outcome, string, error)
}

// Resolve maps a task's declared proof type to its strategy. The switch is
// exhaustive on purpose: a new proof type must also decide its release
// policy here.
func Resolve(proofType string, v Verifier) (Strategy, error) {
	switch proofType {
	case ProofSoft:
		return softStrategy{}, nil
	case ProofZkTLS:
		return verifierStrategy{v: v}, nil
	case ProofHybrid:
		return verifierStrategy{v: v}, nil
	default:
		return nil, fmt.Errorf("unknown proof type %q", proofType)
	}
}

// softStrategy never decides on its own; only an explicit payer approve or
// reject moves the task.
type softStrategy struct{}

func (softStrategy) Evaluate(ctx context.Context, sub Submission) (Outcome, string, error) {
	return OutcomePendingManualReview, "", nil
}

// verifierStrategy asks the external verifier for a verdict. zktls and hybrid
// share it; they differ only in the transition target the state machine picks
// for an accepted proof (released vs pending_release).
type verifierStrategy struct {
	v Verifier
}

func (s verifierStrategy) Evaluate(ctx context.Context, sub Submission) (Outcome, string, error) {
	if s.v == nil {
		return "", "", fmt.Errorf("no verifier configured for %s proofs", sub.ProofType)
	}
	res, err := s.v.Verify(ctx, sub)
	if err != nil {
		return "", "", fmt.Errorf("verifier call: %w", err)
	}
	if !res.Valid {
		return OutcomeRejected, res.ProofHash, nil
	}
	return OutcomeAccepted, res.ProofHash, nil
}
