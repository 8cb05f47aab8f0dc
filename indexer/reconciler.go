// Package indexer folds the ledger's event stream into the read model.
// Events may be redelivered and may arrive out of authored order; every
// handler is an idempotent upsert and status never moves backwards.
package indexer

import (
	"context"
	"fmt"
	"log"
	"time"

	redis "github.com/redis/go-redis/v9"

	"proofpay/engine"
)

// Event is one ledger-emitted occurrence. (TransactionID, EventIndex) is the
// event identity used for dedup.
type Event struct {
	TransactionID string    `json:"transaction_id"`
	EventIndex    int       `json:"event_index"`
	Type          string    `json:"type"`
	TaskID        string    `json:"task_id"`
	Payer         string    `json:"payer,omitempty"`
	Worker        string    `json:"worker,omitempty"`
	Amount        int64     `json:"amount,omitempty"`
	Denom         string    `json:"denom,omitempty"`
	ProofType     string    `json:"proof_type,omitempty"`
	ProofHash     string    `json:"proof_hash,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	EmittedAt     time.Time `json:"emitted_at"`
}

// Event types emitted by the escrow contract.
const (
	EventTaskCreated      = "task_created"
	EventTaskAccepted     = "task_accepted"
	EventProofSubmitted   = "proof_submitted"
	EventPaymentCompleted = "payment_completed"
	EventPaymentCancelled = "payment_cancelled"
	EventPaymentDisputed  = "payment_disputed"
)

func (e Event) identity() string {
	return fmt.Sprintf("%s:%d", e.TransactionID, e.EventIndex)
}

// Reconciler applies events to the read model. It is the only writer of the
// per-user aggregates. rdb is optional; when present, recently applied
// identities are cached so redeliveries skip the database.
type Reconciler struct {
	store Store
	rdb   *redis.Client
}

func NewReconciler(store Store, rdb *redis.Client) *Reconciler {
	return &Reconciler{store: store, rdb: rdb}
}

// Apply is idempotent: re-applying a recorded (transaction, index) pair is a
// no-op and returns nil. The identity log and the event's effect commit in
// one transaction, so a failed apply leaves no identity behind and the
// relay's redelivery runs the event again.
func (r *Reconciler) Apply(ctx context.Context, ev Event) error {
	if ev.TransactionID == "" || ev.TaskID == "" {
		return fmt.Errorf("event missing transaction_id or task_id")
	}

	key := "ppay:event:" + ev.identity()
	if r.rdb != nil {
		// Redis being down never blocks reconciliation; the database
		// log is the authoritative dedup.
		if n, err := r.rdb.Exists(ctx, key).Result(); err == nil && n > 0 {
			return nil
		}
	}

	_, err := r.store.ProcessEvent(ctx, ev, func(tx Store) error {
		return r.dispatch(ctx, tx, ev)
	})
	if err != nil {
		return fmt.Errorf("apply event %s: %w", ev.identity(), err)
	}

	// Marked only after the transaction committed; a crash before this
	// line just means one extra database round trip on redelivery.
	if r.rdb != nil {
		_ = r.rdb.Set(ctx, key, "1", 24*time.Hour).Err()
	}
	return nil
}

func (r *Reconciler) dispatch(ctx context.Context, st Store, ev Event) error {
	switch ev.Type {
	case EventTaskCreated:
		if _, _, err := st.UpsertTask(ctx, TaskPatch{
			TaskID:    ev.TaskID,
			Status:    engine.StatusPending,
			Payer:     ev.Payer,
			Amount:    ev.Amount,
			Denom:     ev.Denom,
			ProofType: ev.ProofType,
			At:        ev.EmittedAt,
		}); err != nil {
			return err
		}
		return st.BumpStats(ctx, StatsDelta{
			Address:      ev.Payer,
			TasksCreated: 1,
			AmountSpent:  ev.Amount,
		})

	case EventTaskAccepted:
		return r.upsertWithWorkerCatchup(ctx, st, TaskPatch{
			TaskID: ev.TaskID,
			Status: engine.StatusPending,
			Worker: ev.Worker,
			At:     ev.EmittedAt,
		})

	case EventProofSubmitted:
		return r.upsertWithWorkerCatchup(ctx, st, TaskPatch{
			TaskID:    ev.TaskID,
			Status:    engine.StatusProofSubmitted,
			Worker:    ev.Worker,
			ProofHash: ev.ProofHash,
			At:        ev.EmittedAt,
		})

	case EventPaymentCompleted:
		t, _, err := st.UpsertTask(ctx, TaskPatch{
			TaskID: ev.TaskID,
			Status: engine.StatusReleased,
			Worker: ev.Worker,
			Amount: ev.Amount,
			Denom:  ev.Denom,
			At:     ev.EmittedAt,
		})
		if err != nil {
			return err
		}
		if t.Worker == nil {
			// The event that names the worker has not arrived;
			// upsertWithWorkerCatchup settles the earn counters when
			// it does. The two paths are mutually exclusive, so the
			// bump happens exactly once either way.
			log.Printf("[reconciler] completed event for task %s without worker", ev.TaskID)
			return nil
		}
		return st.BumpStats(ctx, StatsDelta{
			Address:        *t.Worker,
			TasksCompleted: 1,
			AmountEarned:   t.Amount,
		})

	case EventPaymentCancelled:
		if _, _, err := st.UpsertTask(ctx, TaskPatch{
			TaskID: ev.TaskID,
			Status: engine.StatusRefunded,
			At:     ev.EmittedAt,
		}); err != nil {
			return err
		}
		return nil

	case EventPaymentDisputed:
		if _, _, err := st.UpsertTask(ctx, TaskPatch{
			TaskID: ev.TaskID,
			Status: engine.StatusDisputed,
			At:     ev.EmittedAt,
		}); err != nil {
			return err
		}
		return nil

	default:
		// Unknown event types are logged and skipped, not failed, so a
		// contract upgrade cannot wedge the stream.
		log.Printf("[reconciler] skipping unknown event type %q (%s)", ev.Type, ev.identity())
		return nil
	}
}

// upsertWithWorkerCatchup applies the patch and, when it is the patch that
// finally names the worker of an already-released task, settles the earn
// counters the completed event had to skip.
func (r *Reconciler) upsertWithWorkerCatchup(ctx context.Context, st Store, p TaskPatch) error {
	t, bound, err := st.UpsertTask(ctx, p)
	if err != nil {
		return err
	}
	if bound && t.Status == engine.StatusReleased && t.Worker != nil {
		return st.BumpStats(ctx, StatsDelta{
			Address:        *t.Worker,
			TasksCompleted: 1,
			AmountEarned:   t.Amount,
		})
	}
	return nil
}

// statusRank orders statuses along the lifecycle so replayed or reordered
// events can never regress a task.
func statusRank(status string) int {
	switch status {
	case engine.StatusPending:
		return 0
	case engine.StatusProofSubmitted:
		return 1
	case engine.StatusPendingRelease:
		return 2
	case engine.StatusDisputed:
		return 3
	case engine.StatusReleased, engine.StatusRefunded:
		return 4
	default:
		return -1
	}
}
