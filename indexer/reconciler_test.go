package indexer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"proofpay/engine"
	"proofpay/models"
)

// memStore mirrors the reconciler's persistence contract in memory, including
// the patch semantics the MySQL store applies: the identity log entry only
// sticks when the apply callback succeeds. upsertErr injects one transient
// failure.
type memStore struct {
	mu        sync.Mutex
	processed map[string]bool
	tasks     map[string]*models.Task
	stats     map[string]*models.UserStats
	upsertErr error
}

func newMemStore() *memStore {
	return &memStore{
		processed: make(map[string]bool),
		tasks:     make(map[string]*models.Task),
		stats:     make(map[string]*models.UserStats),
	}
}

func (s *memStore) ProcessEvent(ctx context.Context, ev Event, apply func(tx Store) error) (bool, error) {
	id := ev.identity()
	s.mu.Lock()
	seen := s.processed[id]
	s.mu.Unlock()
	if seen {
		return false, nil
	}
	if err := apply(s); err != nil {
		return false, err
	}
	s.mu.Lock()
	s.processed[id] = true
	s.mu.Unlock()
	return true, nil
}

func (s *memStore) UpsertTask(ctx context.Context, p TaskPatch) (*models.Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		err := s.upsertErr
		s.upsertErr = nil
		return nil, false, err
	}
	t, ok := s.tasks[p.TaskID]
	if !ok {
		t = &models.Task{ID: p.TaskID, Status: p.Status, CreatedAt: p.At, UpdatedAt: p.At}
		s.tasks[p.TaskID] = t
	}
	bound := applyPatch(t, p)
	cp := *t
	return &cp, bound, nil
}

func (s *memStore) BumpStats(ctx context.Context, d StatsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[d.Address]
	if !ok {
		st = &models.UserStats{Address: d.Address}
		s.stats[d.Address] = st
	}
	st.TasksCreated += d.TasksCreated
	st.TasksCompleted += d.TasksCompleted
	st.AmountEarned += d.AmountEarned
	st.AmountSpent += d.AmountSpent
	return nil
}

func createdEvent(tx string, idx int) Event {
	return Event{
		TransactionID: tx,
		EventIndex:    idx,
		Type:          EventTaskCreated,
		TaskID:        "task-77",
		Payer:         "payer1addr",
		Amount:        9000,
		Denom:         "uusdc",
		ProofType:     engine.ProofHybrid,
		EmittedAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	store := newMemStore()
	r := NewReconciler(store, nil)
	ctx := context.Background()

	ev := createdEvent("0xabc", 0)
	if err := r.Apply(ctx, ev); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := r.Apply(ctx, ev); err != nil {
		t.Fatalf("re-apply: %v", err)
	}

	st := store.stats["payer1addr"]
	if st == nil || st.TasksCreated != 1 {
		t.Fatalf("stats double-counted: %+v", st)
	}
	if st.AmountSpent != 9000 {
		t.Fatalf("amount spent = %d, want 9000", st.AmountSpent)
	}
}

func TestApplyDistinctIndexesInSameTransaction(t *testing.T) {
	store := newMemStore()
	r := NewReconciler(store, nil)
	ctx := context.Background()

	if err := r.Apply(ctx, createdEvent("0xabc", 0)); err != nil {
		t.Fatalf("apply idx 0: %v", err)
	}
	ev := Event{
		TransactionID: "0xabc", EventIndex: 1, Type: EventTaskAccepted,
		TaskID: "task-77", Worker: "worker1addr", EmittedAt: time.Now(),
	}
	if err := r.Apply(ctx, ev); err != nil {
		t.Fatalf("apply idx 1: %v", err)
	}
	task := store.tasks["task-77"]
	if task.Worker == nil || *task.Worker != "worker1addr" {
		t.Fatalf("accepted event not applied")
	}
}

// Completed arrives before created: a placeholder holds the terminal status
// and the created event backfills the gaps without regressing it.
func TestOutOfOrderCompletedThenCreated(t *testing.T) {
	store := newMemStore()
	r := NewReconciler(store, nil)
	ctx := context.Background()

	completed := Event{
		TransactionID: "0xbbb", EventIndex: 0, Type: EventPaymentCompleted,
		TaskID: "task-77", Worker: "worker1addr", Amount: 9000, Denom: "uusdc",
		EmittedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := r.Apply(ctx, completed); err != nil {
		t.Fatalf("apply completed: %v", err)
	}
	task := store.tasks["task-77"]
	if task == nil || task.Status != engine.StatusReleased {
		t.Fatalf("placeholder not created as released: %+v", task)
	}

	if err := r.Apply(ctx, createdEvent("0xaaa", 0)); err != nil {
		t.Fatalf("apply created: %v", err)
	}
	task = store.tasks["task-77"]
	if task.Status != engine.StatusReleased {
		t.Fatalf("late created event regressed status to %s", task.Status)
	}
	if task.Payer != "payer1addr" {
		t.Fatalf("created event did not backfill payer")
	}
	if task.ProofType != engine.ProofHybrid {
		t.Fatalf("created event did not backfill proof type")
	}

	if st := store.stats["worker1addr"]; st == nil || st.TasksCompleted != 1 || st.AmountEarned != 9000 {
		t.Fatalf("worker stats wrong: %+v", st)
	}
	if st := store.stats["payer1addr"]; st == nil || st.TasksCreated != 1 {
		t.Fatalf("payer stats wrong: %+v", st)
	}
}

func TestStatusNeverRegresses(t *testing.T) {
	store := newMemStore()
	r := NewReconciler(store, nil)
	ctx := context.Background()

	disputed := Event{
		TransactionID: "0xccc", EventIndex: 0, Type: EventPaymentDisputed,
		TaskID: "task-88", EmittedAt: time.Now(),
	}
	if err := r.Apply(ctx, disputed); err != nil {
		t.Fatalf("apply disputed: %v", err)
	}
	proof := Event{
		TransactionID: "0xccc", EventIndex: 1, Type: EventProofSubmitted,
		TaskID: "task-88", Worker: "worker1addr", EmittedAt: time.Now(),
	}
	if err := r.Apply(ctx, proof); err != nil {
		t.Fatalf("apply proof: %v", err)
	}
	if got := store.tasks["task-88"].Status; got != engine.StatusDisputed {
		t.Fatalf("status regressed to %s", got)
	}
}

func TestUnknownEventTypeIsSkipped(t *testing.T) {
	store := newMemStore()
	r := NewReconciler(store, nil)

	ev := Event{TransactionID: "0xddd", EventIndex: 0, Type: "validator_rotated", TaskID: "task-99"}
	if err := r.Apply(context.Background(), ev); err != nil {
		t.Fatalf("unknown event type must not fail the stream: %v", err)
	}
	if len(store.tasks) != 0 {
		t.Fatalf("unknown event mutated the read model")
	}
}

// A transient store failure must surface to the relay and leave no trace in
// the identity log, so the redelivered event still takes effect.
func TestRedeliveryAfterFailedApply(t *testing.T) {
	store := newMemStore()
	store.upsertErr = errors.New("connection reset")
	r := NewReconciler(store, nil)
	ctx := context.Background()

	ev := createdEvent("0xeee", 0)
	if err := r.Apply(ctx, ev); err == nil {
		t.Fatalf("apply over a failing store reported success")
	}
	if len(store.tasks) != 0 {
		t.Fatalf("failed apply left a partial task: %+v", store.tasks)
	}
	if store.processed[ev.identity()] {
		t.Fatalf("failed apply recorded the event as processed")
	}

	if err := r.Apply(ctx, ev); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if store.tasks["task-77"] == nil {
		t.Fatalf("redelivered event not applied")
	}
	if st := store.stats["payer1addr"]; st == nil || st.TasksCreated != 1 {
		t.Fatalf("payer stats after redelivery: %+v", st)
	}
}

// A completed event naming no worker parks the counters; the event that later
// binds the worker settles them, exactly once.
func TestWorkerBoundAfterCompletionBackfillsStats(t *testing.T) {
	store := newMemStore()
	r := NewReconciler(store, nil)
	ctx := context.Background()

	completed := Event{
		TransactionID: "0xf01", EventIndex: 0, Type: EventPaymentCompleted,
		TaskID: "task-55", Amount: 4000, Denom: "uusdc",
		EmittedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	if err := r.Apply(ctx, completed); err != nil {
		t.Fatalf("apply completed: %v", err)
	}
	if st := store.stats["worker1addr"]; st != nil {
		t.Fatalf("stats bumped before the worker was known: %+v", st)
	}

	accepted := Event{
		TransactionID: "0xf02", EventIndex: 0, Type: EventTaskAccepted,
		TaskID: "task-55", Worker: "worker1addr", EmittedAt: time.Now(),
	}
	if err := r.Apply(ctx, accepted); err != nil {
		t.Fatalf("apply accepted: %v", err)
	}
	st := store.stats["worker1addr"]
	if st == nil || st.TasksCompleted != 1 || st.AmountEarned != 4000 {
		t.Fatalf("worker counters not settled: %+v", st)
	}

	// A later event carrying the same worker binds nothing and bumps nothing.
	proof := Event{
		TransactionID: "0xf03", EventIndex: 0, Type: EventProofSubmitted,
		TaskID: "task-55", Worker: "worker1addr", EmittedAt: time.Now(),
	}
	if err := r.Apply(ctx, proof); err != nil {
		t.Fatalf("apply proof: %v", err)
	}
	if st := store.stats["worker1addr"]; st.TasksCompleted != 1 {
		t.Fatalf("counters settled twice: %+v", st)
	}
}

func TestApplyRejectsEventsWithoutIdentity(t *testing.T) {
	r := NewReconciler(newMemStore(), nil)
	if err := r.Apply(context.Background(), Event{Type: EventTaskCreated, TaskID: "task-1"}); err == nil {
		t.Fatalf("event without transaction id accepted")
	}
	if err := r.Apply(context.Background(), Event{Type: EventTaskCreated, TransactionID: "0x1"}); err == nil {
		t.Fatalf("event without task id accepted")
	}
}
