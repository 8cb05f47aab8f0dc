package controllers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"proofpay/indexer"
	"proofpay/models"
)

// fakeEventStore records reconciled events; failing simulates a database
// outage mid-batch.
type fakeEventStore struct {
	processed map[string]bool
	tasks     map[string]*models.Task
	patches   []indexer.TaskPatch
	failing   bool
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{
		processed: make(map[string]bool),
		tasks:     make(map[string]*models.Task),
	}
}

func (s *fakeEventStore) ProcessEvent(ctx context.Context, ev indexer.Event, apply func(tx indexer.Store) error) (bool, error) {
	if s.failing {
		return false, fmt.Errorf("database gone")
	}
	id := fmt.Sprintf("%s:%d", ev.TransactionID, ev.EventIndex)
	if s.processed[id] {
		return false, nil
	}
	if err := apply(s); err != nil {
		return false, err
	}
	s.processed[id] = true
	return true, nil
}

func (s *fakeEventStore) UpsertTask(ctx context.Context, p indexer.TaskPatch) (*models.Task, bool, error) {
	s.patches = append(s.patches, p)
	t, ok := s.tasks[p.TaskID]
	if !ok {
		t = &models.Task{ID: p.TaskID, Status: p.Status}
		s.tasks[p.TaskID] = t
	}
	if p.Payer != "" {
		t.Payer = p.Payer
	}
	bound := false
	if p.Worker != "" && t.Worker == nil {
		w := p.Worker
		t.Worker = &w
		bound = true
	}
	if p.Amount > 0 {
		t.Amount = p.Amount
	}
	cp := *t
	return &cp, bound, nil
}

func (s *fakeEventStore) BumpStats(ctx context.Context, d indexer.StatsDelta) error {
	return nil
}

func postEvents(t *testing.T, wc *WebhookController, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/callback/ledger-events", strings.NewReader(body))
	if key != "" {
		r.Header.Set("X-LEDGER-KEY", key)
	}
	wc.LedgerEvents(rec, r)
	return rec
}

func TestLedgerEventsRequiresKey(t *testing.T) {
	t.Setenv("LEDGER_WEBHOOK_KEY", "hook-secret")
	wc := NewWebhookController(indexer.NewReconciler(newFakeEventStore(), nil))

	if rec := postEvents(t, wc, "", `[]`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing key: %d", rec.Code)
	}
	if rec := postEvents(t, wc, "wrong", `[]`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key: %d", rec.Code)
	}
}

func TestLedgerEventsAppliesBatch(t *testing.T) {
	t.Setenv("LEDGER_WEBHOOK_KEY", "hook-secret")
	store := newFakeEventStore()
	wc := NewWebhookController(indexer.NewReconciler(store, nil))

	body := `[
		{"transaction_id":"0x1","event_index":0,"type":"task_created","task_id":"task-1","payer":"payer1addr","amount":500,"denom":"uusdc","proof_type":"soft"},
		{"transaction_id":"0x1","event_index":1,"type":"task_accepted","task_id":"task-1","worker":"worker1addr"}
	]`
	rec := postEvents(t, wc, "hook-secret", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("batch rejected: %d %s", rec.Code, rec.Body.String())
	}
	if len(store.patches) != 2 {
		t.Fatalf("applied %d patches, want 2", len(store.patches))
	}
}

func TestLedgerEventsAcceptsSingleEvent(t *testing.T) {
	t.Setenv("LEDGER_WEBHOOK_KEY", "hook-secret")
	store := newFakeEventStore()
	wc := NewWebhookController(indexer.NewReconciler(store, nil))

	body := `{"transaction_id":"0x2","event_index":0,"type":"payment_completed","task_id":"task-2","worker":"worker1addr","amount":500}`
	rec := postEvents(t, wc, "hook-secret", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("single event rejected: %d", rec.Code)
	}
	if len(store.patches) != 1 {
		t.Fatalf("applied %d patches, want 1", len(store.patches))
	}
}

func TestLedgerEventsSignalsRetryOnStoreFailure(t *testing.T) {
	t.Setenv("LEDGER_WEBHOOK_KEY", "hook-secret")
	store := newFakeEventStore()
	store.failing = true
	wc := NewWebhookController(indexer.NewReconciler(store, nil))

	body := `{"transaction_id":"0x3","event_index":0,"type":"task_created","task_id":"task-3","payer":"p1addr"}`
	rec := postEvents(t, wc, "hook-secret", body)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("store failure must 5xx for redelivery, got %d", rec.Code)
	}
}

func TestLedgerEventsRejectsGarbage(t *testing.T) {
	t.Setenv("LEDGER_WEBHOOK_KEY", "hook-secret")
	wc := NewWebhookController(indexer.NewReconciler(newFakeEventStore(), nil))

	if rec := postEvents(t, wc, "hook-secret", `{{{`); rec.Code != http.StatusBadRequest {
		t.Fatalf("garbage body: %d", rec.Code)
	}
}
