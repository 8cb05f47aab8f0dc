package controllers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"

	"proofpay/indexer"
	"proofpay/utils"
)

// WebhookController ingests the ledger's event feed. The relay may redeliver
// and reorder; the reconciler absorbs both, so the handler acks everything it
// could parse and only signals retryable failure on a store error.
type WebhookController struct {
	Reconciler *indexer.Reconciler
}

func NewWebhookController(rec *indexer.Reconciler) *WebhookController {
	return &WebhookController{Reconciler: rec}
}

// POST /v1/callback/ledger-events
func (wc *WebhookController) LedgerEvents(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("X-LEDGER-KEY")
	if key == "" || key != os.Getenv("LEDGER_WEBHOOK_KEY") {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{Success: false, Message: "Unauthorized"})
		return
	}

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "Invalid body"})
		return
	}

	// The relay posts either a single event or a batch.
	var events []indexer.Event
	if err := json.Unmarshal(bodyBytes, &events); err != nil {
		var single indexer.Event
		if err := json.Unmarshal(bodyBytes, &single); err != nil {
			utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "Invalid JSON"})
			return
		}
		events = []indexer.Event{single}
	}

	applied := 0
	for _, ev := range events {
		if err := wc.Reconciler.Apply(r.Context(), ev); err != nil {
			log.Printf("[webhook] apply event %s:%d: %v", ev.TransactionID, ev.EventIndex, err)
			// A 5xx makes the relay redeliver the batch; already-applied
			// events are absorbed on the retry.
			utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "Event not applied, retry"})
			return
		}
		applied++
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "Successfully", Data: map[string]interface{}{"applied": applied}})
}
