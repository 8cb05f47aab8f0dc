package controllers

import (
	"errors"
	"net/http"

	"gorm.io/gorm"

	"proofpay/engine"
	"proofpay/utils"
)

// writeEngineError maps the engine's error taxonomy to HTTP statuses. The
// message carries the precise illegal-edge reason so the client can show it;
// verification verdicts and infra failures get distinct statuses so a worker
// knows whether to resubmit proof or just retry later.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		utils.WriteJSON(w, http.StatusNotFound, utils.APIResponse{Success: false, Message: "Task not found"})
	case errors.Is(err, engine.ErrForbidden):
		utils.WriteJSON(w, http.StatusForbidden, utils.APIResponse{Success: false, Message: err.Error()})
	case errors.Is(err, engine.ErrTaskAlreadyReleased),
		errors.Is(err, engine.ErrTaskNotPendingRelease),
		errors.Is(err, engine.ErrIllegalTransition):
		utils.WriteJSON(w, http.StatusConflict, utils.APIResponse{Success: false, Message: err.Error()})
	case errors.Is(err, engine.ErrVerificationFailed):
		utils.WriteJSON(w, http.StatusUnprocessableEntity, utils.APIResponse{Success: false, Message: err.Error()})
	case errors.Is(err, engine.ErrLedgerSubmissionFailed):
		utils.WriteJSON(w, http.StatusBadGateway, utils.APIResponse{Success: false, Message: "Ledger temporarily unavailable, please retry"})
	default:
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "Internal error"})
	}
}
