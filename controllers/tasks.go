package controllers

import (
	"net/http"

	"github.com/gorilla/mux"

	"proofpay/engine"
	"proofpay/middleware"
	"proofpay/utils"
)

// TaskController carries the command surface. All handlers take the caller's
// wallet address from the auth context; payer/worker checks live in the
// engine so they hold under the same row lock as the transition.
type TaskController struct {
	Svc *engine.Service
}

func NewTaskController(svc *engine.Service) *TaskController {
	return &TaskController{Svc: svc}
}

type createTaskRequest struct {
	Amount              int64  `json:"amount"`
	Denom               string `json:"denom" validate:"required,denomok"`
	ProofType           string `json:"proof_type" validate:"required"`
	Description         string `json:"description"`
	ReviewWindowSeconds int64  `json:"review_window_seconds,omitempty"`
}

// POST /v1/tasks
func (tc *TaskController) CreateTask(w http.ResponseWriter, r *http.Request) {
	addr, ok := utils.GetUserAddr(r)
	if !ok {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{Success: false, Message: "Unauthorized"})
		return
	}
	var req createTaskRequest
	if err := middleware.ValidateJSON(w, r, &req); err != nil {
		return
	}
	if req.Amount <= 0 {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "amount must be positive"})
		return
	}
	if !engine.ValidProofType(req.ProofType) {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "proof_type must be soft, zktls or hybrid"})
		return
	}
	task, err := tc.Svc.CreateTask(r.Context(), engine.CreateTaskInput{
		Payer:               addr,
		Amount:              req.Amount,
		Denom:               req.Denom,
		ProofType:           req.ProofType,
		Description:         req.Description,
		ReviewWindowSeconds: req.ReviewWindowSeconds,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.APIResponse{Success: true, Message: "Task created", Data: task})
}

// POST /v1/tasks/{id}/accept
func (tc *TaskController) AcceptTask(w http.ResponseWriter, r *http.Request) {
	addr, ok := utils.GetUserAddr(r)
	if !ok {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{Success: false, Message: "Unauthorized"})
		return
	}
	task, err := tc.Svc.AcceptTask(r.Context(), mux.Vars(r)["id"], addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "Task accepted", Data: task})
}

type submitProofRequest struct {
	PayloadRef string `json:"payload_ref" validate:"required,refok"`
}

// POST /v1/tasks/{id}/proof
func (tc *TaskController) SubmitProof(w http.ResponseWriter, r *http.Request) {
	addr, ok := utils.GetUserAddr(r)
	if !ok {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{Success: false, Message: "Unauthorized"})
		return
	}
	var req submitProofRequest
	if err := middleware.ValidateJSON(w, r, &req); err != nil {
		return
	}
	task, outcome, err := tc.Svc.SubmitProof(r.Context(), mux.Vars(r)["id"], addr, req.PayloadRef)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "Proof submitted",
		Data: map[string]interface{}{
			"outcome": outcome,
			"task":    task,
		},
	})
}

// POST /v1/tasks/{id}/approve
func (tc *TaskController) ApprovePayment(w http.ResponseWriter, r *http.Request) {
	addr, ok := utils.GetUserAddr(r)
	if !ok {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{Success: false, Message: "Unauthorized"})
		return
	}
	task, err := tc.Svc.ApprovePayment(r.Context(), mux.Vars(r)["id"], addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "Payment released", Data: task})
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// POST /v1/tasks/{id}/reject
func (tc *TaskController) RejectPayment(w http.ResponseWriter, r *http.Request) {
	addr, ok := utils.GetUserAddr(r)
	if !ok {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{Success: false, Message: "Unauthorized"})
		return
	}
	var req rejectRequest
	if err := middleware.ValidateJSON(w, r, &req); err != nil {
		return
	}
	task, err := tc.Svc.RejectPayment(r.Context(), mux.Vars(r)["id"], addr, req.Reason)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	msg := "Proof rejected, awaiting new submission"
	if task.Status == engine.StatusRefunded {
		msg = "Rejection limit reached, task refunded"
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: msg, Data: task})
}

// POST /v1/tasks/{id}/release
func (tc *TaskController) ReleaseNow(w http.ResponseWriter, r *http.Request) {
	addr, ok := utils.GetUserAddr(r)
	if !ok {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{Success: false, Message: "Unauthorized"})
		return
	}
	task, err := tc.Svc.ReleaseNow(r.Context(), mux.Vars(r)["id"], addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "Payment released", Data: task})
}

type disputeRequest struct {
	Reason      string `json:"reason" validate:"required"`
	EvidenceRef string `json:"evidence_ref,omitempty" validate:"refok"`
}

// POST /v1/tasks/{id}/dispute
func (tc *TaskController) Dispute(w http.ResponseWriter, r *http.Request) {
	addr, ok := utils.GetUserAddr(r)
	if !ok {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{Success: false, Message: "Unauthorized"})
		return
	}
	var req disputeRequest
	if err := middleware.ValidateJSON(w, r, &req); err != nil {
		return
	}
	task, err := tc.Svc.OpenDispute(r.Context(), mux.Vars(r)["id"], addr, req.Reason, req.EvidenceRef)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "Dispute opened", Data: task})
}

// POST /v1/tasks/{id}/cancel
func (tc *TaskController) CancelTask(w http.ResponseWriter, r *http.Request) {
	addr, ok := utils.GetUserAddr(r)
	if !ok {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{Success: false, Message: "Unauthorized"})
		return
	}
	task, err := tc.Svc.CancelTask(r.Context(), mux.Vars(r)["id"], addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "Task cancelled, funds refunded", Data: task})
}
