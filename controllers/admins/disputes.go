package admins

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"proofpay/database"
	"proofpay/engine"
	"proofpay/middleware"
	"proofpay/models"
	"proofpay/utils"
)

// DisputeController is the resolution surface. The engine treats disputed as
// terminal; an operator decision is what moves it to released or refunded.
type DisputeController struct {
	Svc *engine.Service
}

func NewDisputeController(svc *engine.Service) *DisputeController {
	return &DisputeController{Svc: svc}
}

// GET /v1/admin/disputes
func (dc *DisputeController) ListOpen(w http.ResponseWriter, r *http.Request) {
	db := database.DB
	var disputes []models.Dispute
	if err := db.Where("outcome IS NULL").Order("created_at ASC").Find(&disputes).Error; err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "DB error"})
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "Successfully", Data: disputes})
}

type resolveRequest struct {
	Outcome string `json:"outcome" validate:"required"`
}

// POST /v1/admin/disputes/{task_id}/resolve
func (dc *DisputeController) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := middleware.ValidateJSON(w, r, &req); err != nil {
		return
	}
	if req.Outcome != engine.StatusReleased && req.Outcome != engine.StatusRefunded {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "outcome must be released or refunded"})
		return
	}
	task, err := dc.Svc.ResolveDispute(r.Context(), mux.Vars(r)["task_id"], req.Outcome)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.WriteJSON(w, http.StatusNotFound, utils.APIResponse{Success: false, Message: "Task not found"})
			return
		}
		if errors.Is(err, engine.ErrIllegalTransition) {
			utils.WriteJSON(w, http.StatusConflict, utils.APIResponse{Success: false, Message: err.Error()})
			return
		}
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "Internal error"})
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "Dispute resolved", Data: task})
}
