package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"proofpay/database"
	"proofpay/engine"
	"proofpay/models"
	"proofpay/utils"
)

// GET /v1/tasks/{id}
func GetTaskHandler(w http.ResponseWriter, r *http.Request) {
	db := database.DB
	var task models.Task
	if err := db.Where("id = ?", mux.Vars(r)["id"]).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.WriteJSON(w, http.StatusNotFound, utils.APIResponse{Success: false, Message: "Task not found"})
			return
		}
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "DB error"})
		return
	}

	resp := map[string]interface{}{"task": task}
	if task.EvidenceRef != nil && utils.EvidenceStoreConfigured() {
		if url, err := utils.PresignEvidenceURL(r.Context(), *task.EvidenceRef, 15*time.Minute); err == nil {
			resp["evidence_url"] = url
		}
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "Successfully", Data: resp})
}

// GET /v1/tasks?role=payer|worker&page=&limit=
func ListTasksHandler(w http.ResponseWriter, r *http.Request) {
	addr, ok := utils.GetUserAddr(r)
	if !ok {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{Success: false, Message: "Unauthorized"})
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	db := database.DB
	q := db.Model(&models.Task{})
	switch r.URL.Query().Get("role") {
	case "payer":
		q = q.Where("payer = ?", addr)
	case "worker":
		q = q.Where("worker = ?", addr)
	default:
		q = q.Where("payer = ? OR worker = ?", addr, addr)
	}
	if status := r.URL.Query().Get("status"); status != "" {
		q = q.Where("status = ?", status)
	}

	var totalRows int64
	if err := q.Count(&totalRows).Error; err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "DB error"})
		return
	}
	var tasks []models.Task
	if err := q.Order("created_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&tasks).Error; err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "DB error"})
		return
	}

	totalPages := int((totalRows + int64(limit) - 1) / int64(limit))
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "Successfully", Data: map[string]interface{}{
		"data": tasks,
		"pagination": map[string]interface{}{
			"page":        page,
			"limit":       limit,
			"total_rows":  totalRows,
			"total_pages": totalPages,
		},
	}})
}

// GET /v1/tasks/{id}/countdown
func CountdownHandler(w http.ResponseWriter, r *http.Request) {
	db := database.DB
	var task models.Task
	if err := db.Select("id", "status", "pending_release_expires_at").Where("id = ?", mux.Vars(r)["id"]).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.WriteJSON(w, http.StatusNotFound, utils.APIResponse{Success: false, Message: "Task not found"})
			return
		}
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "DB error"})
		return
	}
	remaining := int64(0)
	if task.Status == engine.StatusPendingRelease && task.PendingReleaseExpiresAt != nil {
		if d := time.Until(*task.PendingReleaseExpiresAt); d > 0 {
			remaining = int64(d.Seconds())
		}
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "Successfully", Data: map[string]interface{}{
		"task_id":           task.ID,
		"status":            task.Status,
		"seconds_remaining": remaining,
	}})
}

// GET /v1/users/stats
func UserStatsHandler(w http.ResponseWriter, r *http.Request) {
	addr, ok := utils.GetUserAddr(r)
	if !ok {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{Success: false, Message: "Unauthorized"})
		return
	}
	db := database.DB
	var stats models.UserStats
	if err := db.Where("address = ?", addr).First(&stats).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// No reconciled events yet; zeros, not a 404.
			stats = models.UserStats{Address: addr}
		} else {
			utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "DB error"})
			return
		}
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "Successfully", Data: stats})
}
