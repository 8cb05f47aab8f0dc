package controllers

import (
	"net/http"
	"os"

	"proofpay/engine"
	"proofpay/utils"
)

// CronController exposes the release sweep to an external cron, protected by
// X-CRON-KEY. The in-process sweeper covers normal operation; this is the
// belt-and-braces trigger for deployments that prefer an external clock.
type CronController struct {
	Sched *engine.Scheduler
}

func NewCronController(sched *engine.Scheduler) *CronController {
	return &CronController{Sched: sched}
}

// POST /v1/cron/release-sweep
func (cc *CronController) ReleaseSweep(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("X-CRON-KEY")
	if key == "" || key != os.Getenv("CRON_KEY") {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{Success: false, Message: "Unauthorized"})
		return
	}
	released, err := cc.Sched.SweepOnce(r.Context())
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "Sweep failed"})
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "Cron executed", Data: map[string]interface{}{"released": released}})
}
