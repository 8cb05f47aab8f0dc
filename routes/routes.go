package routes

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"proofpay/controllers"
	"proofpay/controllers/admins"
	"proofpay/middleware"
)

// Deps are the constructed controllers the router mounts.
type Deps struct {
	Tasks    *controllers.TaskController
	Webhook  *controllers.WebhookController
	Cron     *controllers.CronController
	Disputes *admins.DisputeController
}

func optionsHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func InitRouter(d Deps) *mux.Router {
	r := mux.NewRouter()

	// Health check at root level for container liveness checks.
	r.Handle("/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "healthy",
			"timestamp": time.Now().Unix(),
			"service":   "proofpay-api",
		})
	})).Methods(http.MethodGet)

	// CORS - origins from CORS_ALLOWED_ORIGINS (comma-separated) or defaults.
	origins := []string{"http://localhost:3000", "http://localhost:8080", "http://127.0.0.1:3000"}
	if originsEnv := os.Getenv("CORS_ALLOWED_ORIGINS"); originsEnv != "" {
		for _, p := range strings.Split(originsEnv, ",") {
			if o := strings.TrimSpace(p); o != "" {
				origins = append(origins, o)
			}
		}
	}
	r.Use(func(next http.Handler) http.Handler {
		return handlers.CORS(
			handlers.AllowedOrigins(origins),
			handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"}),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-CRON-KEY", "X-LEDGER-KEY", "X-Requested-With", "X-Request-ID"}),
			handlers.AllowCredentials(),
		)(next)
	})

	api := r.PathPrefix("/v1").Subrouter()
	api.PathPrefix("/").HandlerFunc(optionsHandler).Methods(http.MethodOptions)

	// Commands are ledger submissions; keep the write budget tight.
	userLimiter := middleware.NewAddrRateLimiter(120, 30, 60)
	cronLimiter := middleware.NewIPRateLimiter(1000, time.Hour)
	webhookWhitelist := []string{"127.0.0.1"}
	if v := os.Getenv("LEDGER_RELAY_IPS"); v != "" {
		for _, p := range strings.Split(v, ",") {
			if ip := strings.TrimSpace(p); ip != "" {
				webhookWhitelist = append(webhookWhitelist, ip)
			}
		}
	}
	webhookLimiter := middleware.NewWebhookLimiter(2000, time.Hour, webhookWhitelist)

	authed := func(h http.HandlerFunc) http.Handler {
		return userLimiter.Middleware(middleware.AuthMiddleware(h))
	}

	// Task commands
	api.Handle("/tasks", authed(d.Tasks.CreateTask)).Methods(http.MethodPost)
	api.Handle("/tasks/{id}/accept", authed(d.Tasks.AcceptTask)).Methods(http.MethodPost)
	api.Handle("/tasks/{id}/proof", authed(d.Tasks.SubmitProof)).Methods(http.MethodPost)
	api.Handle("/tasks/{id}/approve", authed(d.Tasks.ApprovePayment)).Methods(http.MethodPost)
	api.Handle("/tasks/{id}/reject", authed(d.Tasks.RejectPayment)).Methods(http.MethodPost)
	api.Handle("/tasks/{id}/release", authed(d.Tasks.ReleaseNow)).Methods(http.MethodPost)
	api.Handle("/tasks/{id}/dispute", authed(d.Tasks.Dispute)).Methods(http.MethodPost)
	api.Handle("/tasks/{id}/cancel", authed(d.Tasks.CancelTask)).Methods(http.MethodPost)

	// Reads
	api.Handle("/tasks", authed(controllers.ListTasksHandler)).Methods(http.MethodGet)
	api.Handle("/tasks/{id}", authed(controllers.GetTaskHandler)).Methods(http.MethodGet)
	api.Handle("/tasks/{id}/countdown", authed(controllers.CountdownHandler)).Methods(http.MethodGet)
	api.Handle("/users/stats", authed(controllers.UserStatsHandler)).Methods(http.MethodGet)

	// Ledger event feed
	api.Handle("/callback/ledger-events", webhookLimiter.Middleware(http.HandlerFunc(d.Webhook.LedgerEvents))).Methods(http.MethodPost)

	// External cron trigger for the release sweep (X-CRON-KEY protected)
	api.Handle("/cron/release-sweep", cronLimiter.Middleware(http.HandlerFunc(d.Cron.ReleaseSweep))).Methods(http.MethodPost)

	// Admin: dispute resolution
	api.Handle("/admin/disputes", middleware.AdminAuthMiddleware(http.HandlerFunc(d.Disputes.ListOpen))).Methods(http.MethodGet)
	api.Handle("/admin/disputes/{task_id}/resolve", middleware.AdminAuthMiddleware(http.HandlerFunc(d.Disputes.Resolve))).Methods(http.MethodPost)

	return r
}
