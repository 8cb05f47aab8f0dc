package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"proofpay/controllers"
	"proofpay/controllers/admins"
	"proofpay/database"
	"proofpay/engine"
	"proofpay/indexer"
	"proofpay/ledger"
	"proofpay/middleware"
	"proofpay/routes"
	"proofpay/utils"
)

func main() {
	// .env never overrides values already set in the environment.
	if err := godotenv.Load(); err != nil {
		log.Println("[main] no .env file found, using environment variables")
	}

	required := []string{"DB_HOST", "DB_USER", "DB_NAME", "JWT_SECRET", "LEDGER_BASE_URL", "LEDGER_CLIENT_KEY", "LEDGER_CLIENT_SECRET"}
	var missing []string
	for _, key := range required {
		if strings.TrimSpace(os.Getenv(key)) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		log.Fatalf("[main] missing required environment variables: %s", strings.Join(missing, ", "))
	}

	db, err := database.Connect()
	if err != nil {
		log.Fatalf("[main] failed to connect to database: %v", err)
	}
	if strings.ToLower(getenv("ENV", "development")) == "development" {
		if err := database.AutoMigrate(db); err != nil {
			log.Fatalf("[main] auto-migration failed: %v", err)
		}
	}

	utils.InitRedis()

	ledgerClient, err := ledger.NewClientFromEnv()
	if err != nil {
		log.Fatalf("[main] ledger client: %v", err)
	}

	var verifier engine.Verifier
	if os.Getenv("VERIFIER_BASE_URL") != "" {
		verifier, err = engine.NewHTTPVerifierFromEnv()
		if err != nil {
			log.Fatalf("[main] verifier client: %v", err)
		}
	} else {
		log.Println("[main] VERIFIER_BASE_URL not set, zktls and hybrid proofs cannot be evaluated")
	}

	store := engine.NewGormStore(db)
	svc := engine.NewService(store, ledgerClient, verifier)

	sweepInterval := time.Duration(atoi(getenv("RELEASE_SWEEP_SECONDS", "30"))) * time.Second
	sched := engine.NewScheduler(svc, store, sweepInterval)
	svc.SetScheduler(sched)

	reconciler := indexer.NewReconciler(indexer.NewGormStore(db), utils.RedisClient)

	router := routes.InitRouter(routes.Deps{
		Tasks:    controllers.NewTaskController(svc),
		Webhook:  controllers.NewWebhookController(reconciler),
		Cron:     controllers.NewCronController(sched),
		Disputes: admins.NewDisputeController(svc),
	})

	handler := middleware.RecoveryMiddleware(
		middleware.RequestIDMiddleware(
			middleware.RequestLogMiddleware(
				middleware.SecurityHeadersMiddleware(
					middleware.TimeoutMiddleware(
						middleware.MaxBodyMiddleware(router),
					),
				),
			),
		),
	)

	addr := ":" + getenv("PORT", "8080")
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("[main] listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		sched.Run(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Println("[main] shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("[main] server error: %v", err)
	}
	log.Println("[main] stopped")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return 30
	}
	return v
}
