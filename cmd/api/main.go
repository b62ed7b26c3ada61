package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"brfportal.se/internal/audit"
	"brfportal.se/internal/auth"
	"brfportal.se/internal/coop"
	"brfportal.se/internal/httpapi"
	"brfportal.se/internal/obs"
	"brfportal.se/internal/ratelimit"
	"brfportal.se/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	dsn := os.Getenv("BRF_PG_DSN")
	if dsn == "" {
		log.Fatal("missing BRF_PG_DSN")
	}
	secret := os.Getenv("BRF_AUTH_SECRET")
	if secret == "" {
		log.Fatal("missing BRF_AUTH_SECRET")
	}
	addr := envOr("BRF_HTTP_ADDR", ":8080")

	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()
	db := store.DB()

	tokens, err := auth.NewTokenService(secret)
	if err != nil {
		log.Fatalf("token service: %v", err)
	}

	auditor := audit.NewService(audit.NewPGStore(db))
	authStore := auth.NewPGStore(db)

	// Per-client attempt windows for credential resolution, login and
	// cooperative switching. The counter store is in-process; a deployment
	// with several replicas swaps in a shared CounterStore.
	counters := ratelimit.NewMemoryStore()
	authLimiter := ratelimit.NewLimiter(counters,
		envInt("BRF_AUTH_ATTEMPTS", 60), time.Minute)
	loginLimiter := ratelimit.NewLimiter(counters,
		envInt("BRF_LOGIN_ATTEMPTS", 10), time.Minute)
	switchLimiter := ratelimit.NewLimiter(counters,
		envInt("BRF_SWITCH_ATTEMPTS", 10), time.Minute)

	resolver := auth.NewResolver(authStore, tokens, auditor,
		auth.WithRateLimiter(authLimiter))
	sessions := auth.NewSessionService(authStore)
	switcher := coop.NewSwitcher(db, authStore, auditor,
		coop.WithRateLimiter(switchLimiter))

	api := httpapi.New(httpapi.Config{
		ReadyProbe:   httpapi.ReadyProbe{DB: db},
		Version:      version,
		Resolver:     resolver,
		Sessions:     sessions,
		Tokens:       tokens,
		Switcher:     switcher,
		Auditor:      auditor,
		Store:        store,
		AuthStore:    authStore,
		LoginLimiter: loginLimiter,
		EdgeRPS:      envInt("BRF_EDGE_RPS", 50),
		EdgeBurst:    envInt("BRF_EDGE_BURST", 100),
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting brfportal-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
