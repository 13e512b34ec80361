package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

// Counter reports how many passages the knowledge store holds.
// *knowledge.Store satisfies this.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// Pinger checks database connectivity. *pgxpool.Pool satisfies this.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober checks whether a dependency is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// health is a liveness probe for Docker/Kubernetes.
// Returns 200 OK with {"status":"ok"}.
func health(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	}
}

// readiness reports whether the service can answer questions. The database
// and knowledge store are hard dependencies; a failing generator probe only
// degrades the service since generation failures fall back to the apology
// answer anyway.
func readiness(db Pinger, store Counter, generator Prober, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ready"
		code := http.StatusOK
		components := make(map[string]string)

		degrade := func() {
			if status == "ready" {
				status = "degraded"
			}
		}
		fail := func() {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}

		switch {
		case db == nil:
			components["database"] = "not configured"
			fail()
		default:
			if err := db.Ping(r.Context()); err != nil {
				logger.Error("readiness database ping failed", "error", err)
				components["database"] = "unreachable"
				fail()
			} else {
				components["database"] = "ok"
			}
		}

		if store != nil && status != "unhealthy" {
			n, err := store.Count(r.Context())
			switch {
			case err != nil:
				logger.Error("readiness passage count failed", "error", err)
				components["knowledge"] = "unreachable"
				fail()
			case n == 0:
				components["knowledge"] = "empty"
				degrade()
			default:
				components["knowledge"] = fmt.Sprintf("%d passages", n)
			}
		}

		if generator != nil {
			if err := generator.Probe(r.Context()); err != nil {
				logger.Warn("readiness generator probe failed", "error", err)
				components["generator"] = "unreachable"
				degrade()
			} else {
				components["generator"] = "ok"
			}
		}

		writeJSON(w, code, map[string]any{
			"status":     status,
			"components": components,
		}, logger)
	}
}
