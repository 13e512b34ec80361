// Package app provides application initialization and dependency wiring.
//
// App is the container that holds every long-lived component: Genkit, the
// database pool, the knowledge store, the answer pipeline and the quota
// limiter. Setup builds them in dependency order and Close releases them.
package app

import (
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/futuresys/introbot/internal/config"
	"github.com/futuresys/introbot/internal/knowledge"
	"github.com/futuresys/introbot/internal/log"
	"github.com/futuresys/introbot/internal/pipeline"
	"github.com/futuresys/introbot/internal/ratelimit"
	"github.com/futuresys/introbot/internal/rerank"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit    *genkit.Genkit
	Embedder  ai.Embedder
	DBPool    *pgxpool.Pool
	Knowledge *knowledge.Store
	Reranker  rerank.Reranker // nil when reranking is disabled
	Pipeline  *pipeline.Pipeline
	Quota     *ratelimit.Limiter
	GenProbe  GeneratorProbe // nil when the provider has no liveness check

	otelCleanup func()
	dbCleanup   func()
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}

	if a.dbCleanup != nil {
		a.dbCleanup()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}

	return nil
}
