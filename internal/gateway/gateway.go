// Package gateway is the HTTP front end of the classifier service.
package gateway

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"retina/internal/config"
	"retina/internal/mirror"
	"retina/internal/monitoring"
	"retina/internal/registry"
)

// genericErrorBody is returned for unexpected internal failures so that
// internals never leak to clients.
const genericErrorBody = "Exception occured while processing the request"

// Gateway serves the classifier API over HTTP.
type Gateway struct {
	config   *config.Config
	registry *registry.Registry
	syncer   *mirror.Syncer
	metrics  *monitoring.Metrics

	// trainSlots bounds concurrent training jobs to the configured
	// worker count.
	trainSlots chan struct{}
}

// New creates a gateway. syncer may be nil when no mirror is configured.
func New(cfg *config.Config, reg *registry.Registry, syncer *mirror.Syncer, metrics *monitoring.Metrics) *Gateway {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	return &Gateway{
		config:     cfg,
		registry:   reg,
		syncer:     syncer,
		metrics:    metrics,
		trainSlots: make(chan struct{}, workers),
	}
}

// Handler builds the route table. Exposed for tests.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/metrics", g.handleMetrics)

	mux.HandleFunc("/api/predict", g.handlePredict)
	mux.HandleFunc("/api/train", g.handleTrain)
	mux.HandleFunc("/api/category", g.handleCategory)
	mux.HandleFunc("/api/sync/pull", g.handleSyncPull)
	mux.HandleFunc("/api/sync/push", g.handleSyncPush)

	return mux
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (g *Gateway) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", g.config.Port),
		Handler:      g.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	log.Printf("[Gateway] Listening on port %d (%d training workers)", g.config.Port, cap(g.trainSlots))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("[Gateway] Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
