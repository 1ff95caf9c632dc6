package public

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Pinger is anything with a health check (Redis client, Postgres store).
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusHandlers serves the unauthenticated health endpoints.
type StatusHandlers struct {
	logger       *zap.Logger
	dependencies map[string]Pinger
	readyTimeout time.Duration
}

// NewStatusHandlers creates health handlers over the named dependencies.
func NewStatusHandlers(logger *zap.Logger, dependencies map[string]Pinger, readyTimeout time.Duration) *StatusHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if readyTimeout <= 0 {
		readyTimeout = 5 * time.Second
	}
	return &StatusHandlers{
		logger:       logger,
		dependencies: dependencies,
		readyTimeout: readyTimeout,
	}
}

// Healthz reports process liveness.
func (s *StatusHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz reports readiness by pinging each dependency.
func (s *StatusHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.readyTimeout)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.dependencies))
	for name, dep := range s.dependencies {
		if err := dep.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, status, map[string]any{
		"status": http.StatusText(status),
		"checks": checks,
	})
}
