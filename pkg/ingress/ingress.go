// Package ingress is the thin management HTTP surface: accept an
// uploaded source archive, accept a secret value, and nudge the
// scheduler to reconcile sooner than its next tick. It holds no logic
// of its own beyond request plumbing -- everything interesting happens
// in pkg/builder, pkg/secrets, and pkg/scheduler.
package ingress

import (
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/geoge23/fats/pkg/builder"
	"github.com/geoge23/fats/pkg/log"
	"github.com/geoge23/fats/pkg/scheduler"
	"github.com/geoge23/fats/pkg/secrets"
)

// Server is the mgmt HTTP API.
type Server struct {
	builder   *builder.Builder
	secrets   *secrets.Manager
	scheduler *scheduler.Scheduler
	reconcile *scheduler.Schedule
	logger    zerolog.Logger
}

// New returns a Server. reconcile is the Schedule entry the scheduler
// runs the reconciliation loop under; a successful upload requests it
// run early rather than waiting for its normal interval.
func New(b *builder.Builder, s *secrets.Manager, sched *scheduler.Scheduler, reconcile *scheduler.Schedule) *Server {
	return &Server{builder: b, secrets: s, scheduler: sched, reconcile: reconcile, logger: log.WithComponent("ingress")}
}

// Handler returns the mux this Server should be served behind.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /mgmt/tar-upload", s.handleTarUpload)
	mux.HandleFunc("POST /mgmt/secret/{name}", s.handleSecret)
	return mux
}

func (s *Server) handleTarUpload(w http.ResponseWriter, r *http.Request) {
	s.logger.Info().Msg("receiving tar upload")

	if _, err := s.builder.BuildFromTarball(r.Context(), r.Body); err != nil {
		s.logger.Error().Err(err).Msg("build failed")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.scheduler.RequestEarly(s.reconcile)

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Upload received"))
}

func (s *Server) handleSecret(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	value, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read secret value", http.StatusBadRequest)
		return
	}
	if len(value) == 0 {
		http.Error(w, "invalid secret value", http.StatusBadRequest)
		return
	}

	if err := s.secrets.Upsert(r.Context(), name, string(value)); err != nil {
		s.logger.Error().Err(err).Str("secret", name).Msg("failed to upsert secret")
		http.Error(w, "failed to store secret", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Secret uploaded"))
}
