package admin

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/basinlabs/browserbridge/internal/retention"
	"github.com/basinlabs/browserbridge/internal/session"
	"github.com/basinlabs/browserbridge/internal/store"
)

// Server owns the dependencies the Admin HTTP surface reads and mutates.
// It never talks to the ingest WebSocket or the Tool Runtime directly —
// only to the Store, the Retention Engine, and the Session Registry, the
// same three components those other surfaces wrap.
type Server struct {
	store     *store.Store
	retention *retention.Engine
	sessions  *session.Registry
	log       zerolog.Logger
	startedAt time.Time
	version   string
}

// New builds the Admin Server.
func New(s *store.Store, ret *retention.Engine, reg *session.Registry, version string, log zerolog.Logger) *Server {
	return &Server{
		store:     s,
		retention: ret,
		sessions:  reg,
		log:       log.With().Str("component", "admin").Logger(),
		startedAt: time.Now(),
		version:   version,
	}
}

// Routes builds the admin mux (spec.md §6), following the teacher's
// setupHTTPRoutes/registerCoreRoutes split of one handler per concern.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", localOnly(s.handleHealth))
	mux.HandleFunc("/stats", localOnly(s.handleStats))

	mux.HandleFunc("/retention/settings", localOnly(s.handleRetentionSettings))
	mux.HandleFunc("/retention/run-cleanup", localOnly(s.handleRunCleanup))

	mux.HandleFunc("/sessions", localOnly(s.handleSessionsList))
	mux.HandleFunc("/sessions/import", localOnly(s.handleSessionsImport))
	mux.HandleFunc("/sessions/", localOnly(s.handleSessionSubroute))

	mux.HandleFunc("/db/reset", localOnly(s.handleDBReset))

	return mux
}
