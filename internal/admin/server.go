// Package admin is the loopback-only read-only introspection HTTP
// server (the "ADMIN" supplement — see SPEC_FULL.md). Grounded directly on the teacher main.go's chi router
// construction (middleware.Logger/Recoverer/RequestID, cors.Handler),
// retargeted from the identity-agent's health/info routes to
// read-only service and trust-score introspection. Unlike the control
// plane, this server never mutates state — it exists so an operator
// (or a tunneled diagnostics session, see internal/remote) can look
// without touching the same socket the app uses for enforcement.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Tinlera/Clara-Security/internal/clara"
	"github.com/Tinlera/Clara-Security/internal/supervisor"
	"github.com/Tinlera/Clara-Security/internal/trust"
)

type healthResponse struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime"`
	Timestamp string `json:"timestamp"`
}

type serviceDebugEntry struct {
	Name          string `json:"name"`
	Status        string `json:"status"`
	PID           int    `json:"pid"`
	RestartCount  int    `json:"restart_count"`
	LastHeartbeat string `json:"last_heartbeat,omitempty"`
}

type trustDebugResponse struct {
	Package        string `json:"package"`
	Score          int    `json:"score"`
	MaxScore       int    `json:"max_score"`
	Status         string `json:"status"`
	Source         string `json:"install_source"`
	Whitelisted    bool   `json:"whitelisted"`
	Quarantined    bool   `json:"quarantined"`
	ViolationCount int    `json:"violation_count"`
}

// Server wraps the introspection HTTP handler and its own listener
// lifecycle, kept separate from the control plane's AF_UNIX socket.
type Server struct {
	router    chi.Router
	sup       *supervisor.Supervisor
	engine    *trust.Engine
	startTime time.Time
}

// New builds the router. Bind with http.ListenAndServe on a
// loopback-only address (e.g. 127.0.0.1:8787) — this package never
// binds a socket itself so the caller can choose plaintext loopback or
// route it through internal/remote's tunnel.
func New(sup *supervisor.Supervisor, engine *trust.Engine) *Server {
	s := &Server{sup: sup, engine: engine, startTime: time.Now()}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://127.0.0.1:*", "http://localhost:*"},
		AllowedMethods: []string{"GET"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Route("/debug", func(r chi.Router) {
		r.Get("/services", s.handleServices)
		r.Get("/trust/{pkg}", s.handleTrust)
	})

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Uptime:    time.Since(s.startTime).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	states := s.sup.GetAllServiceStates()
	out := make([]serviceDebugEntry, 0, len(states))
	for _, st := range states {
		entry := serviceDebugEntry{
			Name:         st.Name,
			Status:       st.Status.String(),
			PID:          st.PID,
			RestartCount: st.RestartCount,
		}
		if !st.LastHeartbeat.IsZero() {
			entry.LastHeartbeat = st.LastHeartbeat.UTC().Format(time.RFC3339)
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTrust(w http.ResponseWriter, r *http.Request) {
	pkg := chi.URLParam(r, "pkg")

	rec, err := s.engine.GetAppInfo(r.Context(), pkg)
	if err != nil {
		status := http.StatusInternalServerError
		if clara.KindOf(err) == clara.KindNotFound {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, trustDebugResponse{
		Package:        rec.Package,
		Score:          rec.Score,
		MaxScore:       rec.MaxScore,
		Status:         string(rec.Status),
		Source:         string(rec.InstallSrc),
		Whitelisted:    rec.Whitelisted,
		Quarantined:    rec.Quarantined,
		ViolationCount: rec.ViolationCount,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
