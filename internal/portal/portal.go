// Package portal serves the captive portal: the static UI plus the JSON API
// the UI drives. Handlers never mutate network state themselves; everything
// disruptive goes through the orchestrator.
package portal

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/envoidshield/wifi-connect/internal/netman"
	"github.com/envoidshield/wifi-connect/internal/orchestrator"
)

// connectWait bounds how long a /connect request blocks on the control
// loop; a full attempt with one retry stays under it.
const connectWait = 120 * time.Second

// queryWait bounds every other blocking request.
const queryWait = 30 * time.Second

// Controller is the slice of the orchestrator the portal uses.
type Controller interface {
	Connect(ctx context.Context, req netman.ConnectRequest) error
	Rescan(ctx context.Context) ([]netman.ScanResult, error)
	Forget(ctx context.Context, ssid string) (int, error)
	ForgetAll(ctx context.Context) (int, error)
	Snapshot() orchestrator.Snapshot
	Touch()
}

// NetworkInfo covers the read-only queries that are safe outside the
// control loop.
type NetworkInfo interface {
	CurrentConnection() (*netman.ConnectedInfo, error)
	ListSaved() ([]netman.NetworkProfile, error)
	IsAvailable() bool
}

// Server holds the portal's handler dependencies.
type Server struct {
	orch  Controller
	nm    NetworkInfo
	uiDir string
}

// NewServer creates the portal server. uiDir may point at a directory of
// static assets; when it is missing a built-in page is served instead.
func NewServer(orch Controller, nm NetworkInfo, uiDir string) *Server {
	if uiDir != "" {
		if _, err := os.Stat(filepath.Join(uiDir, "index.html")); err != nil {
			log.Warn().Str("dir", uiDir).Msg("UI directory has no index.html, using built-in page")
			uiDir = ""
		}
	}
	return &Server{orch: orch, nm: nm, uiDir: uiDir}
}

// Handler builds the portal's full route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(connectWait + 10*time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	r.Use(s.touchActivity)

	r.Get("/health", s.Health)
	r.Get("/list-networks", s.ListNetworks)
	r.Get("/list-connected", s.ListConnected)
	r.Get("/list-saved", s.ListSaved)
	r.Post("/connect", s.Connect)
	r.Post("/forget-network", s.ForgetNetwork)
	r.Post("/forget-all", s.ForgetAll)

	if s.uiDir != "" {
		fs := http.FileServer(http.Dir(s.uiDir))
		r.Handle("/*", fs)
	} else {
		r.Get("/", s.builtinPage)
		r.NotFound(s.builtinPage)
	}

	return r
}

// touchActivity feeds every request into the inactivity watchdog.
func (s *Server) touchActivity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.orch.Touch()
		next.ServeHTTP(w, r)
	})
}

// requestLogger emits one structured line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
