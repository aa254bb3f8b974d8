package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status          string    `json:"status"`
	GeneratedAt     time.Time `json:"generated_at"`
	Scheduler       string    `json:"scheduler"`
	PlaylistLength  int       `json:"playlist_length"`
	ActiveVariant   string    `json:"active_variant,omitempty"`
	DayNightEnabled bool      `json:"day_night_enabled"`
	Connections     int       `json:"connections"`
	PainterBreaker  string    `json:"painter_breaker,omitempty"`
}

type breakerStater interface {
	BreakerState() string
}

// NewStatusRouter serves /healthz and /metrics for s.
func NewStatusRouter(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Get("/healthz", s.healthHandler)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) Health() HealthResponse {
	resp := HealthResponse{
		Status:          "ok",
		GeneratedAt:     time.Now().UTC(),
		Scheduler:       string(s.sched.State()),
		PlaylistLength:  s.playlist.Len(),
		ActiveVariant:   string(s.playlist.Label()),
		DayNightEnabled: s.engine.Enabled(),
		Connections:     s.listener.PeerCount(),
	}
	if b, ok := s.applier.(breakerStater); ok {
		resp.PainterBreaker = b.BreakerState()
	}
	return resp
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Health())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	b, err := json.Marshal(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b) //nolint:errcheck
}

// httpService runs the status server under the supervisor.
type httpService struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

func newHTTPService(addr string, handler http.Handler, shutdownTimeout time.Duration) *httpService {
	return &httpService{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		shutdownTimeout: shutdownTimeout,
	}
}

func (h *httpService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("status server shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *httpService) String() string {
	return "status-http"
}
