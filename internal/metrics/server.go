package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// NewRouter mounts /metrics and /healthz.
func NewRouter(m *Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		p := m.Last()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"processed": p.Processed,
			"total":     p.Total,
			"succeeded": p.Succeeded,
			"empty":     p.Empty,
			"failed":    p.Failed,
		})
	})
	return r
}

// Server is the metrics HTTP listener.
type Server struct {
	srv  *http.Server
	addr string
	done chan struct{}
}

// Serve starts listening on addr in the background. The server shuts down
// when ctx ends or Shutdown is called.
func Serve(ctx context.Context, addr string, m *Metrics) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, eris.Wrapf(err, "metrics: listen %s", addr)
	}

	s := &Server{
		srv: &http.Server{
			Handler:           NewRouter(m),
			ReadHeaderTimeout: 5 * time.Second,
		},
		addr: ln.Addr().String(),
		done: make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Error("metrics: server stopped", zap.Error(err))
		}
	}()
	stop := context.AfterFunc(ctx, func() { _ = s.Shutdown(context.Background()) })
	go func() {
		<-s.done
		stop()
	}()

	zap.L().Info("metrics: listening", zap.String("addr", s.addr))
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown stops the server, waiting up to five seconds for open requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		return eris.Wrap(err, "metrics: shutdown")
	}
	<-s.done
	return nil
}
