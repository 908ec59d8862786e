// Package web exposes the orchestrator's command/query surface over
// HTTP and pushes status snapshots to connected websocket clients
// (spec.md §6).
package web

import (
	"context"
	"log"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lyra-sec/pocketrecon/internal/core/ports"
)

// Server binds an ports.Orchestrator to the HTTP control surface.
type Server struct {
	Addr         string
	Orchestrator ports.Orchestrator
	ws           *WSManager
	srv          *http.Server
}

// NewServer builds a Server ready to Run.
func NewServer(addr string, orch ports.Orchestrator) *Server {
	return &Server{
		Addr:         addr,
		Orchestrator: orch,
		ws:           NewWSManager(orch),
	}
}

// Run starts the websocket broadcaster and serves HTTP until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.ws.Start(ctx)

	handler := newRouter(s)
	instrumented := otelhttp.NewHandler(handler, "pocketrecon-web")

	s.srv = &http.Server{
		Addr:              s.Addr,
		Handler:           instrumented,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Println("web server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("web server shutdown error: %v", err)
		}
	}()

	log.Printf("web server listening on %s", s.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
