package api

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/mocknest/mocknest/internal/tenant"
)

// Server is the internal admin HTTP server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer wires the admin routes over the tenant registry. Every
// /__internal/ route requires the X-Internal-Auth secret; /healthz
// does not.
func NewServer(
	listenAddress string,
	port int,
	authSecret string,
	reg *tenant.Registry,
	maxBodyBytes int64,
) *Server {
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", HandleHealthz())

	authed := http.NewServeMux()
	authed.Handle("GET /__internal/endpoints", HandleListEndpoints(reg))
	authed.Handle("POST /__internal/endpoints", HandleCreateEndpoint(reg))
	authed.Handle("PUT /__internal/endpoints/{id}", HandleUpdateEndpoint(reg))
	authed.Handle("DELETE /__internal/endpoints/{id}", HandleDeleteEndpoint(reg))

	authed.Handle("GET /__internal/rules", HandleListRules(reg))
	authed.Handle("POST /__internal/rules", HandleCreateRule(reg))
	authed.Handle("PUT /__internal/rules/{id}", HandleUpdateRule(reg))
	authed.Handle("DELETE /__internal/rules/{id}", HandleDeleteRule(reg))

	authed.Handle("GET /__internal/logs", HandleListLogs(reg))
	authed.Handle("GET /__internal/logs/{id}", HandleGetLog(reg))
	authed.Handle("DELETE /__internal/logs", HandleClearLogs(reg))

	authed.Handle("GET /__internal/stats", HandleStats(reg))

	limited := RequestBodyLimitMiddleware(maxBodyBytes, authed)
	mux.Handle("/__internal/", AuthMiddleware(authSecret, limited))

	return &Server{
		httpServer: &http.Server{
			Addr:    net.JoinHostPort(listenAddress, strconv.Itoa(port)),
			Handler: mux,
		},
		mux: mux,
	}
}

// ListenAndServe starts the server and blocks until it stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}
