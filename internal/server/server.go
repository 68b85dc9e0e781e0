// Package server assembles the mcpgate HTTP surface: the OAuth consent
// endpoints, health checking, and file watching for the client registry
// and skill catalog.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"mcpgate/internal/config"
	"mcpgate/internal/oauth"
	"mcpgate/internal/skills"
	"mcpgate/pkg/logging"
)

const (
	// DefaultReadHeaderTimeout is the timeout for reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultWriteTimeout is the timeout for writing responses.
	DefaultWriteTimeout = 120 * time.Second
	// DefaultIdleTimeout is the idle timeout for keepalive connections.
	DefaultIdleTimeout = 120 * time.Second
)

// Server is the assembled mcpgate HTTP server.
type Server struct {
	cfg        config.Config
	flow       *oauth.Flow
	registry   *oauth.Registry
	catalog    *skills.Catalog
	grants     *oauth.GrantStore
	httpServer *http.Server
	watcher    *fileWatcher
}

// New builds a server from configuration: loads the client registry and
// skill catalog, wires the upstream provider client, and registers routes.
func New(cfg config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry, err := oauth.LoadRegistry(cfg.OAuth.ClientsFile)
	if err != nil {
		return nil, err
	}

	catalog, err := skills.LoadCatalog(cfg.OAuth.SkillsFile)
	if err != nil {
		return nil, err
	}

	upstream := oauth.NewUpstream(
		cfg.OAuth.Upstream.Issuer,
		cfg.OAuth.Upstream.ClientID,
		cfg.OAuth.Upstream.ClientSecret,
		cfg.Server.BaseURL+"/oauth/callback",
		cfg.OAuth.Upstream.Scopes,
	)

	grants := oauth.NewGrantStore()

	flow := &oauth.Flow{
		Clients:           registry,
		Catalog:           catalog,
		Upstream:          upstream,
		Grants:            grants,
		Secret:            cfg.OAuth.CookieSecret,
		ServerName:        cfg.OAuth.ServerName,
		ServerDescription: cfg.OAuth.ServerDescription,
	}

	s := &Server{
		cfg:      cfg,
		flow:     flow,
		registry: registry,
		catalog:  catalog,
		grants:   grants,
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           s.createMux(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}

	return s, nil
}

// createMux registers the HTTP routes.
func (s *Server) createMux() http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint (unauthenticated).
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.Handle("/oauth/authorize", securityHeaders(http.HandlerFunc(s.flow.HandleAuthorize)))
	mux.Handle("/oauth/callback", securityHeaders(http.HandlerFunc(s.flow.HandleCallback)))
	mux.HandleFunc("/oauth/token", s.flow.HandleToken)

	logging.Info("Server", "Registered OAuth consent endpoints")
	return mux
}

// Start begins serving and, when configured, starts catalog enrichment and
// the config file watcher. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.MCP.Endpoint != "" {
		go func() {
			if err := skills.EnrichToolCounts(ctx, s.catalog, s.cfg.MCP.Endpoint); err != nil {
				logging.Warn("Skills", "Tool count enrichment failed: %v", err)
			}
		}()
	}

	watcher, err := watchFiles(s.registry, s.catalog)
	if err != nil {
		logging.Warn("Server", "Config file watching disabled: %v", err)
	} else {
		s.watcher = watcher
	}

	logging.Info("Server", "Listening on %s (base URL %s)", s.httpServer.Addr, s.cfg.Server.BaseURL)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server and its background goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.watcher != nil {
		s.watcher.stop()
	}
	s.grants.Stop()
	return s.httpServer.Shutdown(ctx)
}

// securityHeaders sets recommended headers for the HTML-serving endpoints.
// They prevent the consent dialog from being framed, sniffed, or cached.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; form-action *")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
		next.ServeHTTP(w, r)
	})
}
