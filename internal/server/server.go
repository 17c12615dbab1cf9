// Package server provides the HTTP front door: routing, auth, CORS,
// request-id handling, the grouped analyze API, async job endpoints,
// dictionary endpoints, and the dev-only trace lookup.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/openclaw/georanking/internal/config"
	"github.com/openclaw/georanking/internal/gwr"
	"github.com/openclaw/georanking/internal/jobs"
	"github.com/openclaw/georanking/internal/logging"
	"github.com/openclaw/georanking/internal/resolver"
)

// ServiceName identifies the service in health and version payloads.
const ServiceName = "geo-ranking-ch"

// AnalyzeFunc resolves one query into a full report.
type AnalyzeFunc func(ctx context.Context, query, intelligenceMode string, timeout time.Duration, requestID, sessionID string) (map[string]any, error)

// ResolveCoordinatesFunc reverse-resolves WGS84 coordinates into a query and
// a resolution context.
type ResolveCoordinatesFunc func(ctx context.Context, lat, lon float64) (string, map[string]any, error)

// PipelineFactory builds a fresh resolver per request. Source registry state
// is request-scoped, so a shared resolver would leak attribution between
// concurrent requests.
type PipelineFactory func() *resolver.Resolver

// Server is the HTTP front door for the address intelligence API.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	emitter *logging.Emitter
	dicts   *gwr.Dictionaries
	store   *jobs.Store
	runtime *jobs.Runtime

	analyze       AnalyzeFunc
	resolveCoords ResolveCoordinatesFunc

	server   *http.Server
	redirect *http.Server
}

// New wires a server over the given dependencies. The pipeline factory is
// optional when analyze and resolveCoords overrides are supplied (tests do
// this).
func New(cfg *config.Config, pipeline PipelineFactory, store *jobs.Store, runtime *jobs.Runtime, emitter *logging.Emitter, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = logging.NewEmitter(nil)
	}
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		emitter: emitter,
		dicts:   gwr.BuildDictionaries(cfg.Dictionary.Version),
		store:   store,
		runtime: runtime,
	}
	if pipeline != nil {
		s.analyze = func(ctx context.Context, query, mode string, timeout time.Duration, requestID, sessionID string) (map[string]any, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			opts := resolver.DefaultOptions()
			opts.Mode = mode
			opts.CandidateLimit = cfg.Analyze.CandidateLimit
			opts.CandidatePreview = cfg.Analyze.CandidatePreview
			return pipeline().BuildReport(ctx, query, opts)
		}
		s.resolveCoords = func(ctx context.Context, lat, lon float64) (string, map[string]any, error) {
			return pipeline().ResolveQueryFromCoordinates(ctx, lat, lon)
		}
	}
	return s
}

// Router builds the chi route tree. Every method falls through to the same
// front-door checks so path normalization and blocked paths behave uniformly.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.frontDoor)

	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)
	r.Get("/gui", s.handleGUI)
	r.Get("/api/v1/dictionaries", s.handleDictionaryIndex)
	r.Get("/api/v1/dictionaries/{domain}", s.handleDictionaryDomain)
	r.Get("/debug/trace", s.handleDebugTrace)
	r.Post("/analyze", s.handleAnalyze)
	r.Get("/analyze/jobs/{jobID}", s.handleJobStatus)
	r.Post("/analyze/jobs/{jobID}/cancel", s.handleJobCancel)
	r.Get("/analyze/results/{resultID}", s.handleJobResult)
	r.Options("/analyze", s.handlePreflight)
	r.Options("/analyze/jobs/{jobID}/cancel", s.handlePreflight)
	r.Options("/debug/trace", s.handlePreflight)
	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(s.handleNotFound)

	return r
}

// Start runs the HTTP (or HTTPS) listener and blocks until shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.cfg.Server.TLSCertFile != "" && s.cfg.Server.TLSKeyFile != "" {
		s.server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		if s.cfg.Server.TLSHTTPRedirect {
			s.startRedirectListener()
		}
		s.logger.Info("starting https server", zap.String("addr", addr))
		return s.server.ListenAndServeTLS(s.cfg.Server.TLSCertFile, s.cfg.Server.TLSKeyFile)
	}

	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// startRedirectListener answers plain HTTP with a 308 to the HTTPS origin.
func (s *Server) startRedirectListener() {
	host := s.cfg.Server.TLSRedirectHost
	httpsPort := s.cfg.Server.Port
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.TLSRedirectPort)

	s.redirect = &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			target := host
			if target == "" {
				target = hostWithoutPort(r.Host)
			}
			location := fmt.Sprintf("https://%s:%d%s", target, httpsPort, r.URL.RequestURI())
			if httpsPort == 443 {
				location = fmt.Sprintf("https://%s%s", target, r.URL.RequestURI())
			}
			http.Redirect(w, r, location, http.StatusPermanentRedirect)
		}),
	}
	go func() {
		if err := s.redirect.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Warn("http redirect listener stopped", zap.Error(err))
		}
	}()
	s.logger.Info("http to https redirect enabled", zap.String("addr", addr))
}

// Stop shuts the listeners down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.redirect != nil {
		_ = s.redirect.Shutdown(ctx)
	}
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) appVersion() string {
	if v := os.Getenv("APP_VERSION"); v != "" {
		return v
	}
	return "dev"
}

func hostWithoutPort(hostHeader string) string {
	host := hostHeader
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host[:i]
		}
		if host[i] < '0' || host[i] > '9' {
			break
		}
	}
	return host
}
