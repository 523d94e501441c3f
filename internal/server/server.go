package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/epub2tts/epub2tts/internal/cache"
	"github.com/epub2tts/epub2tts/internal/catalog"
	"github.com/epub2tts/epub2tts/internal/config"
	"github.com/epub2tts/epub2tts/internal/jobs"
	"github.com/epub2tts/epub2tts/internal/preview"
)

// Archive exposes the logs of finished conversions. *cache.LogArchive
// implements it.
type Archive interface {
	Get(id string) ([]string, cache.ArchiveMeta, error)
	Meta(id string) (cache.ArchiveMeta, bool)
}

// Options wires a Server to its collaborators.
type Options struct {
	Config   config.ServerConfig
	Registry *catalog.Registry
	Jobs     *jobs.Manager
	Preview  *preview.Service // may be nil
	Archive  Archive          // may be nil
	Logger   *log.Logger
	Debug    bool
}

// Server is the web front-end. It validates submitted options against the
// current registry snapshot and hands valid requests to the job manager.
type Server struct {
	cfg      config.ServerConfig
	registry atomic.Pointer[catalog.Registry]
	jobs     *jobs.Manager
	preview  *preview.Service
	archive  Archive
	logger   *log.Logger
	limiter  *rate.Limiter
	debug    bool

	engine *gin.Engine
}

// New creates a Server.
func New(opts Options) (*Server, error) {
	if opts.Registry == nil {
		return nil, errors.New("server requires a registry")
	}
	if opts.Jobs == nil {
		return nil, errors.New("server requires a job manager")
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		cfg:     opts.Config,
		jobs:    opts.Jobs,
		preview: opts.Preview,
		archive: opts.Archive,
		logger:  logger,
		debug:   opts.Debug,
	}
	if s.cfg.MaxUploadMB <= 0 {
		s.cfg.MaxUploadMB = config.DefaultMaxUploadMB
	}
	if s.cfg.UploadDir == "" {
		s.cfg.UploadDir = config.DefaultUploadDir()
	}
	if s.cfg.RateLimit > 0 {
		burst := max(s.cfg.RateBurst, 1)
		s.limiter = rate.NewLimiter(rate.Limit(s.cfg.RateLimit), burst)
	}

	s.registry.Store(opts.Registry)
	s.engine = s.build()
	return s, nil
}

// Registry returns the current registry snapshot.
func (s *Server) Registry() *catalog.Registry {
	return s.registry.Load()
}

// SetRegistry replaces the registry snapshot. Requests already being
// validated keep the snapshot they started with.
func (s *Server) SetRegistry(reg *catalog.Registry) {
	if reg != nil {
		s.registry.Store(reg)
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves HTTP on the configured address until ctx is canceled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		// event streams end when ctx is canceled
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Web front-end listening", "addr", "http://"+srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info("Shutting down web front-end")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
