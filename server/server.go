// Package server exposes canvas documents, the make-real pipeline and the
// snapshot relay over HTTP.
package server

import (
	"bufio"
	"embed"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/yuin/goldmark"
	"golang.org/x/time/rate"

	"make_real/canvas"
	"make_real/makereal"
	"make_real/preview"
	"make_real/storage"
)

//go:embed web/*
var embeddedStatic embed.FS

// DefaultRequestTimeout bounds one make-real invocation.
const DefaultRequestTimeout = 120 * time.Second

// Deps are the collaborators of the server. Store, Raster and Hub are optional.
type Deps struct {
	Pipeline *makereal.Pipeline
	Registry *canvas.Registry
	Preview  *preview.Util
	Raster   canvas.Rasterizer
	Store    *storage.Store
	Hub      http.Handler
	Logger   *slog.Logger

	// RatePerMinute limits make-real invocations; 0 disables the limit.
	RatePerMinute  int
	RequestTimeout time.Duration
}

type Server struct {
	deps     Deps
	logger   *slog.Logger
	docs     *documentStore
	limiter  *rate.Limiter
	md       goldmark.Markdown
	staticFS http.Handler
}

func New(deps Deps) (*Server, error) {
	if deps.Pipeline == nil {
		return nil, errors.New("make-real pipeline required")
	}
	if deps.Registry == nil || deps.Preview == nil {
		return nil, errors.New("shape registry and preview util required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = DefaultRequestTimeout
	}

	sub, err := fs.Sub(embeddedStatic, "web")
	if err != nil {
		return nil, err
	}

	s := &Server{
		deps:     deps,
		logger:   deps.Logger,
		docs:     newDocumentStore(deps.Registry, deps.Store, deps.Logger),
		md:       goldmark.New(),
		staticFS: http.FileServer(http.FS(sub)),
	}
	if deps.RatePerMinute > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(float64(deps.RatePerMinute)/60.0), deps.RatePerMinute)
	}
	return s, nil
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logMiddleware)

	r.Get("/health", handleHealth)
	r.Route("/api/documents/{doc}", func(r chi.Router) {
		r.Get("/shapes", s.handleListShapes)
		r.Post("/shapes", s.handleCreateShape)
		r.Patch("/shapes/{id}", s.handlePatchShape)
		r.Delete("/shapes/{id}", s.handleDeleteShape)
		r.Get("/shapes/{id}/render", s.handleRenderShape)
		r.Post("/make-real", s.handleMakeReal)
		r.Get("/generations", s.handleListGenerations)
		r.Get("/export.svg", s.handleExportSVG)
		r.Get("/export.png", s.handleExportImage)
	})
	if s.deps.Hub != nil {
		r.Handle("/ws", s.deps.Hub)
	}
	r.Handle("/*", s.staticFS)
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack 透传给底层 writer，/ws 升级需要。
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
