// Package server serves the transit status page. It only reads view model
// snapshots and never mutates a model.
package server

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/uptrace/bunrouter"

	idspkg "github.com/drblury/transitboard/internal/runtime/ids"
	loggingpkg "github.com/drblury/transitboard/internal/runtime/logging"
	"github.com/drblury/transitboard/internal/runtime/views"
)

//go:embed templates/*.html
var templatesFS embed.FS

// WeatherReader is the read side of the weather model.
type WeatherReader interface {
	Snapshot() views.WeatherSnapshot
}

// LinesReader is the read side of the lines model.
type LinesReader interface {
	Snapshot() []views.LineSnapshot
}

type statusPage struct {
	RequestID  string
	Weather    views.WeatherSnapshot
	Lines      []views.LineSnapshot
	RenderedAt time.Time
}

// Server renders the status page on GET /.
type Server struct {
	addr    string
	weather WeatherReader
	lines   LinesReader
	logger  loggingpkg.ServiceLogger
	tmpl    *template.Template
	router  *bunrouter.Router
	http    *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// New parses the embedded template and builds the router.
func New(addr string, weather WeatherReader, lines LinesReader, logger loggingpkg.ServiceLogger) (*Server, error) {
	if weather == nil || lines == nil {
		return nil, errors.New("server: view models are required")
	}
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"temperature": func(v float64) string { return fmt.Sprintf("%.1f", v) },
		"humanize":    humanize,
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("server: parse templates: %w", err)
	}

	s := &Server{
		addr:    addr,
		weather: weather,
		lines:   lines,
		logger:  logger,
		tmpl:    tmpl,
	}
	s.router = bunrouter.New(
		bunrouter.Use(s.logRequests),
		bunrouter.WithNotFoundHandler(func(w http.ResponseWriter, req bunrouter.Request) error {
			http.NotFound(w, req.Request)
			return nil
		}),
		bunrouter.WithMethodNotAllowedHandler(func(w http.ResponseWriter, req bunrouter.Request) error {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return nil
		}),
	)
	s.router.GET("/", s.handleStatus)
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Listen binds the configured address. It is separate from Serve so that
// bind failures surface during startup and the bound address is known
// before the run loop starts.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve accepts connections until Shutdown. A graceful shutdown returns nil.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server: Listen must be called before Serve")
	}
	s.logger.Info("Serving status page", loggingpkg.LogFields{"address": ln.Addr().String()})
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases the listener without waiting for in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	err := s.http.Close()
	if ln != nil {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) && err == nil {
			err = cerr
		}
	}
	return err
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, req bunrouter.Request) error {
	page := statusPage{
		RequestID:  requestID(req.Context()),
		Weather:    s.weather.Snapshot(),
		Lines:      s.lines.Snapshot(),
		RenderedAt: time.Now(),
	}

	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, "status.html", page); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, err := buf.WriteTo(w)
	return err
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) logRequests(next bunrouter.HandlerFunc) bunrouter.HandlerFunc {
	return func(w http.ResponseWriter, req bunrouter.Request) error {
		id := idspkg.CreateULID()
		req = req.WithContext(context.WithValue(req.Context(), requestIDKey{}, id))
		w.Header().Set("X-Request-Id", id)

		started := time.Now()
		err := next(w, req)
		fields := loggingpkg.LogFields{
			"request_id": id,
			"method":     req.Method,
			"path":       req.URL.Path,
			"duration":   time.Since(started).String(),
		}
		if err != nil {
			s.logger.Error("Failed to render response", err, fields)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return nil
		}
		s.logger.Debug("Handled request", fields)
		return nil
	}
}

func humanize(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToTitle(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
