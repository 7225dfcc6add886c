package visualization

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nvandessel/rulesim/internal/dagtree"
	"github.com/nvandessel/rulesim/internal/experiment"
	"github.com/nvandessel/rulesim/internal/store"
)

// RunReader is the read side of the run store.
type RunReader interface {
	ListRuns(ctx context.Context, limit int) ([]store.RunSummary, error)
	GetRun(ctx context.Context, id string) (*experiment.Report, error)
	Curve(ctx context.Context, id string) ([]experiment.CurvePoint, error)
	LoadTree(ctx context.Context, id string) (*dagtree.Tree, error)
}

// Server serves stored runs as HTML and JSON.
type Server struct {
	runs       RunReader
	logger     *slog.Logger
	router     chi.Router
	httpServer *http.Server
	mu         sync.Mutex
	addr       string
}

// NewServer creates a run browser backed by runs.
func NewServer(runs RunReader, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{runs: runs, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/", s.handleIndex)
	r.Route("/api/runs", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleRun)
			r.Get("/curve", s.handleCurve)
			r.Get("/tree.dot", s.handleTreeDOT)
			r.Get("/tree.json", s.handleTreeJSON)
		})
	})
	s.router = r
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the address the server is listening on (e.g., "localhost:PORT").
// Returns empty string if the server hasn't started yet.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// ListenAndServe listens on addr ("localhost:0" picks a free port) and blocks
// until the context is cancelled. Returns nil on clean shutdown.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = "localhost:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.httpServer = &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	s.mu.Unlock()
	s.logger.Info("serving runs", "addr", s.Addr())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	err = s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

type indexData struct {
	Runs []store.RunSummary
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.ListRuns(r.Context(), 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	tmpl, err := template.ParseFS(templates, "templates/runs.html.tmpl")
	if err != nil {
		s.fail(w, r, fmt.Errorf("parse HTML template: %w", err))
		return
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, indexData{Runs: runs}); err != nil {
		s.fail(w, r, fmt.Errorf("execute HTML template: %w", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.ListRuns(r.Context(), 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if runs == nil {
		runs = []store.RunSummary{}
	}
	writeJSON(w, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	rep, err := s.runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, rep)
}

func (s *Server) handleCurve(w http.ResponseWriter, r *http.Request) {
	points, err := s.runs.Curve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		if err := RenderCurveCSV(w, points); err != nil {
			s.logger.Warn("writing curve csv", "error", err)
		}
		return
	}
	if points == nil {
		points = []experiment.CurvePoint{}
	}
	writeJSON(w, points)
}

func (s *Server) handleTreeDOT(w http.ResponseWriter, r *http.Request) {
	tree, err := s.runs.LoadTree(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out, err := RenderTreeDOT(tree)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
	w.Write([]byte(out))
}

func (s *Server) handleTreeJSON(w http.ResponseWriter, r *http.Request) {
	tree, err := s.runs.LoadTree(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out, err := RenderTreeJSON(tree)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, out)
}

// fail maps store errors onto HTTP status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrAmbiguous):
		status = http.StatusBadRequest
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
