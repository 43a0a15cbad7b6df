// Package web provides the HTTP status page and live websocket feed for
// the logger daemon.
package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/sweeney/esk8-logger/internal/logging"
	"github.com/sweeney/esk8-logger/internal/ridelog"
	"github.com/sweeney/esk8-logger/internal/state"
	"github.com/sweeney/esk8-logger/internal/status"
)

var log = logging.Component("web")

// HistorySource supplies recent state changes for the status page.
type HistorySource interface {
	History() []state.Change
}

// LogSource lists finished ride logs and resolves one by file name.
type LogSource interface {
	Pending() ([]ridelog.File, error)
	Synced() ([]ridelog.File, error)
	Locate(name string) (string, error)
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	hub        *Hub
	history    HistorySource
	logs       LogSource
}

// New creates a Server that reads state from the given tracker. hub,
// history and logs may be nil.
func New(addr string, tracker *status.Tracker, hub *Hub, history HistorySource, logs LogSource) *Server {
	s := &Server{tracker: tracker, hub: hub, history: history, logs: logs}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	if hub != nil {
		mux.HandleFunc("/ws", s.handleWS)
	}
	if logs != nil {
		mux.HandleFunc("/logs", s.handleLogs)
		mux.HandleFunc("/logs/", s.handleLogFile)
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the route mux. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server and drops live clients.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	var history []state.Change
	if s.history != nil {
		history = s.history.History()
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap, history, s.hub != nil, s.logs != nil)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r, formatLiveStatus(s.tracker.Snapshot()))
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	pending, err := s.logs.Pending()
	if err != nil {
		log.WithError(err).Warn("list pending logs")
		http.Error(w, "cannot list logs", http.StatusInternalServerError)
		return
	}
	synced, err := s.logs.Synced()
	if err != nil {
		log.WithError(err).Warn("list synced logs")
		http.Error(w, "cannot list logs", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderLogs(w, s.tracker.Snapshot().Config.Device, pending, synced)
}

func (s *Server) handleLogFile(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/logs/")
	if name == "" {
		s.handleLogs(w, r)
		return
	}
	if name != filepath.Base(name) {
		http.NotFound(w, r)
		return
	}
	path, err := s.logs.Locate(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}
