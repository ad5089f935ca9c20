// Package server is the loopback ingest agent: the page posts its click
// and mutation hooks here, and the handlers feed them into the observer
// and the tracking façade.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/amorlat/funnel-tracking/internal/autotrack"
	"github.com/amorlat/funnel-tracking/internal/dom"
	"github.com/amorlat/funnel-tracking/internal/tracker"
	"go.uber.org/zap"
)

type Server struct {
	api      *tracker.Tracker
	observer *autotrack.Observer
	logger   *zap.Logger
	srv      *http.Server
}

func New(addr string, api *tracker.Tracker, observer *autotrack.Observer, logger *zap.Logger) *Server {
	s := &Server{
		api:      api,
		observer: observer,
		logger:   logger,
	}
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /hooks/click", s.handleClick)
	mux.HandleFunc("POST /hooks/mutation", s.handleMutation)
	mux.HandleFunc("POST /track", s.handleTrack)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("POST /export", s.handleExport)
	mux.HandleFunc("POST /clear", s.handleClear)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	return mux
}

func (s *Server) Start() error {
	s.logger.Info("ingest server listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// elementNode is the wire shape of a clicked element plus its ancestor
// chain, deepest node first.
type elementNode struct {
	Tag      string            `json:"tag"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Text     string            `json:"text,omitempty"`
	Disabled bool              `json:"disabled,omitempty"`
	Parent   *elementNode      `json:"parent,omitempty"`
}

func (n *elementNode) toElement() *dom.Element {
	if n == nil {
		return nil
	}
	el := &dom.Element{
		Tag:      n.Tag,
		Attrs:    n.Attrs,
		Text:     n.Text,
		Disabled: n.Disabled,
	}
	el.Parent = n.Parent.toElement()
	return el
}

type clickRequest struct {
	Target *elementNode `json:"target"`
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	var req clickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Target == nil {
		http.Error(w, "missing target", http.StatusBadRequest)
		return
	}
	s.observer.OnClick(req.Target.toElement())
	w.WriteHeader(http.StatusNoContent)
}

type mutationRequest struct {
	Added []*elementNode `json:"added"`
}

func (s *Server) handleMutation(w http.ResponseWriter, r *http.Request) {
	var req mutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	added := make([]*dom.Element, 0, len(req.Added))
	for _, n := range req.Added {
		added = append(added, n.toElement())
	}
	s.observer.OnMutation(added)
	w.WriteHeader(http.StatusNoContent)
}

type trackRequest struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		http.Error(w, "missing type", http.StatusBadRequest)
		return
	}
	s.api.TrackCustom(req.Type, req.Payload)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.api.AllEvents()); err != nil {
		s.logger.Warn("failed to encode events response", zap.Error(err))
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	path, err := s.api.ExportEvents()
	if err != nil {
		s.logger.Error("export failed", zap.Error(err))
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"path": path})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.api.ClearEvents()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
