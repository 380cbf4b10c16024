// Package server exposes the HTTP control surface and the websocket push
// channel. Every dependency is injected at construction; handlers hold no
// package-level state.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/recondeck/recondeck/internal/dispatch"
	"github.com/recondeck/recondeck/internal/pipeline"
	"github.com/recondeck/recondeck/internal/probe"
	"github.com/recondeck/recondeck/internal/record"
	"github.com/recondeck/recondeck/internal/stream"
	"github.com/recondeck/recondeck/internal/transport"
)

// DefaultEnumTimeout bounds a directory enumeration that is neither
// aborted nor naturally finished.
const DefaultEnumTimeout = 2 * time.Minute

// Server wires the pipeline, dispatcher, stream manager, and hub behind
// the HTTP API.
type Server struct {
	store       record.Store
	pipe        *pipeline.Pipeline
	dispatcher  *dispatch.Dispatcher
	jobs        *stream.Manager
	hub         *Hub
	resolver    pipeline.Resolver
	probeClient transport.Client
	artifacts   string
	enumTimeout time.Duration
	logger      *slog.Logger
}

// Config collects the Server's dependencies.
type Config struct {
	Store       record.Store
	Pipeline    *pipeline.Pipeline
	Dispatcher  *dispatch.Dispatcher
	Jobs        *stream.Manager
	Hub         *Hub
	Resolver    pipeline.Resolver
	ProbeClient transport.Client
	Artifacts   string
	EnumTimeout time.Duration
	Logger      *slog.Logger
}

// New builds a Server from its dependencies.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.EnumTimeout <= 0 {
		cfg.EnumTimeout = DefaultEnumTimeout
	}
	return &Server{
		store:       cfg.Store,
		pipe:        cfg.Pipeline,
		dispatcher:  cfg.Dispatcher,
		jobs:        cfg.Jobs,
		hub:         cfg.Hub,
		resolver:    cfg.Resolver,
		probeClient: cfg.ProbeClient,
		artifacts:   cfg.Artifacts,
		enumTimeout: cfg.EnumTimeout,
		logger:      cfg.Logger,
	}
}

// Router assembles the chi router for the API and the push channel.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/init-scan", s.handleInitScan)
		r.Get("/get-scan-status/{clientId}", s.handleScanStatus)
		r.Post("/get-dns-info", s.stageHandler(s.dnsStage))
		r.Post("/get-technologies", s.stageHandler(s.techStage))
		r.Post("/take-screenshot", s.stageHandler(s.screenshotStage))
		r.Post("/get-headers", s.stageHandler(s.headersStage))
		r.Post("/check-headers", s.stageHandler(s.checkHeadersStage))
		r.Post("/check-ssl", s.stageHandler(s.sslStage))
		r.Post("/nmap", s.handleNmap)
		r.Post("/sql-injection", s.handleSQLInjection)
		r.Post("/domain-dir-buster", s.handleDirBuster)
		r.Post("/domain-dir-buster/{clientId}/abort", s.handleDirBusterAbort)
	})

	r.Get("/socket/dirbuster/{clientId}", func(w http.ResponseWriter, r *http.Request) {
		s.hub.Handle(w, r, chi.URLParam(r, "clientId"))
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

type initScanRequest struct {
	URL string `json:"url"`
}

type initScanResponse struct {
	ClientID string `json:"clientId"`
	URL      string `json:"url"`
	Status   string `json:"status"`
}

func (s *Server) handleInitScan(w http.ResponseWriter, r *http.Request) {
	var req initScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	target, err := url.Parse(req.URL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Hostname() == "" {
		s.respondError(w, http.StatusBadRequest, "url must be absolute http or https")
		return
	}
	if _, err := s.resolver.Resolve(r.Context(), target.Hostname()); err != nil {
		if errors.Is(err, pipeline.ErrNoAddresses) {
			s.respondError(w, http.StatusBadRequest, "domain does not resolve")
			return
		}
		s.logger.Error("resolving scan target", "host", target.Hostname(), "error", err)
		s.respondError(w, http.StatusBadGateway, "could not resolve domain")
		return
	}

	rec := &record.ScanRecord{
		ClientID:  uuid.NewString(),
		URL:       req.URL,
		Status:    record.StatusPending,
		Timestamp: time.Now().UTC(),
	}
	if err := s.store.Create(r.Context(), rec); err != nil {
		s.logger.Error("creating scan record", "client_id", rec.ClientID, "error", err)
		s.respondError(w, http.StatusInternalServerError, "could not persist scan")
		return
	}
	s.logger.Info("scan initialized", "client_id", rec.ClientID, "url", rec.URL)
	s.respond(w, http.StatusCreated, initScanResponse{
		ClientID: rec.ClientID,
		URL:      rec.URL,
		Status:   rec.Status,
	})
}

func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientId")
	rec, err := s.store.Get(r.Context(), clientID)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "unknown client id")
			return
		}
		s.logger.Error("loading scan record", "client_id", clientID, "error", err)
		s.respondError(w, http.StatusInternalServerError, "could not load scan")
		return
	}
	s.respond(w, http.StatusOK, rec)
}

type clientRequest struct {
	ClientID string `json:"clientId"`
}

// stageFunc runs one pipeline stage and returns its JSON-serializable
// result.
type stageFunc func(r *http.Request, clientID string) (any, error)

func (s *Server) dnsStage(r *http.Request, clientID string) (any, error) {
	return s.pipe.DNSInfo(r.Context(), clientID)
}

func (s *Server) techStage(r *http.Request, clientID string) (any, error) {
	techs, err := s.pipe.Technologies(r.Context(), clientID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"technologies": techs}, nil
}

func (s *Server) screenshotStage(r *http.Request, clientID string) (any, error) {
	path, err := s.pipe.Screenshot(r.Context(), clientID)
	if err != nil {
		return nil, err
	}
	return map[string]string{"screenshot": path}, nil
}

func (s *Server) headersStage(r *http.Request, clientID string) (any, error) {
	return s.pipe.Headers(r.Context(), clientID)
}

func (s *Server) checkHeadersStage(r *http.Request, clientID string) (any, error) {
	checks, err := s.pipe.HeaderChecks(r.Context(), clientID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"checks": checks}, nil
}

func (s *Server) sslStage(r *http.Request, clientID string) (any, error) {
	return s.pipe.SSL(r.Context(), clientID)
}

// stageHandler adapts a pipeline stage into an HTTP handler with the
// shared decode and error mapping.
func (s *Server) stageHandler(stage stageFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req clientRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientID == "" {
			s.respondError(w, http.StatusBadRequest, "clientId is required")
			return
		}
		result, err := stage(r, req.ClientID)
		if err != nil {
			s.respondStageError(w, req.ClientID, err)
			return
		}
		s.respond(w, http.StatusOK, result)
	}
}

func (s *Server) respondStageError(w http.ResponseWriter, clientID string, err error) {
	switch {
	case errors.Is(err, record.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "unknown client id")
	case errors.Is(err, pipeline.ErrNoAddresses):
		s.respondError(w, http.StatusNotFound, "domain does not resolve")
	default:
		s.logger.Error("stage failed", "client_id", clientID, "error", err)
		s.respondError(w, http.StatusBadGateway, "scan stage failed")
	}
}

type nmapResponse struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
}

func (s *Server) handleNmap(w http.ResponseWriter, r *http.Request) {
	var req clientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientID == "" {
		s.respondError(w, http.StatusBadRequest, "clientId is required")
		return
	}
	rec, err := s.store.Get(r.Context(), req.ClientID)
	if err != nil {
		s.respondStageError(w, req.ClientID, err)
		return
	}
	target, err := url.Parse(rec.URL)
	if err != nil || target.Hostname() == "" {
		s.respondError(w, http.StatusInternalServerError, "stored url is invalid")
		return
	}
	requestID, err := s.dispatcher.PublishJob(r.Context(), req.ClientID, target.Hostname())
	if err != nil {
		s.logger.Error("dispatching port scan", "client_id", req.ClientID, "error", err)
		s.respondError(w, http.StatusBadGateway, "could not dispatch port scan")
		return
	}
	s.respond(w, http.StatusAccepted, nmapResponse{RequestID: requestID, Status: "dispatched"})
}

type sqlInjectionRequest struct {
	ClientID   string            `json:"clientId"`
	Method     string            `json:"method"`
	Params     map[string]string `json:"params"`
	Body       map[string]string `json:"body"`
	Dictionary string            `json:"dictionary"`
}

type sqlInjectionFinding struct {
	Payload  string `json:"payload"`
	Status   string `json:"status"`
	BodySize int    `json:"bodySize"`
}

func (s *Server) handleSQLInjection(w http.ResponseWriter, r *http.Request) {
	var req sqlInjectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientID == "" {
		s.respondError(w, http.StatusBadRequest, "clientId is required")
		return
	}
	if len(req.Params) == 0 && len(req.Body) == 0 {
		s.respondError(w, http.StatusBadRequest, "at least one of params or body is required")
		return
	}
	rec, err := s.store.Get(r.Context(), req.ClientID)
	if err != nil {
		s.respondStageError(w, req.ClientID, err)
		return
	}

	logPath := filepath.Join(s.artifacts, fmt.Sprintf("sqli_%s.log", req.ClientID))
	engine := probe.NewEngine(s.probeClient, logPath, probe.WithLogger(s.logger))
	findings, err := engine.Run(r.Context(), probe.Template{
		URL:    rec.URL,
		Method: req.Method,
		Params: req.Params,
		Body:   req.Body,
	}, req.Dictionary)
	if err != nil {
		s.logger.Error("injection probe failed", "client_id", req.ClientID, "error", err)
		s.respondError(w, http.StatusBadGateway, "injection probe failed")
		return
	}

	out := make([]sqlInjectionFinding, 0, len(findings))
	for _, f := range findings {
		out = append(out, sqlInjectionFinding{Payload: f.Payload, Status: f.Status, BodySize: f.BodySize})
	}
	s.respond(w, http.StatusOK, map[string]any{"findings": out, "log": logPath})
}

type dirBusterRequest struct {
	ClientID  string `json:"clientId"`
	TimeoutMS int    `json:"timeoutMs"`
}

func (s *Server) handleDirBuster(w http.ResponseWriter, r *http.Request) {
	var req dirBusterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientID == "" {
		s.respondError(w, http.StatusBadRequest, "clientId is required")
		return
	}
	rec, err := s.store.Get(r.Context(), req.ClientID)
	if err != nil {
		s.respondStageError(w, req.ClientID, err)
		return
	}

	artifactPath := filepath.Join(s.artifacts, fmt.Sprintf("dirbuster_%s.ndjson", req.ClientID))

	timeout := s.enumTimeout
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	sink := newTeeSink(artifactPath, s.hub.Sink(req.ClientID))
	if err := s.jobs.Start(rec.URL, req.ClientID, sink, timeout); err != nil {
		if errors.Is(err, stream.ErrAlreadyRunning) {
			s.respondError(w, http.StatusConflict, "enumeration already running")
			return
		}
		s.logger.Error("starting enumeration", "client_id", req.ClientID, "error", err)
		s.respondError(w, http.StatusInternalServerError, "could not start enumeration")
		return
	}

	if err := s.store.Update(r.Context(), req.ClientID, record.Patch{DirBuster: &artifactPath}); err != nil {
		s.logger.Error("persisting artifact path", "client_id", req.ClientID, "error", err)
	}
	s.respond(w, http.StatusAccepted, map[string]string{"status": "started", "artifact": artifactPath})
}

func (s *Server) handleDirBusterAbort(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientId")
	if err := s.jobs.Abort(clientID); err != nil {
		if errors.Is(err, stream.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "no running enumeration for client")
			return
		}
		s.logger.Error("aborting enumeration", "client_id", clientID, "error", err)
		s.respondError(w, http.StatusInternalServerError, "could not abort enumeration")
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "aborted"})
}

func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respond(w, status, map[string]string{"error": msg})
}
