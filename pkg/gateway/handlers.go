package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/fanex-id/integrations/internal/tracing"
	"github.com/fanex-id/integrations/pkg/integration"
	"github.com/fanex-id/integrations/pkg/services"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.options.RequestTimeout)
	defer cancel()
	report := s.host.CheckHealth(ctx)

	status := "ok"
	code := http.StatusOK
	if !report.Healthy {
		status = "degraded"
	}
	if s.shuttingDown() {
		status = "shutting_down"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":       status,
		"uptime":       time.Since(s.startTime).Seconds(),
		"services":     s.registry.Len(),
		"subscribers":  s.broadcaster.Count(),
		"integrations": report.Integrations,
		"tasks":        report.Tasks,
		"timestamp":    time.Now().UnixMilli(),
	})
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	snapshot := s.registry.Snapshot()
	if domain, ok := mux.Vars(r)["domain"]; ok {
		snapshot = snapshot.ByDomain(domain)
	}
	entries := []services.Entry(snapshot)
	if entries == nil {
		entries = []services.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"services": entries,
		"count":    len(entries),
	})
}

func (s *Server) handleListIntegrations(w http.ResponseWriter, r *http.Request) {
	descriptors := s.host.Descriptors()
	if descriptors == nil {
		descriptors = []integration.Descriptor{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"integrations": descriptors,
		"count":        len(descriptors),
	})
}

func (s *Server) handleGetIntegration(w http.ResponseWriter, r *http.Request) {
	domain := mux.Vars(r)["domain"]
	d, ok := s.host.Get(domain)
	if !ok {
		writeJSON(w, http.StatusNotFound, services.Failure(&services.NotFoundError{Kind: "Integration", ID: domain}))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"integration": d,
		"services":    s.registry.Snapshot().ByDomain(domain),
	})
}

// handleInvoke runs one service. The JSON body is the request; the response
// is the service envelope. Handler failures are reported in the envelope with
// status 200, so only transport problems use error statuses.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	domain, service := vars["domain"], vars["service"]

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.options.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, services.Failure(errors.New("request body too large")))
			return
		}
		writeJSON(w, http.StatusBadRequest, services.Failure(fmt.Errorf("failed to read request body: %w", err)))
		return
	}

	if s.options.Secret != "" && !VerifySignature(body, r.Header.Get(s.options.SignatureHeader), s.options.Secret) {
		s.logger.Warn().
			Str("domain", domain).
			Str("service", service).
			Str("ip", clientIP(r)).
			Msg("Invalid or missing request signature")
		s.audit.Rejected(r.Context(), clientIP(r), "call:"+domain+"."+service, "invalid signature")
		writeJSON(w, http.StatusUnauthorized, services.Failure(errors.New("invalid signature")))
		return
	}

	req := services.Request{}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, services.Failure(fmt.Errorf("invalid JSON body: %w", err)))
			return
		}
	}

	entry, ok := s.registry.Entry(domain, service)
	if !ok {
		writeJSON(w, http.StatusNotFound, services.Failure(fmt.Errorf("%s.%s: %w", domain, service, services.ErrServiceNotFound)))
		return
	}
	if s.options.ValidateRequests {
		if err := services.ValidateRequest(entry.Schema, req); err != nil {
			writeJSON(w, http.StatusBadRequest, services.Failure(err))
			return
		}
	}

	ctx := r.Context()
	if traceID := r.Header.Get("X-Trace-Id"); traceID != "" {
		ctx = tracing.WithTraceID(ctx, traceID)
	}
	ctx = tracing.NewRequestContext(ctx)
	ctx, cancel := context.WithTimeout(ctx, s.options.RequestTimeout)
	defer cancel()

	start := time.Now()
	resp := s.registry.Invoke(ctx, domain, service, req)
	s.audit.ServiceCall(ctx, clientIP(r), domain, service, resp.Success(), time.Since(start))

	w.Header().Set("X-Request-Id", tracing.GetRequestID(ctx))
	w.Header().Set("X-Trace-Id", tracing.GetTraceID(ctx))
	writeJSON(w, http.StatusOK, resp)
}

// handleEvents streams bus events over a websocket. The optional pattern
// query parameter filters events, e.g. "telegram.*".
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		writeJSON(w, http.StatusServiceUnavailable, services.Failure(errors.New("server is shutting down")))
		return
	}

	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = "*"
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	id, err := gonanoid.New()
	if err != nil {
		id = tracing.NewRequestID()
	}
	client := &streamClient{
		id:          id,
		pattern:     pattern,
		ip:          clientIP(r),
		connectedAt: time.Now(),
		conn:        conn,
		send:        make(chan []byte, clientQueueSize),
	}
	s.broadcaster.add(client)
	s.logger.Info().Str("clientId", id).Str("ip", client.ip).Str("pattern", pattern).Msg("Event subscriber connected")

	go s.broadcaster.writeLoop(client)
	s.readLoop(client)
}

// readLoop discards inbound frames until the peer disconnects.
func (s *Server) readLoop(c *streamClient) {
	defer func() {
		s.broadcaster.remove(c.id)
		s.logger.Info().Str("clientId", c.id).Msg("Event subscriber disconnected")
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * pingPeriod))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * pingPeriod))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Str("clientId", c.id).Msg("WebSocket error")
			}
			return
		}
	}
}

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	clients := s.broadcaster.Clients()
	writeJSON(w, http.StatusOK, map[string]any{
		"clients": clients,
		"count":   len(clients),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
