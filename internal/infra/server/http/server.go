// Package httpserver exposes HTTP handlers for managing exchange connections.
package httpserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/feedlink/errs"
	"github.com/coachpo/feedlink/internal/app/service"
)

const (
	maxJSONBodyBytes int64 = 1 << 20 // 1 MiB

	connectionsPath        = "/connections"
	connectionDetailPrefix = connectionsPath + "/"
	healthPath             = "/healthz"

	connectAction    = "connect"
	disconnectAction = "disconnect"
)

// ConnectionService is the lifecycle surface served over HTTP.
type ConnectionService interface {
	Connect(ctx context.Context, exchange, base, quote string) (service.ConnectionResponse, error)
	Disconnect(ctx context.Context, exchange string) (service.ConnectionResponse, error)
	Status(exchange string) (service.ConnectionResponse, error)
	List() []service.ConnectionResponse
}

type handlerFunc func(http.ResponseWriter, *http.Request)

type httpServer struct {
	connections ConnectionService
}

type connectPayload struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// NewHandler creates an HTTP handler for connection management operations.
func NewHandler(connections ConnectionService) http.Handler {
	server := &httpServer{connections: connections}
	mux := http.NewServeMux()

	mux.Handle(connectionsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.listConnections,
	}))
	mux.Handle(connectionDetailPrefix, http.HandlerFunc(server.handleConnection))
	mux.Handle(healthPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.health,
	}))

	return withCORS(mux)
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

func (s *httpServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *httpServer) listConnections(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"connections": s.connections.List()})
}

func (s *httpServer) handleConnection(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, connectionDetailPrefix), "/")
	if trimmed == "" {
		writeError(w, http.StatusNotFound, "exchange name required")
		return
	}
	parts := strings.Split(trimmed, "/")
	exchange := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		s.getConnection(w, exchange)
	case len(parts) == 2 && parts[1] == connectAction:
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		s.connect(w, r, exchange)
	case len(parts) == 2 && parts[1] == disconnectAction:
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		s.disconnect(w, r, exchange)
	default:
		writeError(w, http.StatusNotFound, "route not found")
	}
}

func (s *httpServer) getConnection(w http.ResponseWriter, exchange string) {
	resp, err := s.connections.Status(exchange)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *httpServer) connect(w http.ResponseWriter, r *http.Request, exchange string) {
	payload, err := decodeConnectPayload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.connections.Connect(r.Context(), exchange, payload.Base, payload.Quote)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *httpServer) disconnect(w http.ResponseWriter, r *http.Request, exchange string) {
	resp, err := s.connections.Disconnect(r.Context(), exchange)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeConnectPayload reads base and quote from the query string; an optional JSON body fills the
// values the query leaves out.
func decodeConnectPayload(r *http.Request) (connectPayload, error) {
	defer func() {
		_ = r.Body.Close()
	}()
	query := r.URL.Query()
	payload := connectPayload{Base: query.Get("base"), Quote: query.Get("quote")}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBodyBytes))
	if err != nil {
		return payload, fmt.Errorf("read payload: %w", err)
	}
	var body connectPayload
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			return payload, fmt.Errorf("decode payload: %w", err)
		}
	}
	if payload.Base == "" {
		payload.Base = body.Base
	}
	if payload.Quote == "" {
		payload.Quote = body.Quote
	}
	return payload, nil
}

func statusForError(err error) int {
	switch errs.CodeOf(err) {
	case errs.CodeInvalid:
		return http.StatusBadRequest
	case errs.CodeNotFound:
		return http.StatusNotFound
	case errs.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	payload := map[string]string{"status": "error", "error": err.Error()}
	if code := errs.CodeOf(err); code != "" {
		payload["code"] = string(code)
	}
	var e *errs.E
	if errors.As(err, &e) && e.Remediation != "" {
		payload["remediation"] = e.Remediation
	}
	writeJSON(w, statusForError(err), payload)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
