// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cartserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mobiletoly/go-cartsync/cartsync"
	"github.com/mobiletoly/go-cartsync/internal/auth"
)

const (
	defaultMaxBatchSize = 1000
	maxBodyBytes        = 16 << 20
)

// Handlers serves the record API on top of a Backend.
type Handlers struct {
	backend      Backend
	logger       *slog.Logger
	maxBatchSize int
}

func NewHandlers(backend Backend, maxBatchSize int, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBatchSize <= 0 {
		maxBatchSize = defaultMaxBatchSize
	}
	return &Handlers{backend: backend, logger: logger, maxBatchSize: maxBatchSize}
}

func (h *Handlers) table(w http.ResponseWriter, r *http.Request) (cartsync.Table, bool) {
	table, err := cartsync.ParseTable(r.PathValue("table"))
	if err != nil {
		writeError(w, h.logger, http.StatusNotFound, "unknown_table", err.Error())
		return "", false
	}
	return table, true
}

// HandleList returns every record of a table
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	table, ok := h.table(w, r)
	if !ok {
		return
	}
	records, err := h.backend.List(r.Context(), table)
	if err != nil {
		h.logger.Error("Failed to list records", "table", table, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "list_failed", "Failed to list records")
		return
	}
	if records == nil {
		records = []json.RawMessage{}
	}
	writeJSON(w, h.logger, http.StatusOK, ListResponse{Table: string(table), Records: records})
}

// HandleBatch upserts a batch of records into a table
func (h *Handlers) HandleBatch(w http.ResponseWriter, r *http.Request) {
	table, ok := h.table(w, r)
	if !ok {
		return
	}
	var req BatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "Failed to parse batch request")
		return
	}
	if len(req.Records) > h.maxBatchSize {
		writeError(w, h.logger, http.StatusRequestEntityTooLarge, "batch_too_large", "Batch exceeds the maximum size")
		return
	}

	err := h.backend.Upsert(r.Context(), table, req.Records)
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidRecord):
		writeError(w, h.logger, http.StatusBadRequest, "invalid_record", err.Error())
		return
	case errors.Is(err, ErrPinConflict):
		writeError(w, h.logger, http.StatusConflict, "pin_conflict", err.Error())
		return
	default:
		deviceID, _ := auth.GetDeviceID(r.Context())
		h.logger.Error("Failed to store batch", "table", table, "device_id", deviceID, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "batch_failed", "Failed to store batch")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, BatchResponse{Accepted: len(req.Records)})
}

// HandleDelete removes a record; deleting a missing record succeeds
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	table, ok := h.table(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if id == "" {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "id is required")
		return
	}
	if err := h.backend.Delete(r.Context(), table, id); err != nil {
		h.logger.Error("Failed to delete record", "table", table, "id", id, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "delete_failed", "Failed to delete record")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleUserByPin returns the user holding a pin
func (h *Handlers) HandleUserByPin(w http.ResponseWriter, r *http.Request) {
	pin := r.PathValue("pin")
	raw, err := h.backend.FindUserByPin(r.Context(), pin)
	if errors.Is(err, ErrNotFound) {
		writeError(w, h.logger, http.StatusNotFound, "not_found", "No user with this pin")
		return
	}
	if err != nil {
		h.logger.Error("Failed to look up pin", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "lookup_failed", "Failed to look up pin")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// HandleHealth reports whether the backend is reachable
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.backend.Ping(r.Context()); err != nil {
		h.logger.Warn("Health check failed", "error", err)
		writeJSON(w, h.logger, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
		return
	}
	writeJSON(w, h.logger, http.StatusOK, HealthResponse{Status: "healthy"})
}

// Routes mounts the API. Everything except /health requires a bearer token.
func (h *Handlers) Routes(jwtAuth *JWTAuth) http.Handler {
	protect := func(fn http.HandlerFunc) http.Handler {
		return jwtAuth.Middleware(fn)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.Handle("GET /v1/users/by-pin/{pin}", protect(h.HandleUserByPin))
	mux.Handle("GET /v1/{table}", protect(h.HandleList))
	mux.Handle("POST /v1/{table}/batch", protect(h.HandleBatch))
	mux.Handle("DELETE /v1/{table}/{id}", protect(h.HandleDelete))
	return LoggingMiddleware(mux, h.logger)
}

// LoggingMiddleware logs method, path, status and duration of every request
func LoggingMiddleware(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start))
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

// writeError writes a standardized error response
func writeError(w http.ResponseWriter, logger *slog.Logger, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: errorCode, Message: message})

	logger.Debug("HTTP error response",
		"status_code", statusCode,
		"error_code", errorCode,
		"message", message)
}
