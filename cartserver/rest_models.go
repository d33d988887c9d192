// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cartserver

import "encoding/json"

// ListResponse is returned by GET /v1/{table}
type ListResponse struct {
	Table   string            `json:"table"`
	Records []json.RawMessage `json:"records"`
}

// BatchRequest is the body of POST /v1/{table}/batch
type BatchRequest struct {
	Records []json.RawMessage `json:"records"`
}

// BatchResponse acknowledges a stored batch
type BatchResponse struct {
	Accepted int `json:"accepted"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status string `json:"status"`
}
