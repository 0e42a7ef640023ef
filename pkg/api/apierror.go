// Package api serves the protocol over HTTP. Errors are RFC 7807 problem
// details carrying the protocol error code.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`

	// Code and Name identify the protocol error, when there is one.
	Code uint32 `json:"code,omitempty"`
	Name string `json:"name,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

const problemBase = "https://transmuter.dev/errors/"

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:   fmt.Sprintf("%s%d", problemBase, status),
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// WriteErrorR writes an RFC 7807 response enriched with the request path
// and request ID.
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:     fmt.Sprintf("%s%d", problemBase, status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  w.Header().Get("X-Request-ID"),
	})
}

// WriteProtocolError maps err to a problem. Protocol errors keep their code
// and detail; anything else is an internal error whose text is logged and
// never sent.
func WriteProtocolError(w http.ResponseWriter, r *http.Request, err error) {
	var perr *contracts.Error
	if !errors.As(err, &perr) {
		WriteInternal(w, err)
		return
	}
	status := StatusFor(perr.Code)
	writeProblem(w, &ProblemDetail{
		Type:     problemBase + perr.Code.Name(),
		Title:    perr.Code.Message(),
		Status:   status,
		Detail:   err.Error(),
		Instance: r.URL.Path,
		TraceID:  w.Header().Get("X-Request-ID"),
		Code:     uint32(perr.Code),
		Name:     perr.Code.Name(),
	})
}

// StatusFor returns the HTTP status of a protocol error code.
func StatusFor(code contracts.ErrorCode) int {
	if code == contracts.CodeSerializationIssue {
		return http.StatusBadRequest
	}
	switch code.Kind() {
	case contracts.KindConfiguration:
		return http.StatusBadRequest
	case contracts.KindEligibility, contracts.KindArithmetic:
		return http.StatusUnprocessableEntity
	case contracts.KindTemporal:
		return http.StatusTooEarly
	case contracts.KindStateConflict:
		return http.StatusConflict
	case contracts.KindAuthorization:
		return http.StatusForbidden
	case contracts.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeProblem(w http.ResponseWriter, p *ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

// WriteUnauthorized writes a 401 error response.
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="transmuter"`)
	WriteError(w, http.StatusUnauthorized, "Unauthorized", detail)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusNotFound, "Not Found", detail)
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but never exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
