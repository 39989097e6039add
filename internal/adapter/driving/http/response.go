package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/repscreen/repscreen/internal/application"
	"github.com/repscreen/repscreen/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// StartScanRequest is the JSON body for the start scan endpoint. Entries may
// be given as an array or as raw newline-separated text in Text.
type StartScanRequest struct {
	ActorID   string   `json:"actor_id,omitempty"`
	EntryKind string   `json:"entry_kind"`
	Entries   []string `json:"entries,omitempty"`
	Text      string   `json:"text,omitempty"`
}

// AddCredentialRequest is the JSON body for the add credential endpoint.
type AddCredentialRequest struct {
	Key string `json:"key"`
}

// FindingResponse is the JSON representation of one positive lookup result.
type FindingResponse struct {
	Entry       string `json:"entry"`
	SignalCount int    `json:"signal_count"`
}

// ScanResponse is the JSON representation of a scan job snapshot.
type ScanResponse struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Processed int               `json:"processed"`
	Total     int               `json:"total"`
	Findings  []FindingResponse `json:"findings"`
}

// CredentialResponse is the JSON representation of one pool credential. The
// secret is never echoed; Digest identifies it.
type CredentialResponse struct {
	Digest    string `json:"digest"`
	Owner     string `json:"owner"`
	Usage     int    `json:"usage"`
	Remaining int    `json:"remaining"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// toScanResponse converts a job snapshot to its JSON representation.
func toScanResponse(snap application.Snapshot) ScanResponse {
	findings := make([]FindingResponse, 0, len(snap.Findings))
	for _, f := range snap.Findings {
		findings = append(findings, FindingResponse{Entry: f.Entry, SignalCount: f.SignalCount})
	}

	return ScanResponse{
		ID:        snap.ID,
		Status:    string(snap.Status),
		Processed: snap.Processed,
		Total:     snap.Total,
		Findings:  findings,
	}
}

// toCredentialResponse converts a pool credential and its usage to JSON.
func toCredentialResponse(cred model.Credential, usage int, active bool) CredentialResponse {
	remaining := application.HardDailyCap - usage
	if remaining < 0 {
		remaining = 0
	}

	return CredentialResponse{
		Digest:    cred.Digest,
		Owner:     cred.Owner,
		Usage:     usage,
		Remaining: remaining,
		Active:    active,
		CreatedAt: cred.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func healthResponse() HealthResponse {
	return HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	}
}
