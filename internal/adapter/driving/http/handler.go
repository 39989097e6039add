// Package httphandler is the HTTP driving adapter that serves the REST API.
package httphandler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"

	"github.com/repscreen/repscreen/internal/application"
	"github.com/repscreen/repscreen/internal/domain/model"
	"github.com/repscreen/repscreen/internal/domain/port/driven"
)

// defaultActorID attributes unattributed triggers to a single logical actor,
// so anonymous API callers share one debounce/cooldown lane.
const defaultActorID = "default"

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	store    driven.UsageStore
	scanSvc  *application.ScanService
	provider *application.CredentialProvider
	rotator  *application.Rotator
	owner    string
	logger   *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	store driven.UsageStore,
	scanSvc *application.ScanService,
	provider *application.CredentialProvider,
	rotator *application.Rotator,
	owner string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		store:    store,
		scanSvc:  scanSvc,
		provider: provider,
		rotator:  rotator,
		owner:    owner,
		logger:   logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /api/v1/credentials", h.ListCredentials)
	mux.HandleFunc("POST /api/v1/credentials", h.AddCredential)
	mux.HandleFunc("POST /api/v1/scans", h.StartScan)
	mux.HandleFunc("GET /api/v1/scans/{id}", h.GetScan)
	mux.HandleFunc("POST /api/v1/scans/{id}/cancel", h.CancelScan)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// StartScan triggers a new scan job. Entries may arrive as a JSON array or as
// raw newline-separated text; blank lines are dropped and values trimmed.
// Admission errors map to distinct status codes so callers can tell waiting
// (429) from fixing their input (422) from provisioning (412).
func (h *Handler) StartScan(w http.ResponseWriter, r *http.Request) {
	var req StartScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	kind := model.EntryKind(req.EntryKind)
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("entry_kind must be %q or %q", model.EntryKindAddress, model.EntryKindName))
		return
	}

	entries := req.Entries
	if len(entries) == 0 && req.Text != "" {
		entries = model.ParseEntries(req.Text)
	}

	actorID := req.ActorID
	if actorID == "" {
		actorID = defaultActorID
	}

	job, err := h.scanSvc.StartScan(r.Context(), actorID, entries, kind)
	if err != nil {
		h.writeScanError(w, err)
		return
	}

	snap := job.Snapshot()
	writeJSON(w, http.StatusAccepted, toScanResponse(snap))
}

// GetScan returns a point-in-time snapshot of a job: status, progress, and
// the findings accumulated so far.
func (h *Handler) GetScan(w http.ResponseWriter, r *http.Request) {
	job, ok := h.scanSvc.Job(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}

	writeJSON(w, http.StatusOK, toScanResponse(job.Snapshot()))
}

// CancelScan requests cooperative cancellation of a job. The scan stops
// before its next entry; cancelling a finished job is a no-op.
func (h *Handler) CancelScan(w http.ResponseWriter, r *http.Request) {
	job, ok := h.scanSvc.Job(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}

	job.Cancel()
	writeJSON(w, http.StatusAccepted, toScanResponse(job.Snapshot()))
}

// ListCredentials returns the owner's credential pool with today's usage.
// Secrets are reported as digest prefixes, never as plaintext.
func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := h.store.ListForOwner(r.Context(), h.owner)
	if errors.Is(err, driven.ErrEncryptionKeyNotSet) {
		writeError(w, http.StatusPreconditionFailed, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("failed to list credentials", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	active := h.provider.Active()
	resp := make([]CredentialResponse, 0, len(creds))
	for _, cred := range creds {
		usage, err := h.store.Usage(r.Context(), cred.Value)
		if err != nil {
			h.logger.Error("failed to read usage", "credential", cred.Digest[:8], "error", err)
			// Fail closed in the report as well.
			usage = application.HardDailyCap
		}
		resp = append(resp, toCredentialResponse(cred, usage, cred.Value == active))
	}

	writeJSON(w, http.StatusOK, resp)
}

// AddCredential registers a new vendor credential for the configured owner.
func (h *Handler) AddCredential(w http.ResponseWriter, r *http.Request) {
	var req AddCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	cred := model.Credential{Value: req.Key, Owner: h.owner}
	err := h.store.AddCredential(r.Context(), cred)
	if errors.Is(err, driven.ErrEncryptionKeyNotSet) {
		writeError(w, http.StatusPreconditionFailed, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("failed to add credential", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// First credential registered becomes active immediately, and the rotator
	// is pointed at it; a process that started with an empty pool has no
	// usage watch yet.
	if !h.provider.HasCredential() {
		h.provider.Replace(req.Key)
		h.rotator.Rearm(req.Key)
	}

	w.WriteHeader(http.StatusCreated)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse())
}

// writeScanError maps scan admission errors onto HTTP status codes.
func (h *Handler) writeScanError(w http.ResponseWriter, err error) {
	var cooldownErr *application.CooldownActiveError
	var quotaErr *application.InsufficientQuotaError

	switch {
	case errors.Is(err, application.ErrAlreadyRunning),
		errors.Is(err, application.ErrSuperseded):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &cooldownErr):
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(math.Ceil(cooldownErr.Remaining.Seconds()))))
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.As(err, &quotaErr):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, application.ErrNoEntries),
		errors.Is(err, application.ErrTooManyEntries):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, application.ErrCredentialRequired):
		writeError(w, http.StatusPreconditionFailed, err.Error())
	default:
		h.logger.Error("scan trigger failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
