// Package api exposes the trust layer over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"stockguard/internal/archive"
	"stockguard/internal/auth"
	"stockguard/internal/detector"
	"stockguard/internal/ledger"
	"stockguard/internal/schema"
	"stockguard/internal/throttle"
)

// Handler wires the trust layer components to HTTP routes.
type Handler struct {
	ledger    *ledger.Ledger
	detector  *detector.Detector
	guard     *throttle.Guard
	auth      *auth.Service
	validator *schema.Validator
	archiver  *archive.Archiver
	logger    *slog.Logger
	started   time.Time
}

// NewHandler creates the API handler.
func NewHandler(l *ledger.Ledger, d *detector.Detector, g *throttle.Guard, a *auth.Service, v *schema.Validator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		ledger:    l,
		detector:  d,
		guard:     g,
		auth:      a,
		validator: v,
		logger:    logger,
		started:   time.Now(),
	}
}

// WithArchiver enables the archive export endpoint.
func (h *Handler) WithArchiver(a *archive.Archiver) *Handler {
	h.archiver = a
	return h
}

// RegisterRoutes registers all routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.HandleHealth)
	mux.HandleFunc("POST /v1/auth/login", h.HandleLogin)
	mux.HandleFunc("POST /v1/auth/logout", h.requireAuth(h.HandleLogout))

	mux.HandleFunc("POST /v1/movements", h.requirePermission(auth.PermRecordMovement, h.HandleMovement))
	mux.HandleFunc("GET /v1/audit/entity/{kind}/{id}", h.requirePermission(auth.PermViewAudit, h.HandleEntityHistory))
	mux.HandleFunc("GET /v1/audit/actor/{id}", h.requirePermission(auth.PermViewAudit, h.HandleActorHistory))
	mux.HandleFunc("POST /v1/audit/verify", h.requirePermission(auth.PermViewAudit, h.HandleVerifyChain))
	mux.HandleFunc("POST /v1/audit/archive", h.requirePermission(auth.PermViewAudit, h.HandleArchive))

	mux.HandleFunc("GET /v1/alerts/pending", h.requirePermission(auth.PermViewAudit, h.HandlePendingAlerts))
	mux.HandleFunc("GET /v1/reports/security", h.requirePermission(auth.PermViewAudit, h.HandleSecurityReport))

	mux.HandleFunc("GET /v1/approvals", h.requirePermission(auth.PermApproveMovement, h.HandleListApprovals))
	mux.HandleFunc("POST /v1/approvals/{id}/decide", h.requirePermission(auth.PermApproveMovement, h.HandleDecideApproval))

	mux.HandleFunc("GET /v1/stats", h.requireAuth(h.HandleStats))
}

// HandleHealth handles GET /healthz requests.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Device   string `json:"device,omitempty"`
}

// HandleLogin handles POST /v1/auth/login requests.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", "malformed login request")
		return
	}
	if req.Username == "" || req.Password == "" {
		h.writeError(w, http.StatusBadRequest, "missing_credentials", "username and password are required")
		return
	}

	session, err := h.auth.Login(r.Context(), req.Username, req.Password, clientAddr(r), req.Device)
	switch {
	case errors.Is(err, auth.ErrAccountLocked):
		h.writeError(w, http.StatusTooManyRequests, "account_locked", err.Error())
	case errors.Is(err, auth.ErrAccountDisabled):
		h.writeError(w, http.StatusForbidden, "account_disabled", "account is disabled")
	case errors.Is(err, auth.ErrInvalidCredentials):
		h.writeError(w, http.StatusUnauthorized, "invalid_credentials", err.Error())
	case err != nil:
		h.logger.Error("login failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "login_error", "login failed")
	default:
		h.writeJSON(w, http.StatusOK, map[string]any{
			"token":      session.Token,
			"expires_at": session.ExpiresAt,
			"role":       session.Role,
		})
	}
}

// HandleLogout handles POST /v1/auth/logout requests.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request, session *auth.Session) {
	if err := h.auth.Logout(r.Context(), session.Token, clientAddr(r)); err != nil {
		h.logger.Error("logout failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "logout_error", "logout failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

type movementRequest struct {
	Action      schema.Action     `json:"action"`
	EntityKind  schema.EntityKind `json:"entity_kind"`
	EntityID    string            `json:"entity_id"`
	Quantity    int64             `json:"quantity"`
	StockBefore int64             `json:"stock_before"`
	StockAfter  int64             `json:"stock_after"`
	Device      string            `json:"device,omitempty"`
	Location    string            `json:"location,omitempty"`
	PriorState  string            `json:"prior_state,omitempty"`
	NewState    string            `json:"new_state,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	Timestamp   *time.Time        `json:"timestamp,omitempty"`
}

// HandleMovement handles POST /v1/movements requests: the guarded
// record-then-analyze pipeline.
func (h *Handler) HandleMovement(w http.ResponseWriter, r *http.Request, session *auth.Session) {
	var req movementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", "malformed movement")
		return
	}

	if blocked, remaining := h.guard.IsActorBlocked(session.UserID); blocked {
		w.Header().Set("Retry-After", strconv.Itoa(int(remaining.Seconds())+1))
		h.writeError(w, http.StatusForbidden, "actor_blocked",
			fmt.Sprintf("actor is blocked pending review, retry in %s", remaining.Round(time.Second)))
		return
	}

	// Keep the client's zone offset: the off-hours rule reads the local
	// wall-clock hour. The ledger normalizes to UTC when it stores.
	ts := time.Now()
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}
	movement := &schema.Movement{
		EventID:     uuid.New(),
		Timestamp:   ts,
		ActorID:     session.UserID,
		ActorName:   session.Name,
		Action:      req.Action,
		EntityKind:  req.EntityKind,
		EntityID:    req.EntityID,
		Quantity:    req.Quantity,
		StockBefore: req.StockBefore,
		StockAfter:  req.StockAfter,
		ClientAddr:  clientAddr(r),
		Device:      req.Device,
		Location:    req.Location,
		PriorState:  req.PriorState,
		NewState:    req.NewState,
		Reason:      req.Reason,
	}

	if err := h.validator.Validate(movement); err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, "invalid_movement", err.Error())
		return
	}

	record, err := h.ledger.Append(r.Context(), ledger.Entry{
		Timestamp:   movement.Timestamp,
		ActorID:     movement.ActorID,
		ActorName:   movement.ActorName,
		Action:      movement.Action,
		EntityKind:  movement.EntityKind,
		EntityID:    movement.EntityID,
		Quantity:    movement.Quantity,
		StockBefore: movement.StockBefore,
		StockAfter:  movement.StockAfter,
		ClientAddr:  movement.ClientAddr,
		Device:      movement.Device,
		Location:    movement.Location,
		PriorState:  movement.PriorState,
		NewState:    movement.NewState,
		Reason:      movement.Reason,
	})
	if err != nil {
		// Fail closed: without a durable audit record the movement
		// does not happen.
		h.logger.Error("audit append failed", "actor_id", movement.ActorID, "error", err)
		h.writeError(w, http.StatusServiceUnavailable, "audit_unavailable", "audit ledger unavailable")
		return
	}

	alerts := h.detector.Analyze(r.Context(), movement)

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"record_id": record.ID,
		"hash":      record.Hash,
		"alerts":    alerts,
	})
}

// HandleEntityHistory handles GET /v1/audit/entity/{kind}/{id} requests.
func (h *Handler) HandleEntityHistory(w http.ResponseWriter, r *http.Request, session *auth.Session) {
	kind := schema.EntityKind(r.PathValue("kind"))
	if !kind.IsValid() {
		h.writeError(w, http.StatusBadRequest, "invalid_kind", "unknown entity kind")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := h.ledger.HistoryForEntity(r.Context(), kind, r.PathValue("id"), limit)
	if err != nil {
		h.logger.Error("entity history query failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "query_error", "history query failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"total":   len(records),
	})
}

// HandleActorHistory handles GET /v1/audit/actor/{id} requests.
func (h *Handler) HandleActorHistory(w http.ResponseWriter, r *http.Request, session *auth.Session) {
	from, to, err := parseWindow(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_window", err.Error())
		return
	}

	records, err := h.ledger.HistoryForActor(r.Context(), r.PathValue("id"), from, to)
	if err != nil {
		h.logger.Error("actor history query failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "query_error", "history query failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"total":   len(records),
	})
}

type verifyRequest struct {
	FromID uint64 `json:"from_id,omitempty"`
}

// HandleVerifyChain handles POST /v1/audit/verify requests.
func (h *Handler) HandleVerifyChain(w http.ResponseWriter, r *http.Request, session *auth.Session) {
	var req verifyRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_body", "malformed verify request")
			return
		}
	}

	intact, broken, err := h.ledger.VerifyChain(r.Context(), req.FromID)
	if err != nil {
		h.logger.Error("chain verification failed", "error", err)
		h.writeError(w, http.StatusServiceUnavailable, "verify_error", "chain verification failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"intact":         intact,
		"broken_records": broken,
		"checked_up_to":  h.ledger.Sequence(),
	})
}

type archiveRequest struct {
	FromID uint64 `json:"from_id"`
	ToID   uint64 `json:"to_id"`
}

// HandleArchive handles POST /v1/audit/archive requests. Only ranges
// that pass chain verification are exported.
func (h *Handler) HandleArchive(w http.ResponseWriter, r *http.Request, session *auth.Session) {
	if h.archiver == nil {
		h.writeError(w, http.StatusServiceUnavailable, "archiving_disabled", "archiving is not configured")
		return
	}

	var req archiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", "malformed archive request")
		return
	}

	manifest, err := h.archiver.Export(r.Context(), req.FromID, req.ToID)
	switch {
	case errors.Is(err, archive.ErrChainNotIntact):
		h.writeError(w, http.StatusConflict, "chain_broken", "range failed verification and was not archived")
	case errors.Is(err, archive.ErrEmptyRange):
		h.writeError(w, http.StatusNotFound, "empty_range", "no records in requested range")
	case err != nil:
		h.logger.Error("archive export failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "archive_error", "export failed")
	default:
		h.writeJSON(w, http.StatusOK, manifest)
	}
}

// HandlePendingAlerts handles GET /v1/alerts/pending requests.
func (h *Handler) HandlePendingAlerts(w http.ResponseWriter, r *http.Request, session *auth.Session) {
	alerts := h.detector.PendingAlerts()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"total":  len(alerts),
	})
}

// HandleSecurityReport handles GET /v1/reports/security requests.
func (h *Handler) HandleSecurityReport(w http.ResponseWriter, r *http.Request, session *auth.Session) {
	from, to, err := parseWindow(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_window", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, h.detector.SecurityReport(from, to))
}

// HandleListApprovals handles GET /v1/approvals requests.
func (h *Handler) HandleListApprovals(w http.ResponseWriter, r *http.Request, session *auth.Session) {
	approvals := h.detector.PendingApprovals()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"approvals": approvals,
		"total":     len(approvals),
	})
}

type decideRequest struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason,omitempty"`
}

// HandleDecideApproval handles POST /v1/approvals/{id}/decide requests.
// The decision itself lands in the audit ledger as an APPROVAL record.
func (h *Handler) HandleDecideApproval(w http.ResponseWriter, r *http.Request, session *auth.Session) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "invalid approval id")
		return
	}

	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", "malformed decision")
		return
	}

	approval, err := h.detector.DecideApproval(id, req.Approve, session.UserID)
	switch {
	case errors.Is(err, detector.ErrApprovalNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "approval not found")
		return
	case errors.Is(err, detector.ErrApprovalDecided):
		h.writeError(w, http.StatusConflict, "already_decided", "approval already decided")
		return
	case err != nil:
		h.logger.Error("approval decision failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "decide_error", "decision failed")
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = string(approval.Status)
	}
	if _, err := h.ledger.Append(r.Context(), ledger.Entry{
		ActorID:    approval.ActorID,
		ActorName:  approval.ActorName,
		Action:     schema.ActionApproval,
		EntityKind: schema.EntityUser,
		EntityID:   approval.ActorID,
		ClientAddr: clientAddr(r),
		Reason:     reason,
		ApproverID: session.UserID,
	}); err != nil {
		h.logger.Error("recording approval decision failed", "approval_id", approval.ID, "error", err)
	}

	h.writeJSON(w, http.StatusOK, approval)
}

// HandleStats handles GET /v1/stats requests.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request, session *auth.Session) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"ledger_records": h.ledger.Sequence(),
		"throttle":       h.guard.Stats(),
		"uptime":         time.Since(h.started).Round(time.Second).String(),
	})
}

func parseWindow(r *http.Request) (time.Time, time.Time, error) {
	var from, to time.Time
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, fmt.Errorf("invalid from timestamp: %v", err)
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, fmt.Errorf("invalid to timestamp: %v", err)
		}
		to = t
	}
	return from, to, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}
