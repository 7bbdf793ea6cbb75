// Package api serves the admin permission endpoint and the sync status
// endpoints polled by the product UI.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"connsync/internal/app"
	"connsync/internal/connectors"
	"connsync/internal/internalid"
	"connsync/internal/model"
)

const maxBodyBytes = 1 << 20

// Service is the application surface the API needs.
type Service interface {
	SetPermissions(ctx context.Context, id int64, updates []app.PermissionUpdate) error
	Sync(ctx context.Context, id int64) (string, error)
	SyncIncremental(ctx context.Context, id int64) (string, error)
	Status(ctx context.Context, id int64, live bool) (*app.Status, error)
	History(ctx context.Context, id int64, limit int) ([]*model.SyncOperation, error)
}

var _ Service = (*app.App)(nil)

type Server struct {
	router      chi.Router
	svc         Service
	logger      *slog.Logger
	permissions *jsonschema.Schema
}

// NewServer builds the router.
func NewServer(svc Service, logger *slog.Logger) (*Server, error) {
	sch, err := compilePermissionsSchema()
	if err != nil {
		return nil, err
	}
	s := &Server{
		router:      chi.NewRouter(),
		svc:         svc,
		logger:      logger,
		permissions: sch,
	}
	s.routes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(s.requestLog)

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.router.Route("/connectors/{id}", func(r chi.Router) {
		r.Post("/permissions", s.handlePermissions)
		r.Post("/sync", s.handleSync)
		r.Get("/status", s.handleStatus)
		r.Get("/history", s.handleHistory)
	})
}

// requestLog tags every request with a correlation id.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "dur", time.Since(start), "request_id", reqID)
	})
}

func connectorID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid connector id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}

func (s *Server) handlePermissions(w http.ResponseWriter, r *http.Request) {
	id, err := connectorID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("reading body: %w", err))
		return
	}
	if err := validate(s.permissions, body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req permissionsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	updates := make([]app.PermissionUpdate, 0, len(req.Updates))
	for _, u := range req.Updates {
		updates = append(updates, app.PermissionUpdate{InternalID: u.InternalID, Permission: model.Permission(u.Permission)})
	}
	if err := s.svc.SetPermissions(r.Context(), id, updates); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"updated": len(updates)})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	id, err := connectorID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	start := s.svc.Sync
	if r.URL.Query().Get("incremental") == "true" {
		start = s.svc.SyncIncremental
	}
	runID, err := start(r.Context(), id)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

type statusResponse struct {
	ConnectorID             int64      `json:"connector_id"`
	Provider                string     `json:"provider"`
	Paused                  bool       `json:"paused"`
	LastSyncStatus          string     `json:"last_sync_status,omitempty"`
	LastSyncStartTime       *time.Time `json:"last_sync_start_time,omitempty"`
	LastSyncFinishTime      *time.Time `json:"last_sync_finish_time,omitempty"`
	LastSyncSuccessfulTime  *time.Time `json:"last_sync_successful_time,omitempty"`
	FirstSuccessfulSyncTime *time.Time `json:"first_successful_sync_time,omitempty"`
	FirstSyncProgress       string     `json:"first_sync_progress,omitempty"`
	ErrorType               string     `json:"error_type,omitempty"`
	State                   string     `json:"state,omitempty"`
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := connectorID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	live := r.URL.Query().Get("live") == "true"
	st, err := s.svc.Status(r.Context(), id, live)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	c := st.Connector
	writeJSON(w, http.StatusOK, statusResponse{
		ConnectorID:             c.ID,
		Provider:                string(c.Provider),
		Paused:                  c.PausedAt.Valid,
		LastSyncStatus:          string(c.LastSyncStatus),
		LastSyncStartTime:       timePtr(c.LastSyncStartTime),
		LastSyncFinishTime:      timePtr(c.LastSyncFinishTime),
		LastSyncSuccessfulTime:  timePtr(c.LastSyncSuccessfulTime),
		FirstSuccessfulSyncTime: timePtr(c.FirstSuccessfulSyncTime),
		FirstSyncProgress:       c.FirstSyncProgress,
		ErrorType:               c.ErrorType,
		State:                   string(st.State),
	})
}

type operationResponse struct {
	ID         int64      `json:"id"`
	WorkflowID string     `json:"workflow_id"`
	Operation  string     `json:"operation"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	ErrorType  string     `json:"error_type,omitempty"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := connectorID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit <= 0 || limit > 500 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be between 1 and 500"))
			return
		}
	}
	ops, err := s.svc.History(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	out := make([]operationResponse, 0, len(ops))
	for _, op := range ops {
		out = append(out, operationResponse{
			ID:         op.ID,
			WorkflowID: op.WorkflowID,
			Operation:  op.Operation,
			StartedAt:  op.StartedAt,
			FinishedAt: timePtr(op.FinishedAt),
			Status:     op.Status,
			ErrorType:  op.ErrorType,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var invalidID *internalid.InvalidInternalIDError
	switch {
	case errors.Is(err, connectors.ErrConnectorNotFound):
		return http.StatusNotFound
	case errors.Is(err, app.ErrPaused):
		return http.StatusConflict
	case errors.As(err, &invalidID), errors.Is(err, connectors.ErrInvariant):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	} else {
		s.logger.Warn("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
