package records

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"tns-records/internal/logging"
	"tns-records/internal/observability"
	"tns-records/internal/planner"
)

// TenantHeader names the tenant when the body does not.
const TenantHeader = "X-Tenant-ID"

// DefaultMaxBodyBytes caps request bodies.
const DefaultMaxBodyBytes int64 = 1 << 20

// Querier runs a compiled records query.
type Querier interface {
	Query(ctx context.Context, tenantID string, spec planner.QuerySpec) (*Result, error)
}

// HandlerConfig configures the HTTP handler.
type HandlerConfig struct {
	MaxBodyBytes int64
	Security     *observability.SecurityMetrics
}

// Handler serves POST /records.
type Handler struct {
	querier  Querier
	decoder  *Decoder
	maxBytes int64
	security *observability.SecurityMetrics
}

// NewHandler wraps querier in an HTTP handler.
func NewHandler(querier Querier, cfg HandlerConfig) *Handler {
	maxBytes := cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	return &Handler{
		querier:  querier,
		decoder:  NewDecoder(),
		maxBytes: maxBytes,
		security: cfg.Security,
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    planner.ErrorKind `json:"kind"`
	Message string            `json:"message"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, planner.Errorf(planner.KindInvalidQuery, "method %s not allowed", r.Method))
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, planner.Errorf(planner.KindInvalidQuery, "request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, planner.Errorf(planner.KindInvalidQuery, "failed to read request body"))
		return
	}

	req, err := h.decoder.Decode(data, r.Header.Get(TenantHeader))
	if err != nil {
		h.fail(w, r, "", err)
		return
	}

	result, err := h.querier.Query(r.Context(), req.Tenant, req.Spec())
	if err != nil {
		h.fail(w, r, req.Tenant, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		logging.FromContext(r.Context()).Error("failed to encode records response", slog.String("error", err.Error()))
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, tenantID string, err error) {
	kind := planner.KindOf(err)
	if kind == planner.KindUnknownTenant && h.security != nil {
		h.security.RecordUnknownTenant(r.Context(), tenantID)
	}
	writeError(w, StatusFor(kind), err)
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind planner.ErrorKind) int {
	switch {
	case kind == planner.KindUnknownTenant:
		return http.StatusNotFound
	case kind == planner.KindQueryTimeout:
		return http.StatusGatewayTimeout
	case kind.IsClientError():
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	kind := planner.KindOf(err)
	message := "internal error"
	var pe *planner.Error
	if kind != planner.KindInternal && errors.As(err, &pe) {
		message = pe.Message
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{Kind: kind, Message: message}})
}
