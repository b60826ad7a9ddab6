// Package http contains the chi HTTP handlers of the client-facing seatlock
// API. Handlers translate between wire shapes and the service layer and own
// no business logic.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	licenseErrors "seatlock/internal/errors"
	"seatlock/internal/services"
	"seatlock/pkg/contracts/domain"
)

const tracerName = "seatlock/transport/http"

// LicenseHandler serves license status, activation and entitlement queries.
type LicenseHandler struct {
	service services.LicenseService
	logger  *slog.Logger
}

// NewLicenseHandler creates a license handler.
func NewLicenseHandler(service services.LicenseService, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "license")),
	}
}

// ActivationRequest is the body of POST /license/activate.
type ActivationRequest struct {
	LicenseKey string `json:"license_key"`
	Artifact   string `json:"artifact"`
}

// Bind implements render.Binder.
func (a *ActivationRequest) Bind(r *http.Request) error {
	if a.LicenseKey == "" {
		return errors.New("license_key is required")
	}
	if len(a.LicenseKey) < 8 {
		return errors.New("license_key is too short")
	}
	if a.Artifact == "" {
		return errors.New("artifact is required")
	}
	return nil
}

// ActivationResponse is the body returned by POST /license/activate.
type ActivationResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// FeatureResponse is the body of GET /license/features/{name}.
type FeatureResponse struct {
	Feature string `json:"feature"`
	Enabled bool   `json:"enabled"`
}

// EmployeeLimitResponse wraps the limit result with the add-permission
// decision: removals are always permitted, additions only below the cap.
type EmployeeLimitResponse struct {
	domain.EmployeeLimitResult
	AddAllowed bool `json:"addAllowed"`
}

// Routes returns the license endpoint router.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/status", h.handleStatus)
	r.Post("/activate", h.handleActivate)
	r.Post("/deactivate", h.handleDeactivate)
	r.Get("/features/{name}", h.handleFeature)
	r.Get("/employee-limit", h.handleEmployeeLimit)
	r.Get("/integrity", h.handleIntegrity)

	return r
}

func (h *LicenseHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "license.status")
	defer span.End()

	status, err := h.service.GetStatus(ctx)
	if err != nil {
		licenseErrors.WriteError(w, licenseErrors.ErrInternalServer)
		return
	}

	span.SetAttributes(
		attribute.String("license.state", string(status.State)),
		attribute.Int("license.days_remaining", status.DaysRemaining),
	)
	render.JSON(w, r, status)
}

func (h *LicenseHandler) handleActivate(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "license.activate")
	defer span.End()

	var req ActivationRequest
	if err := render.Bind(r, &req); err != nil {
		licenseErrors.WriteError(w, licenseErrors.NewWithDetails(
			http.StatusBadRequest, "INVALID_REQUEST", "invalid activation request", err.Error()))
		return
	}

	if err := h.service.Activate(ctx, req.LicenseKey, req.Artifact); err != nil {
		h.writeActivationError(ctx, w, err)
		return
	}

	render.JSON(w, r, &ActivationResponse{
		Success:   true,
		Message:   "license activated on this device",
		Timestamp: time.Now().UTC(),
	})
}

func (h *LicenseHandler) writeActivationError(ctx context.Context, w http.ResponseWriter, err error) {
	h.logger.WarnContext(ctx, "Activation failed", slog.String("error", err.Error()))

	var conflict *licenseErrors.ActivationConflictError
	var format *licenseErrors.FormatError
	switch {
	case errors.As(err, &conflict):
		licenseErrors.WriteError(w, licenseErrors.NewWithDetails(
			http.StatusConflict, licenseErrors.CodeActivatedElsewhere,
			"license already activated on another device", conflict.LicenseKey))
	case errors.As(err, &format), licenseErrors.IsAuthenticationError(err):
		licenseErrors.WriteError(w, licenseErrors.NewWithDetails(
			http.StatusUnprocessableEntity, licenseErrors.CodeLicenseInvalid,
			"license artifact rejected", err.Error()))
	case licenseErrors.IsTransportError(err):
		licenseErrors.WriteError(w, licenseErrors.New(
			http.StatusBadGateway, "AUTHORITY_UNREACHABLE", "licensing authority unreachable"))
	default:
		licenseErrors.WriteError(w, licenseErrors.ErrInternalServer)
	}
}

func (h *LicenseHandler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "license.deactivate")
	defer span.End()

	if err := h.service.Deactivate(ctx); err != nil {
		if errors.Is(err, licenseErrors.ErrNoLicense) {
			licenseErrors.WriteError(w, licenseErrors.ErrLicenseNotFound)
			return
		}
		licenseErrors.WriteError(w, licenseErrors.ErrInternalServer)
		return
	}

	render.JSON(w, r, &ActivationResponse{
		Success:   true,
		Message:   "license deactivated",
		Timestamp: time.Now().UTC(),
	})
}

func (h *LicenseHandler) handleFeature(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "license.feature")
	defer span.End()

	name := chi.URLParam(r, "name")
	enabled := h.service.FeatureEnabled(ctx, name)

	span.SetAttributes(
		attribute.String("license.feature", name),
		attribute.Bool("license.feature_enabled", enabled),
	)
	render.JSON(w, r, &FeatureResponse{Feature: name, Enabled: enabled})
}

func (h *LicenseHandler) handleEmployeeLimit(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "license.employee_limit")
	defer span.End()

	active, err := strconv.Atoi(r.URL.Query().Get("active"))
	if err != nil || active < 0 {
		licenseErrors.WriteError(w, licenseErrors.NewWithDetails(
			http.StatusBadRequest, "INVALID_REQUEST",
			"query parameter active must be a non-negative integer", r.URL.Query().Get("active")))
		return
	}

	result := h.service.EmployeeLimit(ctx, active)
	render.JSON(w, r, &EmployeeLimitResponse{
		EmployeeLimitResult: result,
		AddAllowed:          result.Unlimited || active < result.Limit,
	})
}

func (h *LicenseHandler) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "license.integrity")
	defer span.End()

	render.JSON(w, r, h.service.Integrity(ctx))
}
