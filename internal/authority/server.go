package authority

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	apiErrors "seatlock/internal/errors"
	"seatlock/pkg/contracts/domain"
)

// Metrics holds the authority's Prometheus instruments.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	ActivationsTotal *prometheus.CounterVec
	HeartbeatsTotal  prometheus.Counter
	RequestDuration  *prometheus.HistogramVec
}

// NewMetrics registers the authority metrics on the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "seatlock_authority_requests_total",
			Help: "Total requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		ActivationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "seatlock_authority_activations_total",
			Help: "Activation attempts by result.",
		}, []string{"result"}),
		HeartbeatsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "seatlock_authority_heartbeats_total",
			Help: "Heartbeats recorded.",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "seatlock_authority_request_duration_seconds",
			Help:    "Request handling duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
}

// Server is the HTTP surface of the licensing authority.
type Server struct {
	store       Store
	logger      *slog.Logger
	validate    *validator.Validate
	apiKey      string
	adminAPIKey string
	limiter     *rate.Limiter
	metrics     *Metrics
	startedAt   time.Time
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithRateLimit overrides the validate-endpoint rate limit.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) { s.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates an authority server over the given binding store.
func NewServer(store Store, apiKey, adminAPIKey string, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		store:       store,
		logger:      logger.With(slog.String("component", "authority")),
		validate:    validator.New(),
		apiKey:      apiKey,
		adminAPIKey: adminAPIKey,
		limiter:     rate.NewLimiter(rate.Limit(20), 10),
		startedAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the chi router for the authority endpoints.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey(false))
		r.With(s.rateLimit).Post("/validate", s.handleValidate)
		r.Post("/heartbeat", s.handleHeartbeat)
		r.Get("/status", s.handleStatus)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey(true))
		r.Get("/devices", s.handleDevices)
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// requireAPIKey authenticates requests by the static X-API-Key header. Admin
// endpoints require the admin key.
func (s *Server) requireAPIKey(admin bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			want := s.apiKey
			if admin {
				want = s.adminAPIKey
			}
			if want == "" || r.Header.Get("X-API-Key") != want {
				s.logger.WarnContext(r.Context(), "Rejected request with missing or invalid API key",
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apiErrors.WriteError(w, apiErrors.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimit applies the shared token bucket to activation traffic.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			apiErrors.WriteError(w, apiErrors.ErrRateLimitExceeded)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) observe(endpoint, outcome string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.RequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	s.metrics.RequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// handleValidate dispatches activate, validate and deactivate actions.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	var req domain.ValidateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.observe("validate", "bad_request", start)
		apiErrors.WriteError(w, apiErrors.InvalidRequestWithError(err))
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		s.observe("validate", "bad_request", start)
		apiErrors.WriteError(w, apiErrors.InvalidRequestWithError(err))
		return
	}

	logger := s.logger.With(
		slog.String("action", string(req.Action)),
		slog.String("license_key", domain.MaskLicenseKey(req.LicenseKey)),
		slog.String("fingerprint_prefix", req.DeviceFingerprint[:12]),
	)

	switch req.Action {
	case domain.ActionActivate:
		binding, err := s.store.Activate(ctx, req.LicenseKey, req.DeviceFingerprint, req.ClientInfo)
		if err != nil {
			var conflict *ConflictError
			if errors.As(err, &conflict) {
				logger.WarnContext(ctx, "Activation rejected, key bound elsewhere",
					slog.String("bound_fingerprint_prefix", conflict.Existing.Fingerprint[:12]),
					slog.Int("activation_count", conflict.Existing.ActivationCount),
				)
				if s.metrics != nil {
					s.metrics.ActivationsTotal.WithLabelValues("conflict").Inc()
				}
				s.observe("validate", "conflict", start)
				s.writeBindingError(w, r, http.StatusConflict, domain.AuthorityErrAlreadyActivated,
					"license key is already active on another device")
				return
			}
			s.observe("validate", "error", start)
			apiErrors.WriteError(w, apiErrors.ErrInternalServer)
			return
		}

		logger.InfoContext(ctx, "Device activated",
			slog.Int("activation_count", binding.ActivationCount),
		)
		if s.metrics != nil {
			s.metrics.ActivationsTotal.WithLabelValues("success").Inc()
		}
		s.observe("validate", "success", start)
		s.writeBinding(w, r, binding)

	case domain.ActionValidate:
		binding, err := s.store.Validate(ctx, req.LicenseKey, req.DeviceFingerprint)
		if err != nil {
			var mismatch *MismatchError
			var notActivated *NotActivatedError
			switch {
			case errors.As(err, &mismatch):
				s.observe("validate", "mismatch", start)
				s.writeBindingError(w, r, http.StatusConflict, domain.AuthorityErrDeviceMismatch,
					"license key is active on a different device")
			case errors.As(err, &notActivated):
				s.observe("validate", "not_activated", start)
				s.writeBindingError(w, r, http.StatusNotFound, domain.AuthorityErrNotActivated,
					"license key has no activation record")
			default:
				s.observe("validate", "error", start)
				apiErrors.WriteError(w, apiErrors.ErrInternalServer)
			}
			return
		}

		s.observe("validate", "success", start)
		s.writeBinding(w, r, binding)

	case domain.ActionDeactivate:
		if err := s.store.Deactivate(ctx, req.LicenseKey, req.DeviceFingerprint); err != nil {
			s.observe("validate", "error", start)
			apiErrors.WriteError(w, apiErrors.ErrInternalServer)
			return
		}
		logger.InfoContext(ctx, "Device deactivated")
		s.observe("validate", "success", start)
		render.JSON(w, r, &domain.ValidateResponse{
			Success: true,
			Status:  domain.BindingDeactivated,
		})

	default:
		s.observe("validate", "bad_request", start)
		apiErrors.WriteError(w, apiErrors.ErrInvalidRequest)
	}
}

func (s *Server) writeBinding(w http.ResponseWriter, r *http.Request, b *Binding) {
	activationDate := b.FirstActivatedAt
	render.JSON(w, r, &domain.ValidateResponse{
		Success:         true,
		Status:          b.Status,
		DeviceMatch:     true,
		ActivationDate:  &activationDate,
		ActivationCount: b.ActivationCount,
	})
}

func (s *Server) writeBindingError(w http.ResponseWriter, r *http.Request, status int, code, details string) {
	render.Status(r, status)
	render.JSON(w, r, &domain.ValidateResponse{
		Success: false,
		Error:   code,
		Details: details,
	})
}

// handleHeartbeat records a liveness signal from an activated device.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	var req domain.HeartbeatRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.observe("heartbeat", "bad_request", start)
		apiErrors.WriteError(w, apiErrors.InvalidRequestWithError(err))
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		s.observe("heartbeat", "bad_request", start)
		apiErrors.WriteError(w, apiErrors.InvalidRequestWithError(err))
		return
	}

	record, err := s.store.Heartbeat(ctx, req.LicenseKey, req.DeviceFingerprint, req.SystemStatus)
	if err != nil {
		var notActivated *NotActivatedError
		if errors.As(err, &notActivated) {
			s.observe("heartbeat", "not_activated", start)
			s.writeBindingError(w, r, http.StatusNotFound, domain.AuthorityErrNotActivated,
				"heartbeat requires an active binding")
			return
		}
		s.observe("heartbeat", "error", start)
		apiErrors.WriteError(w, apiErrors.ErrInternalServer)
		return
	}

	if s.metrics != nil {
		s.metrics.HeartbeatsTotal.Inc()
	}
	s.observe("heartbeat", "success", start)
	render.JSON(w, r, &domain.HeartbeatResponse{
		Success:    true,
		ReceivedAt: record.ReceivedAt,
	})
}

// handleStatus returns aggregate health and counts.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	active, total, heartbeats := s.store.Stats(r.Context())
	render.JSON(w, r, &domain.AuthorityStatus{
		Status:         "ok",
		ActiveBindings: active,
		TotalBindings:  total,
		HeartbeatsSeen: heartbeats,
		UptimeSeconds:  time.Since(s.startedAt).Seconds(),
		Timestamp:      time.Now().UTC(),
	})
}

// handleDevices returns the masked device listing for administrators.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	bindings := s.store.Bindings(r.Context())

	listings := make([]domain.DeviceListing, 0, len(bindings))
	for _, b := range bindings {
		prefix := b.Fingerprint
		if len(prefix) > 12 {
			prefix = prefix[:12]
		}
		listings = append(listings, domain.DeviceListing{
			LicenseKeyMasked:  domain.MaskLicenseKey(b.LicenseKey),
			FingerprintPrefix: prefix,
			Status:            b.Status,
			ActivationCount:   b.ActivationCount,
			FirstActivatedAt:  b.FirstActivatedAt,
			LastSeenAt:        b.LastSeenAt,
			Hostname:          b.Hostname,
		})
	}

	render.JSON(w, r, listings)
}
