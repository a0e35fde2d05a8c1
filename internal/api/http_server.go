package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bookslot/internal/config"
	"bookslot/internal/domain"
	"bookslot/internal/metrics"
	"bookslot/internal/models"
	"bookslot/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxWebhookBytes = 64 << 10

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Services are the engine entry points exposed over HTTP. Checkout and
// Reminders may be nil when payments or email are not configured.
type Services struct {
	Slots     *service.SlotService
	Bookings  *service.BookingService
	Checkout  *service.CheckoutService
	Hosts     *service.HostService
	Reminders *service.ReminderService
	Ready     map[string]ReadinessCheck
}

// HTTPServer is the JSON API for guests and the host dashboard.
type HTTPServer struct {
	cfg     config.APIConfig
	svc     Services
	keys    *keyring
	limiter *rateLimiter
	server  *http.Server
	handler http.Handler
	log     zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc Services, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:     cfg,
		svc:     svc,
		keys:    newKeyring(cfg.Auth),
		limiter: newRateLimiter(cfg.RateLimit),
		log:     zerolog.Nop(),
	}
	if logger != nil {
		srv.log = logger.With().Str("component", "http").Logger()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", srv.handleHealth)
	mux.HandleFunc("GET /readyz", srv.handleReady)

	mux.Handle("GET /api/v1/availability", srv.public(srv.handleAvailability))
	mux.Handle("POST /api/v1/bookings", srv.public(srv.handleCreateBooking))
	mux.Handle("GET /api/v1/bookings/status", srv.public(srv.handleCheckoutStatus))
	mux.Handle("GET /api/v1/bookings/{uid}", srv.public(srv.handleGetBooking))
	mux.Handle("POST /api/v1/bookings/{uid}/reschedule", srv.public(srv.handleReschedule))
	mux.Handle("POST /api/v1/bookings/{uid}/cancel", srv.public(srv.handleCancel))
	mux.Handle("POST /api/v1/checkout", srv.public(srv.handleCheckout))
	mux.HandleFunc("POST /api/v1/webhooks/stripe", srv.handleStripeWebhook)

	mux.Handle("GET /api/v1/event-types", srv.host(permHostRead, srv.handleListEventTypes))
	mux.Handle("POST /api/v1/event-types", srv.host(permHostWrite, srv.handleCreateEventType))
	mux.Handle("GET /api/v1/schedules/default", srv.host(permHostRead, srv.handleGetSchedule))
	mux.Handle("PUT /api/v1/schedules/default", srv.host(permHostWrite, srv.handleSaveSchedule))
	mux.Handle("PUT /api/v1/email-templates/{kind}", srv.host(permHostWrite, srv.handleUpsertTemplate))
	mux.Handle("GET /api/v1/bookings/export", srv.host(permHostRead, srv.handleExport))
	mux.Handle("POST /api/v1/bookings/export", srv.host(permHostWrite, srv.handleArchive))
	mux.Handle("POST /api/v1/reminders/run", srv.host(permHostWrite, srv.handleRunReminders))

	srv.handler = srv.loggingMiddleware(mux)
	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

// Handler returns the routed handler with middleware applied.
func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// public applies the per-client rate limit only.
func (s *HTTPServer) public(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(s.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		h(w, r)
	})
}

// host requires an API key carrying the permission when auth is enabled.
func (s *HTTPServer) host(permission string, h http.HandlerFunc) http.Handler {
	return s.public(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Auth.Enabled {
			_, err := s.keys.check(r.Header.Get(s.keys.apiKeyHeader()), r.Header.Get(s.keys.extraHeader()), permission)
			if err != nil {
				statusCode := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, err.Error())
				return
			}
		}
		h(w, r)
	})
}

func (s *HTTPServer) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(s.keys.apiKeyHeader())); apiKey != "" {
		return apiKey
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if failed := runChecks(ctx, s.svc.Ready); len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func runChecks(ctx context.Context, checks map[string]ReadinessCheck) map[string]string {
	failed := make(map[string]string)
	for name, check := range checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	return failed
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	eventTypeID, err := strconv.ParseInt(strings.TrimSpace(q.Get("eventTypeId")), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "eventTypeId is required")
		return
	}

	res, err := s.svc.Slots.AvailableSlots(r.Context(), eventTypeID,
		strings.TrimSpace(q.Get("date")), strings.TrimSpace(q.Get("timezone")), strings.TrimSpace(q.Get("timeFormat")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var in service.CreateBookingInput
	if !decodeBody(w, r, &in) {
		return
	}

	res, err := s.svc.Bookings.Create(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	summary, err := s.svc.Bookings.Summary(r.Context(), r.PathValue("uid"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *HTTPServer) handleReschedule(w http.ResponseWriter, r *http.Request) {
	var in service.RescheduleInput
	if !decodeBody(w, r, &in) {
		return
	}

	if _, err := s.svc.Bookings.Reschedule(r.Context(), r.PathValue("uid"), in); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 && !decodeBody(w, r, &body) {
		return
	}

	res, err := s.svc.Bookings.Cancel(r.Context(), r.PathValue("uid"), body.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"refundProcessed": res.RefundProcessed,
		"refundId":        res.RefundID,
	})
}

func (s *HTTPServer) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if s.svc.Checkout == nil {
		s.fail(w, r, domain.ErrPaymentNotConfigured)
		return
	}

	var in service.CreateBookingInput
	if !decodeBody(w, r, &in) {
		return
	}

	res, err := s.svc.Checkout.Start(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleCheckoutStatus(w http.ResponseWriter, r *http.Request) {
	if s.svc.Checkout == nil {
		s.fail(w, r, domain.ErrPaymentNotConfigured)
		return
	}

	st, err := s.svc.Checkout.Status(r.Context(), strings.TrimSpace(r.URL.Query().Get("session_id")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *HTTPServer) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if s.svc.Checkout == nil {
		s.fail(w, r, domain.ErrPaymentNotConfigured)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if err := s.svc.Checkout.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (s *HTTPServer) handleListEventTypes(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Hosts.ListEventTypes(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"eventTypes": list})
}

// eventTypeRequest exposes the promo code, which responses never echo.
type eventTypeRequest struct {
	models.EventType
	PromoCode string `json:"promo_code"`
}

func (s *HTTPServer) handleCreateEventType(w http.ResponseWriter, r *http.Request) {
	var body eventTypeRequest
	if !decodeBody(w, r, &body) {
		return
	}

	et := body.EventType
	et.PromoCode = strings.TrimSpace(body.PromoCode)
	if err := s.svc.Hosts.CreateEventType(r.Context(), &et); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, et)
}

func (s *HTTPServer) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	schedule, err := s.svc.Hosts.DefaultSchedule(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (s *HTTPServer) handleSaveSchedule(w http.ResponseWriter, r *http.Request) {
	var schedule models.Schedule
	if !decodeBody(w, r, &schedule) {
		return
	}
	if err := s.svc.Hosts.SaveDefaultSchedule(r.Context(), &schedule); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (s *HTTPServer) handleUpsertTemplate(w http.ResponseWriter, r *http.Request) {
	var tmpl models.EmailTemplate
	if !decodeBody(w, r, &tmpl) {
		return
	}
	tmpl.Kind = r.PathValue("kind")
	if err := s.svc.Hosts.UpsertEmailTemplate(r.Context(), &tmpl); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var buf bytes.Buffer
	filename, err := s.svc.Hosts.ExportBookings(r.Context(), q.Get("from"), q.Get("to"), &buf)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *HTTPServer) handleArchive(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	path, err := s.svc.Hosts.ArchiveBookings(r.Context(), q.Get("from"), q.Get("to"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}

func (s *HTTPServer) handleRunReminders(w http.ResponseWriter, r *http.Request) {
	if s.svc.Reminders == nil {
		writeError(w, http.StatusServiceUnavailable, "reminders are not configured")
		return
	}
	report, err := s.svc.Reminders.SendTodayReminders(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// fail writes the mapped status. Unmapped errors are logged and hidden.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		msg = "internal error"
	}
	writeError(w, code, msg)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrInvalidTimeFormat):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAlreadyCancelled),
		errors.Is(err, domain.ErrSlotTaken),
		errors.Is(err, domain.ErrBookingLimitExceeded),
		errors.Is(err, domain.ErrDuplicateSession):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPaymentRequired):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrPaymentNotConfigured),
		errors.Is(err, domain.ErrSlotBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint)

		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
