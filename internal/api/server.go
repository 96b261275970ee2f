package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/outreach-core/internal/allocation"
	"github.com/JakeFAU/outreach-core/internal/campaign"
	"github.com/JakeFAU/outreach-core/internal/config"
	"github.com/JakeFAU/outreach-core/internal/crawler"
	"github.com/JakeFAU/outreach-core/internal/ledger"
	"github.com/JakeFAU/outreach-core/internal/logging"
	"github.com/JakeFAU/outreach-core/internal/metrics"
)

const defaultRequestTimeout = 60 * time.Second

// JobSubmitter hands a stored job to the worker pool.
type JobSubmitter interface {
	Submit(ctx context.Context, job crawler.Job) error
}

// CampaignService is the campaign surface served over HTTP.
type CampaignService interface {
	Create(ctx context.Context, userID string, recipients []string) (campaign.View, error)
	CreateFromJob(ctx context.Context, userID, jobID string) (campaign.View, error)
	Get(ctx context.Context, id string) (campaign.View, error)
	SetAllocation(ctx context.Context, id, accountID string, count int) (campaign.View, error)
	BulkAllocate(ctx context.Context, id string, accountIDs []string, amount int) (campaign.View, error)
	QuickAllocate(ctx context.Context, id string, strategy allocation.Strategy) (campaign.View, error)
	Finalize(ctx context.Context, id string) (campaign.View, error)
	DeleteRecipients(ctx context.Context, id string, recipients []string) (campaign.View, error)
	RestoreRecipient(ctx context.Context, id, recipient string) (campaign.View, error)
}

// Server wires HTTP handlers to the job pipeline and campaign service.
type Server struct {
	router    chi.Router
	jobStore  crawler.JobStore
	submitter JobSubmitter
	campaigns CampaignService
	accounts  campaign.AccountSource
	idGen     crawler.IDGenerator
	clock     crawler.Clock
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobStore crawler.JobStore,
	submitter JobSubmitter,
	campaigns CampaignService,
	accounts campaign.AccountSource,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{
		jobStore:  jobStore,
		submitter: submitter,
		campaigns: campaigns,
		accounts:  accounts,
		idGen:     idGen,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware(logger))
	r.Use(loggingMiddleware)
	r.Use(recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/", s.listJobs)
			r.Get("/{job_id}", s.getJob)
		})
		r.Get("/accounts", s.listAccounts)
		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", s.createCampaign)
			r.Route("/{campaign_id}", func(r chi.Router) {
				r.Get("/", s.getCampaign)
				r.Put("/allocations/{account_id}", s.setAllocation)
				r.Post("/allocations/bulk", s.bulkAllocate)
				r.Post("/allocations/quick", s.quickAllocate)
				r.Post("/finalize", s.finalizeCampaign)
				r.Post("/recipients/delete", s.deleteRecipients)
				r.Post("/recipients/restore", s.restoreRecipient)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// writeServiceError maps domain errors onto HTTP statuses. Unrecognized
// errors are logged and reported as 500 without detail.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var over *allocation.OverAllocationError
	var mismatch *allocation.TotalMismatchError
	switch {
	case errors.As(err, &over):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      err.Error(),
			"account_id": over.AccountID,
			"requested":  over.Requested,
			"max":        over.Max,
		})
	case errors.As(err, &mismatch):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":     err.Error(),
			"allocated": mismatch.Allocated,
			"total":     mismatch.Total,
			"shortfall": mismatch.Shortfall(),
			"excess":    mismatch.Excess(),
		})
	case errors.Is(err, campaign.ErrCampaignNotFound), errors.Is(err, crawler.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, campaign.ErrJobNotCompleted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, allocation.ErrUnknownAccount),
		errors.Is(err, allocation.ErrEmptySelection),
		errors.Is(err, allocation.ErrUnknownStrategy),
		errors.Is(err, campaign.ErrNoRecipients),
		errors.Is(err, ledger.ErrNotRemoved):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		logging.FromContext(r.Context(), s.logger).Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func requestIDMiddleware(base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := uuid.NewString()
			ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
			ctx = logging.WithLogger(ctx, base.With(zap.String("request_id", reqID)))
			w.Header().Set("X-Request-ID", reqID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		logging.FromContext(r.Context(), nil).Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.FromContext(r.Context(), nil).Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
