package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/outreach-core/internal/crawler"
	"github.com/JakeFAU/outreach-core/internal/id/uuid"
	"github.com/JakeFAU/outreach-core/internal/logging"
)

const enqueueTimeout = 5 * time.Second

type submitJobRequest struct {
	UserID string   `json:"user_id"`
	URLs   []string `json:"urls"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	urls, err := validateSeeds(req.URLs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobID, err := s.enqueueJob(r.Context(), strings.TrimSpace(req.UserID), urls)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if !uuid.Valid(jobID) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	userID := strings.TrimSpace(query.Get("user_id"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}
	limit, err := intQuery(query.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, err := intQuery(query.Get("offset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	jobs, err := s.jobStore.ListJobs(r.Context(), userID, limit, offset)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	accounts, err := s.accounts.Accounts(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

// enqueueJob stores a pending job and hands it to the worker pool. A job
// that cannot be enqueued is marked failed so it does not sit pending.
func (s *Server) enqueueJob(ctx context.Context, userID string, urls []string) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now().UTC()
	job := crawler.Job{
		ID:               jobID,
		UserID:           userID,
		SeedURLs:         urls,
		Status:           crawler.JobStatusPending,
		DiscoveredEmails: []string{},
		CreatedAt:        now,
	}
	if err := s.jobStore.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	if err := s.submitter.Submit(queueCtx, job); err != nil {
		logger := logging.FromContext(ctx, s.logger)
		if ferr := s.jobStore.FinishJob(ctx, jobID, crawler.JobStatusFailed, nil,
			"enqueue failed: "+err.Error(), s.clock.Now().UTC()); ferr != nil {
			logger.Error("failed to mark unqueued job failed", zap.String("job_id", jobID), zap.Error(ferr))
		}
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	logging.FromContext(ctx, s.logger).Info("job submitted",
		zap.String("job_id", jobID),
		zap.String("user_id", userID),
		zap.Int("urls", len(urls)),
	)
	return jobID, nil
}

func validateSeeds(raw []string) ([]string, error) {
	urls := make([]string, 0, len(raw))
	for _, u := range raw {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if err := crawler.ValidateSeedURL(u); err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	if len(urls) == 0 {
		return nil, errors.New("urls required")
	}
	return urls, nil
}

func intQuery(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid integer %q", raw)
	}
	return n, nil
}
