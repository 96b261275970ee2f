package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/outreach-core/internal/allocation"
	"github.com/JakeFAU/outreach-core/internal/campaign"
	"github.com/JakeFAU/outreach-core/internal/id/uuid"
	"github.com/JakeFAU/outreach-core/internal/ledger"
)

type createCampaignRequest struct {
	UserID         string   `json:"user_id"`
	Recipients     []string `json:"recipients"`
	RecipientsText string   `json:"recipients_text"`
	FromJobID      string   `json:"from_job_id"`
}

type setAllocationRequest struct {
	Count *int `json:"count"`
}

type bulkAllocationRequest struct {
	AccountIDs []string `json:"account_ids"`
	Amount     int      `json:"amount"`
}

type quickAllocationRequest struct {
	Strategy string `json:"strategy"`
}

type deleteRecipientsRequest struct {
	Recipients []string `json:"recipients"`
}

type restoreRecipientRequest struct {
	Recipient string `json:"recipient"`
}

func (s *Server) createCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	userID := strings.TrimSpace(req.UserID)
	jobID := strings.TrimSpace(req.FromJobID)
	inline := len(req.Recipients) > 0 || strings.TrimSpace(req.RecipientsText) != ""

	var (
		view campaign.View
		err  error
	)
	switch {
	case jobID != "" && inline:
		writeError(w, http.StatusBadRequest, "from_job_id cannot be combined with recipients")
		return
	case jobID != "":
		if !uuid.Valid(jobID) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		view, err = s.campaigns.CreateFromJob(r.Context(), userID, jobID)
	default:
		if userID == "" {
			writeError(w, http.StatusBadRequest, "user_id required")
			return
		}
		recipients := append(append([]string(nil), req.Recipients...), ledger.ParseList(req.RecipientsText)...)
		view, err = s.campaigns.Create(r.Context(), userID, recipients)
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) getCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	view, err := s.campaigns.Get(r.Context(), id)
	s.writeView(w, r, view, err)
}

func (s *Server) setAllocation(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	var req setAllocationRequest
	if err := decodeJSON(r, &req); err != nil || req.Count == nil {
		writeError(w, http.StatusBadRequest, "count required")
		return
	}
	view, err := s.campaigns.SetAllocation(r.Context(), id, chi.URLParam(r, "account_id"), *req.Count)
	s.writeView(w, r, view, err)
}

func (s *Server) bulkAllocate(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	var req bulkAllocationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	view, err := s.campaigns.BulkAllocate(r.Context(), id, req.AccountIDs, req.Amount)
	s.writeView(w, r, view, err)
}

func (s *Server) quickAllocate(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	var req quickAllocationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	strategy, err := allocation.ParseStrategy(req.Strategy)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	view, err := s.campaigns.QuickAllocate(r.Context(), id, strategy)
	s.writeView(w, r, view, err)
}

func (s *Server) finalizeCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	view, err := s.campaigns.Finalize(r.Context(), id)
	s.writeView(w, r, view, err)
}

func (s *Server) deleteRecipients(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	var req deleteRecipientsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "recipients required")
		return
	}
	recipients := ledger.Normalize(req.Recipients)
	if len(recipients) == 0 {
		writeError(w, http.StatusBadRequest, "recipients required")
		return
	}
	view, err := s.campaigns.DeleteRecipients(r.Context(), id, recipients)
	s.writeView(w, r, view, err)
}

func (s *Server) restoreRecipient(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	var req restoreRecipientRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Recipient) == "" {
		writeError(w, http.StatusBadRequest, "recipient required")
		return
	}
	view, err := s.campaigns.RestoreRecipient(r.Context(), id, strings.TrimSpace(req.Recipient))
	s.writeView(w, r, view, err)
}

func (s *Server) writeView(w http.ResponseWriter, r *http.Request, view campaign.View, err error) {
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func campaignID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "campaign_id")
	if !uuid.Valid(id) {
		writeError(w, http.StatusNotFound, "campaign not found")
		return "", false
	}
	return id, true
}
