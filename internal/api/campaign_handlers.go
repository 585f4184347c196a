package api

import (
	"fmt"
	"net/http"

	"github.com/ignite/audience-crm/internal/domain"
	"github.com/ignite/audience-crm/internal/pkg/httputil"
	"github.com/ignite/audience-crm/internal/service/campaign"
)

// CreateCampaign sends a message to the union of the selected segments.
// In async mode the response is returned once the jobs are queued.
//
//	POST /campaign/create
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaign.CreateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	in.CreatedBy = callerID(r)

	c, err := h.campaigns.Create(r.Context(), in)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	msg := fmt.Sprintf("Campaign created: %d sent, %d failed", c.TotalSent, c.TotalFailed)
	if c.Mode == domain.DeliveryAsync {
		msg = fmt.Sprintf("Campaign created: %d messages queued", c.PendingCount)
	}
	httputil.Created(w, httputil.Body{"message": msg, "data": c})
}

// ListCampaigns returns every campaign with its counters, newest first.
//
//	GET /campaign/list
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	out, err := h.campaigns.List(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, httputil.Body{"data": out})
}

// CampaignSegments lists the segments a campaign can target with their sizes.
//
//	GET /campaign/segment
func (h *Handlers) CampaignSegments(w http.ResponseWriter, r *http.Request) {
	out, err := h.segments.Summaries(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, httputil.Body{"data": out})
}

// GetCampaign returns one campaign.
//
//	GET /campaign/{campaignId}
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Get(r.Context(), pathID(r, "campaignId"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, httputil.Body{"data": c})
}

// CampaignLogs returns the per-recipient delivery logs of a campaign.
//
//	GET /campaign/{campaignId}/logs
func (h *Handlers) CampaignLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.campaigns.Logs(r.Context(), pathID(r, "campaignId"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, httputil.Body{"count": len(logs), "data": logs})
}
