package api

import (
	"encoding/json"
	"net/http"

	"github.com/ignite/audience-crm/internal/pkg/httputil"
	"github.com/ignite/audience-crm/internal/service/segment"
)

type segmentQueryRequest struct {
	Prompt string `json:"prompt"`
}

// QuerySegment translates a prompt and returns the matching customers.
//
//	POST /segment/list
func (h *Handlers) QuerySegment(w http.ResponseWriter, r *http.Request) {
	var req segmentQueryRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	res, err := h.segments.Query(r.Context(), req.Prompt)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	httputil.OK(w, httputil.Body{
		"filter": res.Filter,
		"prompt": res.Prompt,
		"count":  res.Count,
		"data":   res.Customers,
	})
}

type segmentPreviewRequest struct {
	Rule json.RawMessage `json:"rule"`
}

// PreviewSegment runs a hand-built rule and returns the matching customers
// in the same shape as QuerySegment.
//
//	POST /segment/preview
func (h *Handlers) PreviewSegment(w http.ResponseWriter, r *http.Request) {
	var req segmentPreviewRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	res, err := h.segments.Preview(r.Context(), req.Rule)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	httputil.OK(w, httputil.Body{
		"filter": res.Filter,
		"prompt": res.Prompt,
		"count":  res.Count,
		"data":   res.Customers,
	})
}

// SaveSegment stores a frozen segment.
//
//	POST /segment/add
func (h *Handlers) SaveSegment(w http.ResponseWriter, r *http.Request) {
	var in segment.SaveInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	in.CreatedBy = callerID(r)

	seg, err := h.segments.Save(r.Context(), in)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.Created(w, httputil.Body{"message": "Segment saved", "data": seg})
}

// ListSegments returns every segment, newest first.
//
//	GET /segment/list
func (h *Handlers) ListSegments(w http.ResponseWriter, r *http.Request) {
	segs, err := h.segments.List(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, httputil.Body{"data": segs})
}

// GetSegment returns one segment.
//
//	GET /segment/{segmentId}
func (h *Handlers) GetSegment(w http.ResponseWriter, r *http.Request) {
	seg, err := h.segments.Get(r.Context(), pathID(r, "segmentId"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, httputil.Body{"segment": seg})
}

// DeleteSegment removes a segment. Campaigns that used it keep their logs.
//
//	DELETE /segment/{id}
func (h *Handlers) DeleteSegment(w http.ResponseWriter, r *http.Request) {
	if err := h.segments.Delete(r.Context(), pathID(r, "segmentId")); err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, httputil.Body{"message": "Segment deleted"})
}
