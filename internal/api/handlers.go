package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/audience-crm/internal/auth"
	"github.com/ignite/audience-crm/internal/metrics"
	"github.com/ignite/audience-crm/internal/service/campaign"
	"github.com/ignite/audience-crm/internal/service/customer"
	"github.com/ignite/audience-crm/internal/service/segment"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	customers *customer.Service
	segments  *segment.Service
	campaigns *campaign.Service
	auth      *auth.Service
	health    *HealthChecker
	metrics   *metrics.Metrics
}

// Deps lists the services the API serves. Health and Metrics may be nil.
type Deps struct {
	Customers *customer.Service
	Segments  *segment.Service
	Campaigns *campaign.Service
	Auth      *auth.Service
	Health    *HealthChecker
	Metrics   *metrics.Metrics
}

// NewHandlers creates a new handlers instance
func NewHandlers(d Deps) *Handlers {
	health := d.Health
	if health == nil {
		health = NewHealthChecker(nil, nil, nil)
	}
	return &Handlers{
		customers: d.Customers,
		segments:  d.Segments,
		campaigns: d.Campaigns,
		auth:      d.Auth,
		health:    health,
		metrics:   d.Metrics,
	}
}

// callerID returns the authenticated user's id, or "" on public routes.
func callerID(r *http.Request) string {
	if u := auth.UserFromContext(r.Context()); u != nil {
		return u.ID
	}
	return ""
}

func pathID(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}
