package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/audience-crm/internal/config"
	"github.com/ignite/audience-crm/internal/pkg/httputil"
)

// SetupRoutes configures all API routes. Everything except /auth sign-in,
// health and metrics requires a bearer token.
func SetupRoutes(h *Handlers, cfg config.ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(instrument(h.metrics))
	r.Use(middleware.Recoverer)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health checks (no auth required)
	r.Get("/health", h.health.HandleHealth)
	r.Get("/health/live", h.health.HandleLiveness)
	r.Get("/health/ready", h.health.HandleReadiness)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler())
	}

	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", h.Signup)
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.Get("/google", h.GoogleLogin)
		r.With(h.auth.RequireAuth).Get("/authenticate", h.Authenticate)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.auth.RequireAuth)

		r.Route("/segment", func(r chi.Router) {
			// Prompt translation waits on the model, so it gets the request timeout.
			r.With(middleware.Timeout(timeout)).Post("/list", h.QuerySegment)
			r.Post("/preview", h.PreviewSegment)
			r.Post("/add", h.SaveSegment)
			r.Get("/list", h.ListSegments)
			r.Get("/{segmentId}", h.GetSegment)
			r.Delete("/{segmentId}", h.DeleteSegment)
		})

		r.Route("/campaign", func(r chi.Router) {
			r.Post("/create", h.CreateCampaign)
			r.Get("/list", h.ListCampaigns)
			r.Get("/segment", h.CampaignSegments)
			r.Get("/{campaignId}", h.GetCampaign)
			r.Get("/{campaignId}/logs", h.CampaignLogs)
		})

		r.Route("/customer", func(r chi.Router) {
			r.Post("/add", h.AddCustomer)
			r.Get("/list", h.ListCustomers)
			r.Delete("/{customerId}", h.DeleteCustomer)
			r.Post("/{customerId}/orders", h.AddOrder)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httputil.NotFound(w, "Route not found")
	})

	return r
}
