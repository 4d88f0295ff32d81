package api

import (
	"log/slog"
	"net/http"

	"github.com/dialflow/dialflow/internal/api/middleware"
	"github.com/dialflow/dialflow/internal/call"
	"github.com/dialflow/dialflow/internal/config"
	"github.com/dialflow/dialflow/internal/database"
	"github.com/dialflow/dialflow/internal/ivr"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router     *chi.Mux
	cfg        *config.Config
	sessions   database.CallSessionRepository
	events     database.CallEventRepository
	campaigns  database.CampaignRepository
	initiator  *call.Initiator
	dispatcher *call.Dispatcher
	menu       *ivr.Menu
	metrics    http.Handler
	limiter    *middleware.IPRateLimiter
}

// NewServer creates the HTTP handler with all routes mounted. initiator may
// be nil when no telephony credentials are configured; call initiation then
// answers 503 while the callback and read endpoints keep working. metrics may
// be nil to disable the scrape endpoint.
func NewServer(
	cfg *config.Config,
	sessions database.CallSessionRepository,
	events database.CallEventRepository,
	campaigns database.CampaignRepository,
	initiator *call.Initiator,
	dispatcher *call.Dispatcher,
	menu *ivr.Menu,
	metrics http.Handler,
) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		cfg:        cfg,
		sessions:   sessions,
		events:     events,
		campaigns:  campaigns,
		initiator:  initiator,
		dispatcher: dispatcher,
		menu:       menu,
		metrics:    metrics,
		limiter: middleware.NewIPRateLimiter(middleware.RateLimitConfigFor(
			cfg.RateLimitPerSecond, cfg.RateLimitBurst,
		)),
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops background resources owned by the server.
func (s *Server) Close() {
	s.limiter.Stop()
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)
	if origins := middleware.ParseCORSOrigins(s.cfg.CORSOrigins); origins != nil {
		r.Use(middleware.CORS(origins))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Management API, rate limited per client.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(s.limiter))

			r.Route("/calls", func(r chi.Router) {
				r.Post("/initiate", s.handleInitiateCall)
				r.Post("/bulk", s.handleBulkInitiateCalls)
				r.Get("/", s.handleListCalls)
				r.Route("/{callID}", func(r chi.Router) {
					r.Get("/", s.handleGetCall)
					r.Get("/events", s.handleListCallEvents)
				})
			})

			r.Route("/campaigns", func(r chi.Router) {
				r.Post("/", s.handleCreateCampaign)
				r.Get("/", s.handleListCampaigns)
				r.Route("/{campaignID}", func(r chi.Router) {
					r.Get("/", s.handleGetCampaign)
					r.Put("/", s.handleUpdateCampaign)
					r.Delete("/", s.handleDeleteCampaign)
					r.Get("/calls", s.handleListCampaignCalls)
				})
			})

			r.Get("/config/ivr", s.handleGetIVRConfig)
			r.Get("/config/languages", s.handleListLanguages)
		})

		// Provider-facing webhooks. Not rate limited: the telephony provider
		// delivers these and a dropped callback strands a session.
		r.Post("/callbacks/ivr", s.handleIVRCallback)

		r.Route("/twiml", func(r chi.Router) {
			r.Get("/welcome", s.handleTwiMLWelcome)
			r.Post("/welcome", s.handleTwiMLWelcome)
			r.Post("/handle-input", s.handleTwiMLInput)
			r.Post("/status", s.handleTwiMLStatus)
		})
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	slog.Info("api routes mounted")
}

// handleHealth returns basic health status. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
