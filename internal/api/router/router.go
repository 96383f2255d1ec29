package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/clinic-booking/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/clinic-booking/internal/http/middleware"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Health             *handlers.HealthHandler
	Sessions           *handlers.SessionHandler
	Bookings           *handlers.BookingHandler
	Catalog            *handlers.CatalogHandler
	Availability       *handlers.AvailabilityHandler
	SessionParser      httpmiddleware.SessionParser
	AdminAuthSecret    string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// Passcode dispatch limits, per browser session.
	OTPRateLimit float64
	OTPRateBurst int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		if cfg.Health != nil {
			public.Get("/health", cfg.Health.Live)
			public.Get("/ready", cfg.Health.Ready)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.Sessions != nil {
			public.With(httpmiddleware.RateLimit(1, 10, nil)).Post("/api/sessions", cfg.Sessions.Create)
		}
		if cfg.Catalog != nil {
			public.Get("/api/treatments/{treatmentID}", cfg.Catalog.GetTreatment)
			public.Get("/api/branches/{branchID}", cfg.Catalog.GetBranch)
		}
		if cfg.Availability != nil {
			public.Get("/api/branches/{branchID}/availability", cfg.Availability.Lookup)
		}
	})

	// Booking routes (browser session required)
	r.Group(func(session chi.Router) {
		session.Use(httpmiddleware.Session(cfg.SessionParser))
		if cfg.Sessions != nil {
			session.Delete("/api/sessions/current", cfg.Sessions.SignOut)
		}
		if cfg.Bookings != nil {
			var otpLimit func(http.Handler) http.Handler
			if cfg.OTPRateLimit > 0 {
				otpLimit = httpmiddleware.RateLimit(cfg.OTPRateLimit, cfg.OTPRateBurst, httpmiddleware.SessionOrIP)
			}
			session.Mount("/api/bookings", cfg.Bookings.Routes(otpLimit))
		}
	})

	// Admin routes (protected by JWT)
	if cfg.AdminAuthSecret != "" && cfg.Catalog != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Put("/treatments/{treatmentID}", cfg.Catalog.PutTreatment)
			admin.Put("/branches/{branchID}", cfg.Catalog.PutBranch)
			admin.Delete("/appointments/{appointmentID}", cfg.Catalog.CancelAppointment)
		})
	}

	return r
}
