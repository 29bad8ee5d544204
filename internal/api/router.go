package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/promptsync/internal/api/middleware"
	"github.com/eldtechnologies/promptsync/internal/fanout"
	"github.com/eldtechnologies/promptsync/internal/handlers"
	"github.com/eldtechnologies/promptsync/internal/registry"
	"github.com/eldtechnologies/promptsync/internal/session"
	"github.com/eldtechnologies/promptsync/internal/store"
)

// Deps are the process-wide components the router serves.
type Deps struct {
	Logger      zerolog.Logger
	Rooms       store.RoomStore
	Fanout      fanout.Fanout
	Coordinator *session.Coordinator
	Registry    *registry.Registry

	// Redis backs rate limiting. Nil in degraded single-process mode, which
	// disables rate limiting.
	Redis *redis.Client

	RateLimit      middleware.RateLimiterConfig
	AllowedOrigins []string
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(d.Logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	if d.Redis != nil {
		limiter := middleware.NewRateLimiter(d.Redis, d.Logger, d.RateLimit)
		r.Use(limiter.Middleware)
	} else {
		d.Logger.Warn().Msg("rate limiting disabled: no redis client")
	}

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.RoomSecretHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(d.Rooms, d.Fanout, d.Coordinator, d.Registry, d.Logger, origins)
	auth := middleware.NewRoomAuth(d.Rooms, d.Logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/api", h.Root)
	r.Get("/api/health", h.Health)
	r.Get("/api/live", h.Live)
	r.Get("/api/ws", h.ServeWS)

	r.Route("/api/rooms", func(r chi.Router) {
		r.Post("/", h.CreateRoom)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetRoom)
			r.Get("/stats", h.RoomStats)

			// Room-scoped mutations require the room secret
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRoomSecret)

				r.Post("/verify", h.VerifyRoom)
				r.Put("/name", h.RenameRoom)
				r.Delete("/participants/{pid}", h.KickParticipant)
				r.Post("/playback/{action}", h.Playback)
				r.Post("/scroll/{direction}", h.Scroll)
				r.Post("/scroll/{direction}/{lines}", h.Scroll)
			})
		})
	})

	return r
}
