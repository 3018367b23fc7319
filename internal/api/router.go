package api

import (
	"io"
	"net/http"

	"ferris-cabinet/internal/game"
	"ferris-cabinet/internal/input"
	"ferris-cabinet/internal/nfc"
	"ferris-cabinet/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// EngineInterface defines the engine methods used by the API.
// This interface enables mocking for tests without spinning up the tick loop.
type EngineInterface interface {
	// GetSnapshot returns the latest immutable snapshot
	GetSnapshot() *game.Snapshot
	// Controls returns the panel state the engine reads every tick
	Controls() *input.Controls
	// RecentEvents returns the newest identification events, newest first
	RecentEvents(n int) []game.Event
	// GetEventLogStats returns event log counters
	GetEventLogStats() map[string]interface{}
}

// TagTapper accepts tags from the API. Only the manual reader implements it.
type TagTapper interface {
	Tap(tag nfc.TagID)
}

// UserStore is the local directory admin surface (SQLite mode).
type UserStore interface {
	Register(tag, username, avatarURL string) (store.Registration, error)
	Get(tag string) (store.Registration, error)
	Remove(tag string) error
	List() ([]store.Registration, error)
}

// FrameRenderer draws a snapshot as a PNG.
type FrameRenderer interface {
	WritePNG(w io.Writer, snap *game.Snapshot) error
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
// Optional collaborators that are nil switch their routes to an error
// response instead of removing them, so clients see why a call failed.
//
// Example usage in tests:
//
//	cfg := api.RouterConfig{
//	    Engine: mockEngine,
//	    Tapper: nfc.NewManualReader(),
//	    RateLimitConfig: &api.RateLimitConfig{
//	        General: api.Bucket{PerSecond: 1000, Burst: 1000}, // High limit for tests
//	    },
//	}
//	router := api.NewRouter(cfg)
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Engine is the cabinet engine (required)
	Engine EngineInterface

	// Tapper receives POST /api/nfc/tap. Nil when the reader is not manual.
	Tapper TagTapper

	// Users serves /api/users. Nil when the directory is remote.
	Users UserStore

	// OnUserChange is called after a registration is created, replaced or
	// removed (cache invalidation).
	OnUserChange func(tag nfc.TagID)

	// Renderer serves /api/frame.png. Nil disables the frame.
	Renderer FrameRenderer

	// AdminToken guards /api/users. Empty leaves it open.
	AdminToken string

	// DirectoryStats reports directory cache counters for /api/stats.
	// Nil when the cache is disabled.
	DirectoryStats func() nfc.CacheStats

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *ClientLimiter

	// RateLimitConfig is optional configuration for the rate limiter.
	// Only used if RateLimiter is nil. If both are nil, uses DefaultRateLimitConfig.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins is an optional list of allowed CORS origins.
	// If nil, only loopback origins are allowed.
	CORSOrigins []string

	// StaticFilesDir is the directory to serve static files from for the admin panel.
	// If empty, defaults to "./admin-panel".
	StaticFilesDir string

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

// routerHandlers holds the handler dependencies
type routerHandlers struct {
	engine       EngineInterface
	tapper       TagTapper
	users        UserStore
	onUserChange func(tag nfc.TagID)
	renderer     FrameRenderer
	dirStats     func() nfc.CacheStats
	limiter      *ClientLimiter
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// IMPORTANT: This function is PURE: no listeners are opened, no goroutines
// are started and the engine is not started.
// This makes it safe to use in tests with httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware - Order matters!
	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewClientLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Limit(ClassGeneral))

	// CORS configuration
	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	h := &routerHandlers{
		engine:       cfg.Engine,
		tapper:       cfg.Tapper,
		users:        cfg.Users,
		onUserChange: cfg.OnUserChange,
		renderer:     cfg.Renderer,
		dirStats:     cfg.DirectoryStats,
		limiter:      rateLimiter,
	}
	admin := NewAdminAuth(cfg.AdminToken)

	r.Route("/api", func(r chi.Router) {
		// Scene and display
		r.Get("/state", h.handleGetState)
		r.Get("/display", h.handleGetDisplay)
		r.Get("/frame.png", h.handleGetFrame)
		r.Get("/stats", h.handleGetStats)

		// Identification
		r.Get("/nfc/status", h.handleNFCStatus)
		r.Get("/nfc/events", h.handleNFCEvents)
		r.With(rateLimiter.Limit(ClassTap)).Post("/nfc/tap", h.handleNFCTap)

		// Control panels
		r.Group(func(r chi.Router) {
			r.Use(rateLimiter.Limit(ClassInput))
			r.Post("/input", h.handleInput)
			r.Post("/input/release", h.handleReleaseAll)
		})

		// Local directory admin
		r.Route("/users", func(r chi.Router) {
			r.Use(admin.Middleware)
			r.Get("/", h.handleListUsers)
			r.Post("/", h.handleRegisterUser)
			r.Get("/{tag}", h.handleGetUser)
			r.Delete("/{tag}", h.handleRemoveUser)
		})
	})

	// Serve static files for admin panel
	staticDir := cfg.StaticFilesDir
	if staticDir == "" {
		staticDir = "./admin-panel"
	}
	r.Handle("/admin/*", http.StripPrefix("/admin/", http.FileServer(http.Dir(staticDir))))
	r.Get("/admin", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/admin/", http.StatusMovedPermanently)
	})

	// Default route
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/admin/", http.StatusFound)
	})

	return r
}
