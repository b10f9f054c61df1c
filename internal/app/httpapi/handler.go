// Package httpapi exposes the NeoGuard REST API: vault operations, the
// deployment registry, and the event stream. Handlers stay thin; every
// rule lives in the services and surfaces here as a typed error mapped to
// its HTTP status.
package httpapi

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	app "github.com/R3E-Network/neoguard/internal/app"
	"github.com/R3E-Network/neoguard/internal/events/archive"
	"github.com/R3E-Network/neoguard/internal/httputil"
	"github.com/R3E-Network/neoguard/internal/logging"
	"github.com/R3E-Network/neoguard/internal/middleware"
)

const maxBodyBytes = 1 << 20

// Config wires the API surface.
type Config struct {
	App *app.Application
	Log *logging.Logger

	// Archive serves durable event queries when present; without it the
	// in-process ring buffer answers.
	Archive *archive.Archive

	// JWTPublicKey verifies user tokens. Nil disables authentication and
	// callers identify through the X-Caller header, which is only sane
	// for local development.
	JWTPublicKey *rsa.PublicKey

	// RelayerPublicKey verifies relayer tokens. Nil leaves the relay
	// endpoints unregistered.
	RelayerPublicKey *rsa.PublicKey
	AllowedRelayers  []string

	AllowedOrigins     []string
	RateLimitPerSecond int
	RateLimitBurst     int
}

// API is the assembled HTTP surface. It doubles as a lifecycle service so
// the rate limiter's janitor starts and stops with the application.
type API struct {
	router   *mux.Router
	limiter  *middleware.RateLimiter
	log      *logging.Logger
	upgrader websocket.Upgrader

	app     *app.Application
	archive *archive.Archive

	mu      sync.Mutex
	stop    chan struct{}
	running bool
}

// New assembles the router and middleware stack.
func New(cfg Config) (*API, error) {
	if cfg.App == nil {
		return nil, fmt.Errorf("httpapi: App is required")
	}
	log := cfg.Log
	if log == nil {
		log = logging.NewNop()
	}
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = 20
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = cfg.RateLimitPerSecond * 2
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	a := &API{
		router:  mux.NewRouter(),
		limiter: middleware.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst, log),
		log:     log,
		app:     cfg.App,
		archive: cfg.Archive,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser origins are already filtered by the CORS layer.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	a.router.Use(
		middleware.NewTracingMiddleware().Handler,
		middleware.MetricsMiddleware(),
		middleware.LoggingMiddleware(log),
		middleware.NewCORSMiddleware(origins).Handler,
	)

	a.registerOps()

	v1 := a.router.PathPrefix("/v1").Subrouter()
	if cfg.JWTPublicKey != nil {
		auth := middleware.NewAuthMiddleware(cfg.JWTPublicKey, log, nil)
		v1.Use(auth.Handler)
	} else {
		log.Warn("user authentication disabled, trusting X-Caller header")
		v1.Use(devIdentity)
	}
	v1.Use(a.limiter.Handler)
	a.registerV1(v1)

	if cfg.RelayerPublicKey != nil {
		relay := a.router.PathPrefix("/relay").Subrouter()
		relayAuth := middleware.NewRelayerAuthMiddleware(middleware.RelayerAuthConfig{
			PublicKey:       cfg.RelayerPublicKey,
			Logger:          log,
			AllowedRelayers: cfg.AllowedRelayers,
		})
		relay.Use(relayAuth.Handler, a.limiter.Handler)
		a.registerRelay(relay)
	}

	return a, nil
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// Name implements system.Service.
func (a *API) Name() string { return "httpapi" }

// Start launches the rate limiter janitor.
func (a *API) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}
	a.running = true
	a.stop = make(chan struct{})
	a.limiter.StartCleanup(10*time.Minute, a.stop)
	return nil
}

// Stop halts the janitor.
func (a *API) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil
	}
	a.running = false
	close(a.stop)
	return nil
}

// devIdentity fills the caller identity from the X-Caller header when
// authentication is disabled.
func devIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if caller := r.Header.Get("X-Caller"); caller != "" {
			r = r.WithContext(logging.WithAddress(r.Context(), caller))
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.WriteServiceError(w, r, err)
}

func badRequest(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	httputil.WriteErrorResponse(w, r, http.StatusBadRequest, "INVALID_INPUT", fmt.Sprintf(format, args...), nil)
}
