package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"eduportal.org/internal/auth"
	"eduportal.org/internal/obs"
)

const serviceName = "eduportal-auth"

// ReadyProbe — проверка готовности: пингует все зависимости по имени.
type ReadyProbe struct {
	Checks map[string]func(context.Context) error
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	names := make([]string, 0, len(rp.Checks))
	for name := range rp.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := rp.Checks[name](ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Options tunes the HTTP surface. Zero values fall back to defaults.
type Options struct {
	Version        string
	RateLimitBurst int
	RateLimitRPS   float64
	MaxBodyBytes   int64
	RequestTimeout time.Duration
	CORSOrigins    []string
}

// API — HTTP слой.
type API struct {
	mux        *http.ServeMux
	authn      *auth.Authenticator
	guard      *auth.Guard
	readyProbe ReadyProbe
	validator  *bodyValidator
	limiter    *RateLimiter
	opts       Options
}

func New(authn *auth.Authenticator, guard *auth.Guard, rp ReadyProbe, opts Options) (*API, error) {
	if authn == nil || guard == nil {
		return nil, errors.New("httpapi: authenticator and guard are required")
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 10
	}
	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = 5
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}

	a := &API{
		mux:        http.NewServeMux(),
		authn:      authn,
		guard:      guard,
		readyProbe: rp,
		validator:  newBodyValidator(),
		limiter:    NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		opts:       opts,
	}

	// health/ready/metrics
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	// auth
	a.mux.Handle("/auth/login", a.limiter.Middleware(http.HandlerFunc(a.handleLogin)))
	a.mux.Handle("/auth/refresh", a.limiter.Middleware(http.HandlerFunc(a.handleRefresh)))
	a.mux.Handle("/auth/logout", a.limiter.Middleware(http.HandlerFunc(a.handleLogout)))
	a.mux.Handle("/auth/me", RequireAuth(guard)(http.HandlerFunc(a.handleMe)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "NotFound", "resource not found")
	})
	return a, nil
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = Timeout(h, a.opts.RequestTimeout)
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = CORS(a.opts.CORSOrigins)(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}
