package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Volteec/VolteecBackend/internal/crypto"
	"github.com/Volteec/VolteecBackend/internal/metrics"
	"github.com/Volteec/VolteecBackend/internal/relay"
	"github.com/Volteec/VolteecBackend/internal/repository"
	"github.com/Volteec/VolteecBackend/internal/sse"
	"github.com/Volteec/VolteecBackend/internal/updatecheck"
)

// API bundles the dependencies the handlers need. relay and checker
// are nil when their subsystems are not configured.
type API struct {
	upsRepo     repository.UPSRepo
	devices     repository.DevicesRepo
	cipher      *crypto.TokenCipher
	relay       *relay.Client
	checker     *updatecheck.Checker
	db          *sql.DB
	environment string
	degraded    bool
	logger      *zap.Logger
	now         func() time.Time
}

// Options carries the optional API collaborators.
type Options struct {
	Relay       *relay.Client
	Checker     *updatecheck.Checker
	Environment string
	Degraded    bool
}

func NewAPI(upsRepo repository.UPSRepo, devices repository.DevicesRepo, cipher *crypto.TokenCipher, db *sql.DB, opts Options, logger *zap.Logger) *API {
	return &API{
		upsRepo:     upsRepo,
		devices:     devices,
		cipher:      cipher,
		relay:       opts.Relay,
		checker:     opts.Checker,
		db:          db,
		environment: opts.Environment,
		degraded:    opts.Degraded,
		logger:      logger,
		now:         time.Now,
	}
}

func (a *API) serverID() *string {
	if a.relay == nil {
		return nil
	}
	id := a.relay.ServerID()
	return &id
}

func (a *API) dbHealthy(ctx context.Context) bool {
	if a.db == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return a.db.PingContext(ctx) == nil
}

// NewRouter assembles the full handler tree. Router choice mirrors the
// rest of our services: the standard library mux, no routing framework.
func NewRouter(a *API, events *sse.Handler, apiToken string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", a.Health)
	mux.HandleFunc("/ready", a.Ready)
	mux.Handle("/metrics", metrics.Handler())

	// Degraded mode: no API token, no /v1 surface at all.
	if !a.degraded {
		mux.Handle("/v1/", v1Handler(a, events, apiToken))
	}

	return RequestID(mux)
}

// v1Handler routes the authenticated API. Method checks live here so
// the handlers themselves stay single-purpose, matching how our other
// services lay out their routers.
func v1Handler(a *API, events *sse.Handler, apiToken string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/ups", methodOnly(http.MethodGet, a.ListUPS))
	mux.HandleFunc("/v1/ups/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		// /v1/ups/{upsId}/status
		rest := strings.TrimPrefix(r.URL.Path, "/v1/ups/")
		upsID, ok := strings.CutSuffix(rest, "/status")
		if !ok || upsID == "" || strings.Contains(upsID, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		a.GetUPSStatus(w, r, upsID)
	})
	mux.HandleFunc("/v1/register-device", methodOnly(http.MethodPost, a.RegisterDevice))
	mux.HandleFunc("/v1/unregister-device", methodOnly(http.MethodPost, a.UnregisterDevice))
	mux.HandleFunc("/v1/relay/pair", methodOnly(http.MethodPost, a.RelayPair))
	mux.HandleFunc("/v1/events", methodOnly(http.MethodGet, events.ServeHTTP))
	mux.HandleFunc("/v1/status", methodOnly(http.MethodGet, a.Status))
	if a.environment != "production" {
		mux.HandleFunc("/v1/status/simulate-push", methodOnly(http.MethodPost, a.SimulatePush))
	}

	limiter := NewRateLimiter(60, time.Minute)
	return limiter.Middleware(Auth(apiToken)(mux))
}

func methodOnly(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}
