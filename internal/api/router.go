package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/Harshitk-cp/veracity/internal/api/handlers"
	mw "github.com/Harshitk-cp/veracity/internal/api/middleware"
	"github.com/Harshitk-cp/veracity/internal/buildconfig"
	"github.com/Harshitk-cp/veracity/internal/domain"
	"github.com/Harshitk-cp/veracity/internal/events"
	"github.com/Harshitk-cp/veracity/internal/metrics"
	"github.com/Harshitk-cp/veracity/internal/service"
	"github.com/Harshitk-cp/veracity/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// HealthCheck pings one dependency.
type HealthCheck func(ctx context.Context) error

// Deps is everything NewApp needs from the outside world.
type Deps struct {
	Signals     domain.SignalStore
	Submissions domain.SubmissionStore
	Settlements domain.SettlementStore
	Publisher   domain.EventPublisher
	Weights     *service.WeightsRegistry
	Metrics     *metrics.Collector

	Scheduler   service.SchedulerConfig
	Temperature float64
	Priority    []string

	APIKeys        []string
	RateLimitRPS   float64
	RateLimitBurst int

	// HealthChecks are reported by /health next to the signal store.
	HealthChecks map[string]HealthCheck
}

// App holds the router and background services for lifecycle management.
type App struct {
	Router    *chi.Mux
	Scheduler *service.EpochScheduler
	Collector *service.SubmissionCollector
	Signals   *service.SignalService

	aggregator *service.Aggregator
	limiter    *mw.RateLimiter
}

// Close stops the router's background goroutines. The scheduler has its own
// Stop.
func (a *App) Close() {
	a.limiter.Stop()
}

// SetClock replaces the wall clock of every epoch-aware service, for tests.
// Call before Scheduler.Start.
func (a *App) SetClock(now func() time.Time) {
	a.Collector.SetClock(now)
	a.aggregator.SetClock(now)
	a.Scheduler.SetClock(now)
}

func NewApp(deps Deps, logger *zap.Logger) *App {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewCollector(buildconfig.Version(), buildconfig.Commit())
	}
	if deps.Weights == nil {
		deps.Weights = service.NewWeightsRegistry(nil)
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NewLogPublisher(logger)
	}
	if deps.RateLimitRPS <= 0 {
		deps.RateLimitRPS = 100
	}
	if deps.RateLimitBurst <= 0 {
		deps.RateLimitBurst = 20
	}

	// Services
	gate := service.NewEpochGate()
	signalSvc := service.NewSignalService(deps.Signals, deps.Priority, logger)
	collector := service.NewSubmissionCollector(deps.Signals, deps.Submissions, gate, logger)
	aggregator := service.NewAggregator(deps.Signals, deps.Submissions, deps.Settlements, deps.Temperature, logger)
	scheduler := service.NewEpochScheduler(aggregator, deps.Submissions, deps.Settlements, gate,
		deps.Publisher, deps.Metrics, deps.Scheduler, logger)

	// Handlers
	contentHandler := handlers.NewContentHandler(signalSvc, service.NewProportionalAdjuster(), deps.Weights)
	submissionHandler := handlers.NewSubmissionHandler(collector, deps.Metrics)
	epochHandler := handlers.NewEpochHandler(scheduler, collector)
	settlementHandler := handlers.NewSettlementHandler(scheduler)
	weightsHandler := handlers.NewWeightsHandler(deps.Weights)

	limiter := mw.NewRateLimiter(deps.RateLimitRPS, deps.RateLimitBurst)
	limiter.StartCleanup(10*time.Minute, 10*time.Minute)

	r := chi.NewRouter()
	app := &App{Router: r, Scheduler: scheduler, Collector: collector, Signals: signalSvc, aggregator: aggregator, limiter: limiter}

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Metrics(deps.Metrics))
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(limiter.Middleware)

	// Unauthenticated
	checks := map[string]HealthCheck{"signal_store": signalSvc.Ping}
	for name, check := range deps.HealthChecks {
		checks[name] = check
	}
	r.Get("/health", healthHandler(checks))
	r.Get("/version", versionHandler)
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(deps.APIKeys))

		r.Route("/content", func(r chi.Router) {
			r.Post("/", contentHandler.Register)
			r.Get("/", contentHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/signals", contentHandler.Signals)
				r.Post("/adjust", contentHandler.Adjust)
				r.Post("/submissions", submissionHandler.Create)
				r.Route("/epochs/{n}", func(r chi.Router) {
					r.Get("/submissions", submissionHandler.Pending)
					r.Get("/settlement", settlementHandler.Get)
					r.Post("/settle", settlementHandler.Settle)
				})
			})
		})

		r.Get("/epochs/current", epochHandler.Current)
		r.Get("/epochs/{n}", epochHandler.Get)

		r.Get("/settlements/failed", settlementHandler.Failed)

		r.Get("/weights", weightsHandler.List)
		r.Get("/weights/{name}", weightsHandler.Get)
	})

	return app
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(names))
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "error"
		}
		handlers.WriteJSON(w, status, map[string]any{"status": overall, "checks": results})
	}
}

func versionHandler(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSON(w, http.StatusOK, buildconfig.Get())
}

// Ensure stores and publishers satisfy interfaces at compile time.
var (
	_ domain.SignalStore     = (*store.SignalStore)(nil)
	_ domain.SubmissionStore = (*store.SubmissionStore)(nil)
	_ domain.SettlementStore = (*store.SettlementStore)(nil)
	_ domain.SignalStore     = (*store.SQLiteSignalStore)(nil)
	_ domain.SubmissionStore = (*store.SQLiteSubmissionStore)(nil)
	_ domain.SettlementStore = (*store.SQLiteSettlementStore)(nil)
	_ domain.SignalStore     = (*store.InMemorySignalStore)(nil)
	_ domain.SubmissionStore = (*store.InMemorySubmissionStore)(nil)
	_ domain.SettlementStore = (*store.InMemorySettlementStore)(nil)
	_ domain.SubmissionStore = (*store.RedisSubmissionStore)(nil)
	_ domain.EventPublisher  = (*events.KafkaPublisher)(nil)
	_ domain.EventPublisher  = (*events.LogPublisher)(nil)

	_ service.SettlementRecorder  = (*metrics.Collector)(nil)
	_ handlers.SubmissionObserver = (*metrics.Collector)(nil)
	_ mw.HTTPObserver             = (*metrics.Collector)(nil)
)
