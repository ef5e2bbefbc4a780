package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/orderflow-backend/api/controllers"
	admincontrollers "github.com/angelmondragon/orderflow-backend/api/controllers/admin"
	drivercontrollers "github.com/angelmondragon/orderflow-backend/api/controllers/drivers"
	ordercontrollers "github.com/angelmondragon/orderflow-backend/api/controllers/orders"
	"github.com/angelmondragon/orderflow-backend/api/middleware"
	"github.com/angelmondragon/orderflow-backend/internal/bulk"
	"github.com/angelmondragon/orderflow-backend/internal/history"
	internalorders "github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/internal/realtime"
	"github.com/angelmondragon/orderflow-backend/internal/workflow"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/pagination"
	"github.com/angelmondragon/orderflow-backend/pkg/redis"
)

// Workflow is the transition authority behind the order endpoints.
type Workflow interface {
	ExecuteStatusChange(ctx context.Context, req workflow.ChangeRequest) (*workflow.ChangeResult, error)
	AllowedTransitions(current enums.OrderStatus, role enums.Role, actorID string, order models.Order) []enums.OrderStatus
}

// Orders reads order views for the API.
type Orders interface {
	GetView(ctx context.Context, id uuid.UUID) (*internalorders.OrderView, error)
	ListByRestaurant(ctx context.Context, restaurantID uuid.UUID, params pagination.Params) (*pagination.Page[internalorders.OrderView], error)
	ListByDriver(ctx context.Context, driverID uuid.UUID, params pagination.Params) (*pagination.Page[internalorders.OrderView], error)
	ListByStatus(ctx context.Context, status enums.OrderStatus, params pagination.Params) (*pagination.Page[internalorders.OrderView], error)
}

// Timeline reads the audit trail of an order.
type Timeline interface {
	OrderTimeline(ctx context.Context, orderID uuid.UUID) ([]history.TimelineEntry, error)
}

// Realtime covers the subscription, presence and location surfaces.
type Realtime interface {
	SubscribeOrderChanges(ctx context.Context, userID string, callback func(realtime.OrderChange)) (*realtime.Handle, error)
	SubscribeBroadcast(ctx context.Context, key, topic string, callback func(realtime.Message)) (*realtime.Handle, error)
	Unsubscribe(handle *realtime.Handle) error
	TrackPresence(ctx context.Context, presence realtime.DriverPresence) error
	UntrackPresence(ctx context.Context, driverID string) error
	PresenceState(ctx context.Context) (map[string]realtime.DriverPresence, error)
	BroadcastDriverLocation(ctx context.Context, loc realtime.DriverLocation) error
}

// BulkOperations runs admin bulk intents.
type BulkOperations interface {
	Preview(ctx context.Context, req bulk.Request) (*bulk.Preview, error)
	Execute(ctx context.Context, req bulk.Request) (*bulk.Result, error)
	GetBatch(ctx context.Context, id uuid.UUID) (*models.BatchOperation, error)
}

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       controllers.Pinger
	Redis    *redis.Client
	Workflow Workflow
	Orders   Orders
	History  Timeline
	Realtime Realtime
	Bulk     BulkOperations
	// Gatherer backs /metrics. Defaults to the prometheus default registry.
	Gatherer prometheus.Gatherer
	// StreamHeartbeat overrides the SSE keep-alive interval.
	StreamHeartbeat time.Duration
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	// A nil *redis.Client must reach the middleware as a nil interface.
	var (
		idemStore idempotencyStore
		limiter   windowLimiter
		readyDeps = map[string]controllers.Pinger{}
	)
	if deps.Redis != nil {
		idemStore = deps.Redis
		limiter = deps.Redis
		readyDeps["redis"] = deps.Redis
	}
	if deps.DB != nil {
		readyDeps["db"] = deps.DB
	}

	statusPolicy := middleware.NewRateLimitPolicy("status", cfg.RateLimit.Window, cfg.RateLimit.StatusLimit)
	locationPolicy := middleware.NewRateLimitPolicy("location", cfg.RateLimit.Window, cfg.RateLimit.LocationLimit)
	bulkPolicy := middleware.NewRateLimitPolicy("bulk", cfg.RateLimit.Window, cfg.RateLimit.BulkLimit)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readyDeps))
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Actor(logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordercontrollers.List(deps.Orders, logg))
			r.Get("/{orderId}/transitions", ordercontrollers.Transitions(deps.Orders, deps.Workflow, logg))
			r.Get("/{orderId}/timeline", ordercontrollers.Timeline(deps.Orders, deps.History, logg))
			r.With(middleware.RateLimit(statusPolicy, limiter, logg), middleware.Idempotent(idemStore, middleware.StatusChangeIdempotency, logg)).
				Post("/{orderId}/status", ordercontrollers.ChangeStatus(deps.Workflow, logg))
		})

		r.Route("/drivers", func(r chi.Router) {
			r.With(middleware.RequireRole(logg, enums.RoleDriver)).
				Post("/presence", drivercontrollers.UpdatePresence(deps.Realtime, logg))
			r.With(middleware.RequireRole(logg, enums.RoleAdmin)).
				Get("/presence", drivercontrollers.ListPresence(deps.Realtime, logg))
			r.With(middleware.RequireRole(logg, enums.RoleDriver), middleware.RateLimit(locationPolicy, limiter, logg)).
				Post("/location", drivercontrollers.UpdateLocation(deps.Orders, deps.Realtime, logg))
		})

		r.Get("/stream", controllers.Stream(controllers.StreamParams{
			Subscriber: deps.Realtime,
			Orders:     deps.Orders,
			Logger:     logg,
			Heartbeat:  deps.StreamHeartbeat,
		}))

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleAdmin))
			r.Route("/orders/bulk", func(r chi.Router) {
				r.Use(middleware.RateLimit(bulkPolicy, limiter, logg))
				r.With(middleware.Idempotent(idemStore, middleware.BulkIdempotency, logg)).
					Post("/", admincontrollers.BulkExecute(deps.Bulk, logg))
				r.Post("/preview", admincontrollers.BulkPreview(deps.Bulk, logg))
			})
			r.Get("/batches/{batchId}", admincontrollers.Batch(deps.Bulk, logg))
		})
	})

	return r
}

type idempotencyStore interface {
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, key string) string
}

type windowLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}
