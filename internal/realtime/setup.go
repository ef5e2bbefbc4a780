package realtime

import (
	"fmt"
	"strings"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/redis"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// NewFromConfig builds the process-wide Manager with the backend and
// throttler selected by cfg. client may be nil when cfg selects neither the
// redis backend nor the shared throttle.
func NewFromConfig(cfg config.RealtimeConfig, client *redis.Client, logg *logger.Logger, m *metrics.RealtimeMetrics) (*Manager, error) {
	var backend Backend
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		backend = NewMemoryBackend()
	case BackendRedis:
		if client == nil {
			return nil, errRequired("redis client")
		}
		rb, err := NewRedisBackend(client, logg)
		if err != nil {
			return nil, err
		}
		backend = rb
	default:
		return nil, fmt.Errorf("unknown realtime backend %q", cfg.Backend)
	}

	var throttler Throttler
	if cfg.SharedThrottle {
		if client == nil {
			return nil, errRequired("redis client")
		}
		shared, err := NewSharedThrottler(client, cfg.MaxBurstSize, logg)
		if err != nil {
			return nil, err
		}
		throttler = shared
	}

	return NewManager(ManagerParams{
		Backend:   backend,
		Logger:    logg,
		Metrics:   m,
		Throttler: throttler,
		Options: Options{
			MaxUpdatesPerSecond:  cfg.MaxUpdatesPerSecond,
			MaxBurstSize:         cfg.MaxBurstSize,
			BaseReconnectDelay:   cfg.BaseReconnectDelay,
			MaxReconnectDelay:    cfg.MaxReconnectDelay,
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
			SubscribeTimeout:     cfg.SubscribeTimeout,
		},
	})
}
