package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// RegisterDBStats exports pool statistics (open, in use, waits) under the
// given database name.
func RegisterDBStats(reg prometheus.Registerer, name string, pool *sql.DB) error {
	if reg == nil || pool == nil {
		return nil
	}
	return reg.Register(collectors.NewDBStatsCollector(pool, name))
}
