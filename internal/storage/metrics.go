package storage

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/metric"

	"github.com/humanfirst-ai/attune/internal/telemetry"
)

// RegisterPoolMetrics exports pgxpool statistics as observable gauges.
// Registration failures are logged, not fatal: the pool works fine without
// metrics.
func (db *DB) RegisterPoolMetrics() {
	meter := telemetry.Meter("attune/storage")

	acquired, err1 := meter.Int64ObservableGauge("attune.db.pool.acquired_conns",
		metric.WithDescription("Connections currently checked out of the pool"))
	idle, err2 := meter.Int64ObservableGauge("attune.db.pool.idle_conns",
		metric.WithDescription("Idle connections in the pool"))
	total, err3 := meter.Int64ObservableGauge("attune.db.pool.total_conns",
		metric.WithDescription("Total connections held by the pool"))
	if err := errors.Join(err1, err2, err3); err != nil {
		db.logger.Warn("storage: create pool gauges", "error", err)
		return
	}

	_, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stat := db.pool.Stat()
		o.ObserveInt64(acquired, int64(stat.AcquiredConns()))
		o.ObserveInt64(idle, int64(stat.IdleConns()))
		o.ObserveInt64(total, int64(stat.TotalConns()))
		return nil
	}, acquired, idle, total)
	if err != nil {
		db.logger.Warn("storage: register pool metrics callback", "error", err)
	}
}
