package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrUnreachable indicates that the store did not answer the reachability probe in time.
var ErrUnreachable = errors.New("database: store unreachable")

// clockQueries returns the store's current time in unix milliseconds, per dialect.
var clockQueries = map[string]string{
	DriverSQLite:   "SELECT CAST(ROUND((julianday('now') - 2440587.5) * 86400000.0) AS INTEGER)",
	DriverPostgres: "SELECT CAST(FLOOR(EXTRACT(EPOCH FROM clock_timestamp()) * 1000) AS BIGINT)",
}

// Probe checks whether a store answers within a deadline.
type Probe struct {
	db *gorm.DB
}

// NewProbe binds a Probe to db.
func NewProbe(db *gorm.DB) *Probe {
	return &Probe{db: db}
}

// TryConnect pings the store and fails closed when timeout elapses first.
func (p *Probe) TryConnect(ctx context.Context, timeout time.Duration) error {
	if p == nil || p.db == nil {
		return fmt.Errorf("%w: no connection configured", ErrUnreachable)
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sqlDB, err := p.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if err := sqlDB.PingContext(probeCtx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return nil
}

// Clock reads the current time from a store's own clock.
type Clock struct {
	db    *gorm.DB
	query string
}

// NewClock binds a Clock to db using the query for its dialect.
func NewClock(db *gorm.DB) (*Clock, error) {
	if db == nil {
		return nil, errors.New("database: clock requires a connection")
	}
	query, ok := clockQueries[db.Dialector.Name()]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, db.Dialector.Name())
	}
	return &Clock{db: db, query: query}, nil
}

// Now returns the store's current time in UTC at millisecond precision.
func (c *Clock) Now(ctx context.Context) (time.Time, error) {
	var unixMillis int64
	if err := c.db.WithContext(ctx).Raw(c.query).Scan(&unixMillis).Error; err != nil {
		return time.Time{}, err
	}
	if unixMillis <= 0 {
		return time.Time{}, fmt.Errorf("database: clock returned %d", unixMillis)
	}
	return time.UnixMilli(unixMillis).UTC(), nil
}
