package recorder

import (
	"context"
	"time"
)

// RunRecord is one alert evaluation pass.
type RunRecord struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Attempts  int
	Alerts    int
	Triggered int
	Notified  int
	Skipped   int
	// Errors holds the failed partitions or the store error, empty on success.
	Errors string
}

// Failed reports whether the pass had any error.
func (r *RunRecord) Failed() bool { return r.Errors != "" }

// TradeEvent records a simulated buy or sell.
type TradeEvent struct {
	Side       string // "BUY" or "SELL"
	AssetID    string
	AssetClass string
	Quantity   float64
	Price      float64
	AvgCost    float64
	Remaining  float64
}

// Recorder persists historical data for analysis.
type Recorder interface {
	RecordRun(ctx context.Context, rec *RunRecord) error
	RecordTrade(ctx context.Context, evt *TradeEvent) error
	RecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}
