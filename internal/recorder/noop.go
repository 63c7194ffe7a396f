package recorder

import "context"

// NoopRecorder is a no-op implementation used when no history database is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordRun(context.Context, *RunRecord) error          { return nil }
func (n *NoopRecorder) RecordTrade(context.Context, *TradeEvent) error       { return nil }
func (n *NoopRecorder) RecentRuns(context.Context, int) ([]RunRecord, error) { return nil, nil }
func (n *NoopRecorder) Close() error                                         { return nil }
