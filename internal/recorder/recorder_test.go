package recorder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSQLiteRecorder_RunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	r, err := NewSQLiteRecorder(ctx, filepath.Join(t.TempDir(), "history.db"), zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	base := time.Unix(1_700_000_000, 0)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, r.RecordRun(ctx, &RunRecord{
			RunID: id, StartedAt: base.Add(time.Duration(i) * time.Minute),
			Duration: 1500 * time.Millisecond, Attempts: 1, Alerts: 3, Triggered: i, Notified: i,
		}))
	}
	require.NoError(t, r.RecordRun(ctx, &RunRecord{RunID: "d", StartedAt: base.Add(time.Hour), Errors: "store unavailable"}))

	runs, err := r.RecentRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "d", runs[0].RunID)
	assert.True(t, runs[0].Failed())
	assert.Equal(t, "c", runs[1].RunID)
	assert.Equal(t, 2, runs[1].Triggered)
	assert.Equal(t, 1500*time.Millisecond, runs[1].Duration)
	assert.Equal(t, base.Add(2*time.Minute).Unix(), runs[1].StartedAt.Unix())
}

func TestSQLiteRecorder_Trade(t *testing.T) {
	ctx := context.Background()
	r, err := NewSQLiteRecorder(ctx, filepath.Join(t.TempDir(), "history.db"), zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.RecordTrade(ctx, &TradeEvent{Side: "BUY", AssetID: "bitcoin", AssetClass: "CRYPTO", Quantity: 1, Price: 50000}))

	var n int
	require.NoError(t, r.db.QueryRow(`SELECT COUNT(1) FROM trade_history WHERE side = 'BUY'`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NewNoopRecorder()
	assert.NoError(t, r.RecordRun(context.Background(), &RunRecord{}))
	runs, err := r.RecentRuns(context.Background(), 5)
	assert.NoError(t, err)
	assert.Empty(t, runs)
}
