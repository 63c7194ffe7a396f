package scheduler

import (
	"context"
	"errors"
	"fmt"
	"html"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"AlertSentinel/internal/collector"
	"AlertSentinel/internal/evaluator"
	"AlertSentinel/internal/model"
	"AlertSentinel/internal/portfolio"
	"AlertSentinel/internal/recorder"
	"AlertSentinel/internal/store"
)

type fakeRunner struct {
	errs   []error
	report evaluator.Report
	calls  int
}

func (f *fakeRunner) Run(context.Context) (evaluator.Report, error) {
	f.calls++
	if f.calls <= len(f.errs) && f.errs[f.calls-1] != nil {
		return evaluator.Report{}, f.errs[f.calls-1]
	}
	return f.report, nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	runs   []recorder.RunRecord
	trades []recorder.TradeEvent
}

func (f *fakeRecorder) RecordRun(_ context.Context, rec *recorder.RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, *rec)
	return nil
}

func (f *fakeRecorder) RecordTrade(_ context.Context, evt *recorder.TradeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trades = append(f.trades, *evt)
	return nil
}

func (f *fakeRecorder) RecentRuns(_ context.Context, limit int) ([]recorder.RunRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recorder.RunRecord
	for i := len(f.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.runs[i])
	}
	return out, nil
}

func (f *fakeRecorder) Close() error { return nil }

type fakeProvider struct {
	quotes model.Quotes
	calls  int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) GetPrices(_ context.Context, assets []model.Asset) (model.Quotes, error) {
	f.calls++
	out := model.Quotes{}
	for _, a := range assets {
		if p, ok := f.quotes[a.ID]; ok {
			out[a.ID] = p
		}
	}
	return out, nil
}

type fakePurger struct{ n, calls int }

func (f *fakePurger) Purge() int { f.calls++; return f.n }

func newTestScheduler(t *testing.T, runner AlertRunner, maxRetries int) (*Scheduler, *fakeRecorder, *[]time.Duration) {
	t.Helper()
	rec := &fakeRecorder{}
	s := NewScheduler(context.Background(), Deps{Evaluator: runner, Recorder: rec},
		Options{AlertCheck: "0 * * * * *", TaskTimeout: time.Minute, MaxRetries: maxRetries}, zap.NewNop())
	var slept []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) bool {
		slept = append(slept, d)
		return true
	}
	return s, rec, &slept
}

func TestRetryBackoff(t *testing.T) {
	assert.Equal(t, time.Second, retryBackoff(0))
	assert.Equal(t, 2*time.Second, retryBackoff(1))
	assert.Equal(t, 32*time.Second, retryBackoff(5))
	assert.Equal(t, maxBackoff, retryBackoff(6))
	assert.Equal(t, maxBackoff, retryBackoff(40))
}

func TestRunAlertCheckNow_RetriesStoreFailure(t *testing.T) {
	storeErr := fmt.Errorf("%w: locked", evaluator.ErrStoreUnavailable)
	runner := &fakeRunner{
		errs: []error{storeErr, storeErr},
		report: evaluator.Report{RunID: "run-1", Partitions: []evaluator.PartitionResult{
			{Class: model.AssetClassCrypto, Alerts: 3, Triggered: 2, Notified: 1, Skipped: 1},
		}},
	}
	s, rec, slept := newTestScheduler(t, runner, 3)

	report, err := s.RunAlertCheckNow()
	require.NoError(t, err)
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, 3, runner.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)

	require.Len(t, rec.runs, 1)
	r := rec.runs[0]
	assert.Equal(t, "run-1", r.RunID)
	assert.Equal(t, 3, r.Attempts)
	assert.Equal(t, 3, r.Alerts)
	assert.Equal(t, 2, r.Triggered)
	assert.Equal(t, 1, r.Notified)
	assert.Equal(t, 1, r.Skipped)
	assert.False(t, r.Failed())
}

func TestRunAlertCheckNow_GivesUpAfterMaxRetries(t *testing.T) {
	storeErr := fmt.Errorf("%w: down", evaluator.ErrStoreUnavailable)
	runner := &fakeRunner{errs: []error{storeErr, storeErr, storeErr, storeErr}}
	s, rec, slept := newTestScheduler(t, runner, 2)

	_, err := s.RunAlertCheckNow()
	assert.ErrorIs(t, err, evaluator.ErrStoreUnavailable)
	assert.Equal(t, 3, runner.calls)
	assert.Len(t, *slept, 2)

	require.Len(t, rec.runs, 1)
	assert.NotEmpty(t, rec.runs[0].RunID)
	assert.True(t, rec.runs[0].Failed())
}

func TestRunAlertCheckNow_DoesNotRetryOtherErrors(t *testing.T) {
	runner := &fakeRunner{errs: []error{errors.New("boom")}}
	s, _, slept := newTestScheduler(t, runner, 3)

	_, err := s.RunAlertCheckNow()
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 1, runner.calls)
	assert.Empty(t, *slept)
}

func TestRunAlertCheckNow_StopsWhenSleepInterrupted(t *testing.T) {
	storeErr := fmt.Errorf("%w: down", evaluator.ErrStoreUnavailable)
	runner := &fakeRunner{errs: []error{storeErr, storeErr}}
	s, _, _ := newTestScheduler(t, runner, 3)
	s.sleep = func(context.Context, time.Duration) bool { return false }

	_, err := s.RunAlertCheckNow()
	assert.ErrorIs(t, err, evaluator.ErrStoreUnavailable)
	assert.Equal(t, 1, runner.calls)
}

func TestRecord_PartitionErrors(t *testing.T) {
	runner := &fakeRunner{report: evaluator.Report{RunID: "r", Partitions: []evaluator.PartitionResult{
		{Class: model.AssetClassCrypto, Alerts: 1},
		{Class: model.AssetClassStock, Alerts: 2, Err: errors.New("quota")},
	}}}
	s, rec, _ := newTestScheduler(t, runner, 0)

	_, err := s.RunAlertCheckNow()
	require.NoError(t, err)
	require.Len(t, rec.runs, 1)
	assert.Equal(t, 3, rec.runs[0].Alerts)
	assert.Equal(t, "STOCK: quota", rec.runs[0].Errors)
}

func TestRegisterAll(t *testing.T) {
	s, _, _ := newTestScheduler(t, &fakeRunner{}, 0)
	s.Caches = []Purger{&fakePurger{}}
	s.opts.CachePurge = "0 */5 * * * *"
	require.NoError(t, s.RegisterAll())
	assert.Len(t, s.Cron.Entries(), 2)

	bad, _, _ := newTestScheduler(t, &fakeRunner{}, 0)
	bad.opts.AlertCheck = "not a schedule"
	assert.Error(t, bad.RegisterAll())
}

func TestPurgeCaches(t *testing.T) {
	a, b := &fakePurger{n: 2}, &fakePurger{n: 1}
	s, _, _ := newTestScheduler(t, &fakeRunner{}, 0)
	s.Caches = []Purger{a, b}
	s.purgeCaches()
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func newCommandScheduler(t *testing.T) (*Scheduler, *fakeRecorder, *fakeProvider) {
	t.Helper()
	st, err := store.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "cmd.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	crypto := &fakeProvider{quotes: model.Quotes{"bitcoin": 65000, "ethereum": 3000}}
	providers := map[model.AssetClass]collector.Provider{model.AssetClassCrypto: crypto}
	rec := &fakeRecorder{}
	runner := &fakeRunner{report: evaluator.Report{RunID: "r", Partitions: []evaluator.PartitionResult{
		{Class: model.AssetClassCrypto, Alerts: 1, Triggered: 1, Notified: 1},
		{Class: model.AssetClassStock, Alerts: 1, Err: errors.New("quota")},
	}}}
	s := NewScheduler(context.Background(), Deps{
		Evaluator: runner,
		Store:     st,
		Portfolio: portfolio.NewManager(st, providers, zap.NewNop()),
		Providers: providers,
		Recorder:  rec,
	}, Options{AlertCheck: "0 * * * * *"}, zap.NewNop())
	return s, rec, crypto
}

func TestHandleCommand_Alerts(t *testing.T) {
	s, _, _ := newCommandScheduler(t)
	ctx := context.Background()

	assert.Contains(t, s.HandleCommand(ctx, "/alerts"), "No alerts yet")

	reply := s.HandleCommand(ctx, "/alert add crypto Bitcoin btc above 50000 Bitcoin")
	assert.Equal(t, "✅ Alert #1: BTC above $50,000.00", reply)

	reply = s.HandleCommand(ctx, "/alert add crypto bitcoin BTC above 50000")
	assert.Contains(t, reply, "already exists")

	reply = s.HandleCommand(ctx, "/alert add crypto bitcoin BTC sideways 50000")
	assert.Contains(t, reply, "unknown direction")

	reply = s.HandleCommand(ctx, "/alert add crypto bitcoin BTC below -5")
	assert.Contains(t, reply, "positive number")

	reply = s.HandleCommand(ctx, "/alert add crypto")
	assert.Contains(t, reply, "Usage: /alert add")

	assert.Contains(t, s.HandleCommand(ctx, "/alerts"), "#1 BTC above $50,000.00 [on]")

	assert.Equal(t, "✅ Alert #1 turned off.", s.HandleCommand(ctx, "/alert off 1"))
	assert.Contains(t, s.HandleCommand(ctx, "/alerts@sentinel_bot"), "[off]")

	assert.Contains(t, s.HandleCommand(ctx, "/alert on x"), "Usage")
	assert.Contains(t, s.HandleCommand(ctx, "/alert del 99"), "Not found")
	assert.Equal(t, "🗑 Alert #1 deleted.", s.HandleCommand(ctx, "/alert del 1"))
	assert.Contains(t, s.HandleCommand(ctx, "/alerts"), "No alerts yet")
}

func TestHandleCommand_Favorites(t *testing.T) {
	s, _, crypto := newCommandScheduler(t)
	ctx := context.Background()

	assert.Contains(t, s.HandleCommand(ctx, "/fav add crypto bitcoin btc Bitcoin"), "BTC added")
	assert.Contains(t, s.HandleCommand(ctx, "/fav add crypto ethereum eth"), "ETH added")
	assert.Contains(t, s.HandleCommand(ctx, "/fav add stock aapl aapl Apple"), "AAPL added")

	reply := s.HandleCommand(ctx, "/fav")
	assert.Contains(t, reply, "BTC (Bitcoin) $65,000.00")
	assert.Contains(t, reply, "AAPL (Apple) n/a")
	assert.Equal(t, 1, crypto.calls)

	assert.Equal(t, "Removed from favorites.", s.HandleCommand(ctx, "/fav del crypto ethereum"))
	assert.NotContains(t, s.HandleCommand(ctx, "/fav"), "ETH")
}

func TestHandleCommand_Trades(t *testing.T) {
	s, rec, _ := newCommandScheduler(t)
	ctx := context.Background()

	reply := s.HandleCommand(ctx, "/buy crypto bitcoin btc 0.5 50000")
	assert.Equal(t, "🟢 Bought 0.5 BTC at $50,000.00. Position: 0.5 @ $50,000.00", reply)

	reply = s.HandleCommand(ctx, "/portfolio")
	assert.Contains(t, reply, "now $65,000.00")

	assert.Contains(t, s.HandleCommand(ctx, "/sell crypto bitcoin 2"), "cannot sell more")
	assert.Equal(t, "🔴 Sold 0.2 BTC. Remaining: 0.3", s.HandleCommand(ctx, "/sell crypto bitcoin 0.2"))
	assert.Equal(t, "🔴 Sold 0.3 BTC. Position closed.", s.HandleCommand(ctx, "/sell crypto bitcoin 0.3"))
	assert.Contains(t, s.HandleCommand(ctx, "/buy crypto bitcoin btc many 1"), "Usage")

	require.Len(t, rec.trades, 3)
	assert.Equal(t, "BUY", rec.trades[0].Side)
	assert.Equal(t, 50000.0, rec.trades[0].Price)
	assert.Equal(t, "SELL", rec.trades[2].Side)
	assert.Zero(t, rec.trades[2].Remaining)
}

func TestHandleCommand_CheckAndHistory(t *testing.T) {
	s, _, _ := newCommandScheduler(t)
	ctx := context.Background()

	assert.Equal(t, "No alert checks recorded yet.", s.HandleCommand(ctx, "/history"))

	reply := s.HandleCommand(ctx, "/check")
	assert.Contains(t, reply, "1 triggered, 1 notified")
	assert.Contains(t, reply, "stock prices unavailable")

	assert.Contains(t, s.HandleCommand(ctx, "/history"), "2 alerts, 1 triggered, 1 notified | errors")
}

func TestHandleCommand_Help(t *testing.T) {
	s, _, _ := newCommandScheduler(t)
	help := s.HandleCommand(context.Background(), "/start")
	assert.Equal(t, html.EscapeString(helpText), help)
	assert.Contains(t, help, "/alert add &lt;crypto|stock&gt;")
	assert.NotContains(t, help, "<")
	assert.Equal(t, help, s.HandleCommand(context.Background(), "   "))
}

func TestHandleCommand_EscapesUserInput(t *testing.T) {
	s, _, _ := newCommandScheduler(t)
	ctx := context.Background()

	assert.Equal(t, "⭐ A&lt;B added to favorites.", s.HandleCommand(ctx, "/fav add crypto ab a<b <script>"))
	reply := s.HandleCommand(ctx, "/fav")
	assert.Contains(t, reply, "A&lt;B (&lt;script&gt;) n/a")
	assert.NotContains(t, reply, "<script>")

	usage := s.HandleCommand(ctx, "/sell crypto")
	assert.Contains(t, usage, "Usage: /sell &lt;crypto|stock&gt;")
}

type blockingRunner struct {
	started chan struct{}
	release chan struct{}
	mu      sync.Mutex
	running int
	maxSeen int
}

func (b *blockingRunner) Run(context.Context) (evaluator.Report, error) {
	b.mu.Lock()
	b.running++
	if b.running > b.maxSeen {
		b.maxSeen = b.running
	}
	b.mu.Unlock()

	b.started <- struct{}{}
	<-b.release

	b.mu.Lock()
	b.running--
	b.mu.Unlock()
	return evaluator.Report{RunID: "slow"}, nil
}

func TestRunAlertCheckNow_NeverOverlaps(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}, 2), release: make(chan struct{})}
	s, rec, _ := newTestScheduler(t, runner, 0)

	done := make(chan error, 1)
	go func() {
		_, err := s.RunAlertCheckNow()
		done <- err
	}()
	<-runner.started

	_, err := s.RunAlertCheckNow()
	assert.ErrorIs(t, err, ErrCheckRunning)
	assert.Equal(t, "⏳ An alert check is already running.", s.HandleCommand(context.Background(), "/check"))

	close(runner.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, runner.maxSeen)
	assert.Len(t, rec.runs, 1)

	// The lock is released after the pass.
	_, err = s.RunAlertCheckNow()
	require.NoError(t, err)
	<-runner.started
	assert.Equal(t, 1, runner.maxSeen)
}

func TestHandleCommand_AlertOnRejectsDuplicate(t *testing.T) {
	s, _, _ := newCommandScheduler(t)
	ctx := context.Background()

	require.Contains(t, s.HandleCommand(ctx, "/alert add crypto bitcoin BTC above 50000"), "Alert #1")
	require.Contains(t, s.HandleCommand(ctx, "/alert off 1"), "turned off")
	require.Contains(t, s.HandleCommand(ctx, "/alert add crypto bitcoin BTC above 50000"), "Alert #2")

	assert.Equal(t, "❌ An active alert with the same condition already exists.", s.HandleCommand(ctx, "/alert on 1"))
	assert.Contains(t, s.HandleCommand(ctx, "/alerts"), "#1 BTC above $50,000.00 [off]")
}
