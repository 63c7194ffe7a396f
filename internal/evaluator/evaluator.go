// Package evaluator checks active price alerts against fresh quotes and
// notifies the user about every alert whose condition holds.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"AlertSentinel/internal/collector"
	"AlertSentinel/internal/metrics"
	"AlertSentinel/internal/model"
	"AlertSentinel/internal/notifier"
	"AlertSentinel/internal/store"
)

// Policy decides what happens to an alert after it fired.
type Policy string

const (
	// PolicyRefire keeps the alert active; it fires on every pass while the
	// condition holds.
	PolicyRefire Policy = "refire"
	// PolicyFireOnce deactivates the alert after a successful notification.
	PolicyFireOnce Policy = "fire_once"
)

var (
	// ErrStoreUnavailable marks a pass that could not load alerts. Retry later.
	ErrStoreUnavailable = errors.New("alert store unavailable")
	// ErrNoProvider is recorded for a class without a configured provider.
	ErrNoProvider = errors.New("no provider for asset class")
)

// AlertSource is the part of the store the evaluator needs.
type AlertSource interface {
	ListActive(ctx context.Context) ([]model.PriceAlert, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

// PartitionResult summarizes one asset class of a pass.
type PartitionResult struct {
	Class     model.AssetClass
	Alerts    int
	Assets    int
	Evaluated int
	Triggered int
	Notified  int
	// Skipped counts alerts without a price in the snapshot.
	Skipped int
	Err     error
}

// Report summarizes one evaluation pass.
type Report struct {
	RunID      string
	Partitions []PartitionResult
	Duration   time.Duration
}

// Failed reports whether any partition failed.
func (r Report) Failed() bool {
	for _, p := range r.Partitions {
		if p.Err != nil {
			return true
		}
	}
	return false
}

// Totals sums triggered and notified alerts over all partitions.
func (r Report) Totals() (triggered, notified int) {
	for _, p := range r.Partitions {
		triggered += p.Triggered
		notified += p.Notified
	}
	return triggered, notified
}

// Evaluator runs alert passes.
type Evaluator struct {
	store     AlertSource
	providers map[model.AssetClass]collector.Provider
	notifier  notifier.Notifier
	policy    Policy
	log       *zap.Logger
	metrics   *metrics.Metrics
}

// Option configures an Evaluator.
type Option func(*Evaluator)

func WithPolicy(p Policy) Option {
	return func(e *Evaluator) { e.policy = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

func New(st AlertSource, providers map[model.AssetClass]collector.Provider, n notifier.Notifier, log *zap.Logger, opts ...Option) *Evaluator {
	e := &Evaluator{
		store:     st,
		providers: providers,
		notifier:  n,
		policy:    PolicyRefire,
		log:       log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run loads the active alerts and evaluates them. Only a failure to load
// alerts is returned as an error; partition failures are in the report.
func (e *Evaluator) Run(ctx context.Context) (Report, error) {
	alerts, err := e.store.ListActive(ctx)
	if err != nil {
		e.metrics.Run("store_error", 0)
		return Report{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return e.Evaluate(ctx, alerts), nil
}

// Evaluate checks alerts against one price snapshot per asset class.
// Inactive alerts are ignored. Each class is fetched with a single call
// and classes are processed concurrently; a failing class does not affect
// the others.
func (e *Evaluator) Evaluate(ctx context.Context, alerts []model.PriceAlert) Report {
	start := time.Now()
	report := Report{RunID: uuid.NewString()}
	log := e.log.With(zap.String("run_id", report.RunID))

	byClass := make(map[model.AssetClass][]model.PriceAlert)
	for _, a := range alerts {
		if !a.IsActive {
			continue
		}
		byClass[a.AssetClass] = append(byClass[a.AssetClass], a)
	}
	if len(byClass) == 0 {
		log.Debug("no active alerts")
		report.Duration = time.Since(start)
		e.metrics.Run("empty", report.Duration)
		return report
	}

	var classes []model.AssetClass
	for _, c := range model.AssetClasses {
		if len(byClass[c]) > 0 {
			classes = append(classes, c)
		}
	}
	for c, as := range byClass {
		if !c.Valid() {
			log.Warn("alerts with unknown asset class ignored",
				zap.String("asset_class", string(c)), zap.Int("alerts", len(as)))
		}
	}

	results := make([]PartitionResult, len(classes))
	var wg sync.WaitGroup
	for i, class := range classes {
		wg.Add(1)
		go func(i int, class model.AssetClass) {
			defer wg.Done()
			results[i] = e.evaluatePartition(ctx, log, class, byClass[class])
		}(i, class)
	}
	wg.Wait()

	report.Partitions = results
	report.Duration = time.Since(start)

	triggered, notified := report.Totals()
	result := "ok"
	if report.Failed() {
		result = "partial"
	}
	e.metrics.Run(result, report.Duration)
	log.Info("alert pass finished",
		zap.Int("alerts", len(alerts)),
		zap.Int("triggered", triggered),
		zap.Int("notified", notified),
		zap.Bool("failed_partitions", report.Failed()),
		zap.Duration("took", report.Duration))
	return report
}

func (e *Evaluator) evaluatePartition(ctx context.Context, log *zap.Logger, class model.AssetClass, alerts []model.PriceAlert) (res PartitionResult) {
	res.Class = class
	res.Alerts = len(alerts)
	log = log.With(zap.String("asset_class", string(class)))

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("partition %s panicked: %v", class, r)
			log.Error("partition panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	assets := model.DistinctAssets(alerts)
	res.Assets = len(assets)

	provider, ok := e.providers[class]
	if !ok || provider == nil {
		res.Err = fmt.Errorf("%w: %s", ErrNoProvider, class)
		log.Error("cannot evaluate partition", zap.Error(res.Err))
		return res
	}

	quotes, err := provider.GetPrices(ctx, assets)
	if err != nil {
		res.Err = fmt.Errorf("fetch %s prices from %s: %w", class, provider.Name(), err)
		log.Error("price fetch failed, skipping partition",
			zap.String("provider", provider.Name()),
			zap.Int("assets", len(assets)),
			zap.Error(err))
		return res
	}

	for i := range alerts {
		a := &alerts[i]
		price, ok := quotes[a.AssetID]
		if !ok {
			res.Skipped++
			log.Warn("no price for alert", zap.Int64("alert_id", a.ID), zap.String("asset_id", a.AssetID))
			continue
		}
		res.Evaluated++
		if !a.Triggered(price) {
			continue
		}

		res.Triggered++
		e.metrics.Triggered(string(class))
		if e.notify(ctx, log, a, price) {
			res.Notified++
		}
	}
	return res
}

// notify delivers one triggered alert and applies the policy. It reports
// whether delivery succeeded.
func (e *Evaluator) notify(ctx context.Context, log *zap.Logger, a *model.PriceAlert, price float64) bool {
	n := notifier.FormatAlertNotification(a, price)
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.metrics.Notified("error")
		log.Error("notify failed",
			zap.Int64("alert_id", a.ID),
			zap.String("symbol", a.AssetSymbol),
			zap.Error(err))
		return false
	}
	e.metrics.Notified("ok")
	log.Info("alert triggered",
		zap.Int64("alert_id", a.ID),
		zap.String("symbol", a.AssetSymbol),
		zap.String("direction", string(a.Direction)),
		zap.Float64("target", a.TargetPrice),
		zap.Float64("price", price))

	if e.policy == PolicyFireOnce {
		if err := e.store.SetActive(ctx, a.ID, false); err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Error("deactivate fired alert", zap.Int64("alert_id", a.ID), zap.Error(err))
		}
	}
	return true
}

// IsRetryable reports whether a Run error is worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
