package scheduler

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"AlertSentinel/internal/model"
	"AlertSentinel/internal/notifier"
	"AlertSentinel/internal/portfolio"
	"AlertSentinel/internal/recorder"
	"AlertSentinel/internal/store"
)

const helpText = `Available commands:
/alerts - list alerts
/alert add <crypto|stock> <id> <symbol> <above|below> <price> [name]
/alert on|off|del <id>
/check - evaluate alerts now
/fav - list favorites with prices
/fav add <crypto|stock> <id> <symbol> [name]
/fav del <crypto|stock> <id>
/portfolio - value the simulated portfolio
/buy <crypto|stock> <id> <symbol> <qty> <price>
/sell <crypto|stock> <id> <qty>
/history - recent alert checks`

// HandleCommand processes a user command and returns a reply formatted for
// Telegram HTML mode.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return html.EscapeString(helpText)
	}
	// Telegram appends @botname in groups.
	name, _, _ := strings.Cut(strings.ToLower(fields[0]), "@")
	args := fields[1:]

	var (
		reply string
		err   error
	)
	switch name {
	case "/alerts":
		reply, err = s.listAlerts(ctx)
	case "/alert":
		reply, err = s.alertCommand(ctx, args)
	case "/check":
		reply, err = s.checkNow()
	case "/fav":
		reply, err = s.favCommand(ctx, args)
	case "/portfolio":
		reply, err = s.portfolioSummary(ctx)
	case "/buy":
		reply, err = s.buy(ctx, args)
	case "/sell":
		reply, err = s.sell(ctx, args)
	case "/history":
		reply, err = s.history(ctx)
	default:
		return html.EscapeString(helpText)
	}
	if err != nil {
		s.log.Warn("command failed", zap.String("command", command), zap.Error(err))
		return "❌ " + html.EscapeString(userError(err))
	}
	return reply
}

var errUsage = errors.New("usage")

func usage(form string) error {
	return fmt.Errorf("%w: %s", errUsage, form)
}

func userError(err error) string {
	switch {
	case errors.Is(err, errUsage):
		return "Usage: " + strings.TrimPrefix(err.Error(), "usage: ")
	case errors.Is(err, store.ErrAlreadyExists):
		return "An active alert with the same condition already exists."
	case errors.Is(err, store.ErrNotFound):
		return "Not found."
	case errors.Is(err, portfolio.ErrInsufficientQuantity):
		return "You cannot sell more than you hold."
	case errors.Is(err, store.ErrUnavailable):
		return "Storage is unavailable, try again later."
	default:
		return err.Error()
	}
}

func (s *Scheduler) listAlerts(ctx context.Context) (string, error) {
	alerts, err := s.Store.ListAlerts(ctx)
	if err != nil {
		return "", err
	}
	return notifier.FormatAlertList(alerts), nil
}

func (s *Scheduler) alertCommand(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return s.listAlerts(ctx)
	}
	switch strings.ToLower(args[0]) {
	case "add":
		return s.addAlert(ctx, args[1:])
	case "on", "off":
		if len(args) != 2 {
			return "", usage("/alert on|off <id>")
		}
		id, err := cast.ToInt64E(args[1])
		if err != nil {
			return "", usage("/alert on|off <id>")
		}
		active := strings.ToLower(args[0]) == "on"
		if err := s.Store.SetActive(ctx, id, active); err != nil {
			return "", err
		}
		return fmt.Sprintf("✅ Alert #%d turned %s.", id, strings.ToLower(args[0])), nil
	case "del", "delete", "rm":
		if len(args) != 2 {
			return "", usage("/alert del <id>")
		}
		id, err := cast.ToInt64E(args[1])
		if err != nil {
			return "", usage("/alert del <id>")
		}
		if err := s.Store.DeleteByID(ctx, id); err != nil {
			return "", err
		}
		return fmt.Sprintf("🗑 Alert #%d deleted.", id), nil
	default:
		return html.EscapeString(helpText), nil
	}
}

func (s *Scheduler) addAlert(ctx context.Context, args []string) (string, error) {
	const form = "/alert add <crypto|stock> <id> <symbol> <above|below> <price> [name]"
	if len(args) < 5 {
		return "", usage(form)
	}
	class, err := model.ParseAssetClass(args[0])
	if err != nil {
		return "", err
	}
	dir, err := model.ParseDirection(args[3])
	if err != nil {
		return "", err
	}
	target, err := cast.ToFloat64E(strings.TrimPrefix(args[4], "$"))
	if err != nil || target <= 0 {
		return "", fmt.Errorf("target price must be a positive number, got %q", args[4])
	}

	a := model.PriceAlert{
		AssetID:     assetID(class, args[1]),
		AssetSymbol: strings.ToUpper(args[2]),
		AssetName:   strings.Join(args[5:], " "),
		TargetPrice: target,
		Direction:   dir,
		AssetClass:  class,
		IsActive:    true,
	}
	if a.AssetName == "" {
		a.AssetName = a.AssetSymbol
	}
	id, err := s.Store.Insert(ctx, a)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Alert #%d: %s %s %s", id, html.EscapeString(a.AssetSymbol), dir.Word(), notifier.FormatUSD(target)), nil
}

// assetID normalizes ids: CoinGecko ids are lower case, tickers upper case.
func assetID(class model.AssetClass, id string) string {
	if class == model.AssetClassStock {
		return strings.ToUpper(id)
	}
	return strings.ToLower(id)
}

func (s *Scheduler) checkNow() (string, error) {
	report, err := s.RunAlertCheckNow()
	if errors.Is(err, ErrCheckRunning) {
		return "⏳ An alert check is already running.", nil
	}
	if err != nil {
		return "", err
	}
	if len(report.Partitions) == 0 {
		return "No active alerts.", nil
	}
	triggered, notified := report.Totals()
	var b strings.Builder
	fmt.Fprintf(&b, "🔍 Checked alerts: %d triggered, %d notified\n", triggered, notified)
	for _, p := range report.Partitions {
		if p.Err != nil {
			fmt.Fprintf(&b, "⚠️ %s prices unavailable\n", strings.ToLower(string(p.Class)))
		}
	}
	return b.String(), nil
}

func (s *Scheduler) favCommand(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return s.listFavorites(ctx)
	}
	switch strings.ToLower(args[0]) {
	case "add":
		if len(args) < 4 {
			return "", usage("/fav add <crypto|stock> <id> <symbol> [name]")
		}
		class, err := model.ParseAssetClass(args[1])
		if err != nil {
			return "", err
		}
		fav := model.Favorite{
			AssetID:     assetID(class, args[2]),
			AssetSymbol: strings.ToUpper(args[3]),
			AssetName:   strings.Join(args[4:], " "),
			AssetClass:  class,
		}
		if err := s.Store.AddFavorite(ctx, fav); err != nil {
			return "", err
		}
		return fmt.Sprintf("⭐ %s added to favorites.", html.EscapeString(fav.AssetSymbol)), nil
	case "del", "delete", "rm":
		if len(args) != 3 {
			return "", usage("/fav del <crypto|stock> <id>")
		}
		class, err := model.ParseAssetClass(args[1])
		if err != nil {
			return "", err
		}
		if err := s.Store.RemoveFavorite(ctx, assetID(class, args[2]), class); err != nil {
			return "", err
		}
		return "Removed from favorites.", nil
	default:
		return html.EscapeString(helpText), nil
	}
}

// listFavorites prices favorites with one call per asset class.
func (s *Scheduler) listFavorites(ctx context.Context) (string, error) {
	favs, err := s.Store.ListFavorites(ctx)
	if err != nil {
		return "", err
	}
	byClass := make(map[model.AssetClass][]model.Asset)
	for _, f := range favs {
		byClass[f.AssetClass] = append(byClass[f.AssetClass],
			model.Asset{ID: f.AssetID, Symbol: f.AssetSymbol, Class: f.AssetClass})
	}
	quotes := make(model.Quotes)
	for class, assets := range byClass {
		p, ok := s.Providers[class]
		if !ok {
			continue
		}
		q, err := p.GetPrices(ctx, assets)
		if err != nil {
			s.log.Warn("favorite pricing failed", zap.String("asset_class", string(class)), zap.Error(err))
			continue
		}
		for id, price := range q {
			quotes[id] = price
		}
	}
	return notifier.FormatFavorites(favs, quotes), nil
}

func (s *Scheduler) portfolioSummary(ctx context.Context) (string, error) {
	if s.Portfolio == nil {
		return "Portfolio is disabled.", nil
	}
	summary, err := s.Portfolio.Summary(ctx)
	if err != nil {
		return "", err
	}
	return notifier.FormatPortfolio(summary), nil
}

func (s *Scheduler) buy(ctx context.Context, args []string) (string, error) {
	const form = "/buy <crypto|stock> <id> <symbol> <qty> <price>"
	if s.Portfolio == nil {
		return "Portfolio is disabled.", nil
	}
	if len(args) != 5 {
		return "", usage(form)
	}
	class, err := model.ParseAssetClass(args[0])
	if err != nil {
		return "", err
	}
	qty, qerr := cast.ToFloat64E(args[3])
	price, perr := cast.ToFloat64E(strings.TrimPrefix(args[4], "$"))
	if qerr != nil || perr != nil {
		return "", usage(form)
	}

	h, err := s.Portfolio.Buy(ctx, portfolio.Trade{
		AssetID:     assetID(class, args[1]),
		AssetSymbol: strings.ToUpper(args[2]),
		AssetClass:  class,
		Quantity:    qty,
		Price:       price,
	})
	if err != nil {
		return "", err
	}
	s.recordTrade(ctx, &recorder.TradeEvent{
		Side: "BUY", AssetID: h.AssetID, AssetClass: string(class),
		Quantity: qty, Price: price, AvgCost: h.AvgCost, Remaining: h.Quantity,
	})
	return fmt.Sprintf("🟢 Bought %s %s at %s. Position: %s @ %s",
		cast.ToString(qty), html.EscapeString(h.AssetSymbol), notifier.FormatUSD(price),
		cast.ToString(h.Quantity), notifier.FormatUSD(h.AvgCost)), nil
}

func (s *Scheduler) sell(ctx context.Context, args []string) (string, error) {
	const form = "/sell <crypto|stock> <id> <qty>"
	if s.Portfolio == nil {
		return "Portfolio is disabled.", nil
	}
	if len(args) != 3 {
		return "", usage(form)
	}
	class, err := model.ParseAssetClass(args[0])
	if err != nil {
		return "", err
	}
	qty, err := cast.ToFloat64E(args[2])
	if err != nil {
		return "", usage(form)
	}

	h, err := s.Portfolio.Sell(ctx, portfolio.Trade{
		AssetID:    assetID(class, args[1]),
		AssetClass: class,
		Quantity:   qty,
	})
	if err != nil {
		return "", err
	}
	s.recordTrade(ctx, &recorder.TradeEvent{
		Side: "SELL", AssetID: h.AssetID, AssetClass: string(class),
		Quantity: qty, AvgCost: h.AvgCost, Remaining: h.Quantity,
	})
	if h.Quantity == 0 {
		return fmt.Sprintf("🔴 Sold %s %s. Position closed.", cast.ToString(qty), html.EscapeString(h.AssetSymbol)), nil
	}
	return fmt.Sprintf("🔴 Sold %s %s. Remaining: %s", cast.ToString(qty), html.EscapeString(h.AssetSymbol), cast.ToString(h.Quantity)), nil
}

func (s *Scheduler) recordTrade(ctx context.Context, evt *recorder.TradeEvent) {
	if err := s.Recorder.RecordTrade(ctx, evt); err != nil {
		s.log.Error("record trade", zap.Error(err))
	}
}

func (s *Scheduler) history(ctx context.Context) (string, error) {
	runs, err := s.Recorder.RecentRuns(ctx, 5)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "No alert checks recorded yet.", nil
	}
	var b strings.Builder
	b.WriteString("🕘 <b>Recent alert checks</b>\n\n")
	for _, r := range runs {
		status := "ok"
		if r.Failed() {
			status = "errors"
		}
		fmt.Fprintf(&b, "%s | %d alerts, %d triggered, %d notified | %s\n",
			r.StartedAt.Format("01-02 15:04"), r.Alerts, r.Triggered, r.Notified, status)
	}
	return b.String(), nil
}
