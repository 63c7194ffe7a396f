package notifier

import (
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"AlertSentinel/internal/model"
)

// FormatUSD renders v as US currency with two decimals, e.g. $1,234.50.
// Amounts below one dollar keep up to eight decimals so sub-cent prices
// stay readable, e.g. $0.00001234.
func FormatUSD(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = math.Abs(v)
	}
	if v > 0 && v < 1 {
		return sign + "$" + subDollar(v)
	}
	return sign + "$" + humanize.FormatFloat("#,###.##", v)
}

func subDollar(v float64) string {
	s := strings.TrimRight(strconv.FormatFloat(v, 'f', 8, 64), "0")
	decimals := len(s) - strings.IndexByte(s, '.') - 1
	if decimals < 2 {
		s += strings.Repeat("0", 2-decimals)
	}
	return s
}

// FormatAlertNotification builds the message for a triggered alert.
func FormatAlertNotification(a *model.PriceAlert, price float64) Notification {
	symbol := strings.ToUpper(a.AssetSymbol)
	return Notification{
		Title: symbol + " Price Alert",
		Body: fmt.Sprintf("%s is now %s, %s your target of %s",
			symbol, FormatUSD(price), a.Direction.Word(), FormatUSD(a.TargetPrice)),
		DedupeKey: int(a.ID),
	}
}

// FormatAlertList lists alerts for the /alerts command.
func FormatAlertList(alerts []model.PriceAlert) string {
	if len(alerts) == 0 {
		return "No alerts yet. Add one with /alert add."
	}
	var b strings.Builder
	b.WriteString("🔔 <b>Price alerts</b>\n\n")
	for _, a := range alerts {
		state := "on"
		if !a.IsActive {
			state = "off"
		}
		b.WriteString(fmt.Sprintf("#%d %s %s %s [%s]\n",
			a.ID, html.EscapeString(strings.ToUpper(a.AssetSymbol)), a.Direction.Word(), FormatUSD(a.TargetPrice), state))
	}
	return b.String()
}

// FormatFavorites lists favorites with their current price when known.
func FormatFavorites(favs []model.Favorite, quotes model.Quotes) string {
	if len(favs) == 0 {
		return "No favorites yet. Add one with /fav add."
	}
	var b strings.Builder
	b.WriteString("⭐ <b>Favorites</b>\n\n")
	for _, f := range favs {
		name := f.AssetName
		if name == "" {
			name = f.AssetID
		}
		price := "n/a"
		if p, ok := quotes[f.AssetID]; ok {
			price = FormatUSD(p)
		}
		b.WriteString(fmt.Sprintf("%s (%s) %s\n",
			html.EscapeString(strings.ToUpper(f.AssetSymbol)), html.EscapeString(name), price))
	}
	return b.String()
}

// FormatPortfolio renders a valued portfolio.
func FormatPortfolio(s model.PortfolioSummary) string {
	if len(s.Positions) == 0 {
		return "Portfolio is empty. Record a trade with /buy."
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("💼 <b>Portfolio</b> | %s\n\n", s.ValuedAt.Format(time.DateTime)))
	for _, p := range s.Positions {
		qty := humanize.CommafWithDigits(p.Quantity, 4)
		symbol := html.EscapeString(strings.ToUpper(p.AssetSymbol))
		if !p.Priced {
			b.WriteString(fmt.Sprintf("%s %s @ %s | price unavailable\n",
				symbol, qty, FormatUSD(p.AvgCost)))
			continue
		}
		b.WriteString(fmt.Sprintf("%s %s @ %s | now %s | value %s | P/L %s (%+.2f%%)\n",
			symbol, qty, FormatUSD(p.AvgCost), FormatUSD(p.Price),
			FormatUSD(p.MarketValue), FormatUSD(p.PnL), p.PnLPercent))
	}
	b.WriteString(fmt.Sprintf("\nTotal value: %s\nTotal cost: %s\nTotal P/L: %s\n",
		FormatUSD(s.TotalValue), FormatUSD(s.TotalCost), FormatUSD(s.TotalPnL)))
	if s.Unpriced > 0 {
		b.WriteString(fmt.Sprintf("%d position(s) could not be priced and are excluded from totals.\n", s.Unpriced))
	}
	return b.String()
}
