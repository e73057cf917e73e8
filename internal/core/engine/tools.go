package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/tickerlens/tickerlens/internal/core"
	"github.com/tickerlens/tickerlens/internal/core/governor"
)

// Tool describes one callable tool.
type Tool struct {
	Name        string
	Summary     string
	Description string
	InputSchema map[string]any

	// subject names the data in "Error: getting {subject} for {ticker}".
	subject string
	bind    func(args map[string]any) (*boundCall, error)
}

type boundCall struct {
	ticker   string
	identity governor.Identity
	fetch    func(ctx context.Context, o *Orchestrator) (string, error)
}

func lookup(name string) (Tool, bool) {
	for _, tool := range registry {
		if tool.Name == name {
			return tool, true
		}
	}
	return Tool{}, false
}

// Instructions is the server description announced to MCP clients.
func Instructions() string {
	var b strings.Builder
	b.WriteString("# Yahoo Finance MCP Server\n\n")
	b.WriteString("This server is used to get information about a given ticker symbol from yahoo finance.\n\n")
	b.WriteString("Available tools:\n")
	for _, tool := range registry {
		fmt.Fprintf(&b, "- %s: %s\n", tool.Name, tool.Summary)
	}
	return b.String()
}

const tickerHint = `The ticker symbol of the stock, e.g. "AAPL"`

func schema(required []string, props map[string]any) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func enumProp[T ~string](description string, values []T, fallback string) map[string]any {
	enum := make([]string, 0, len(values))
	for _, v := range values {
		enum = append(enum, string(v))
	}
	prop := map[string]any{"type": "string", "description": description, "enum": enum}
	if fallback != "" {
		prop["default"] = fallback
	}
	return prop
}

func joined[T ~string](values []T) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, string(v))
	}
	return strings.Join(parts, ", ")
}

var registry = []Tool{
	{
		Name:    "get_historical_stock_prices",
		Summary: "Get historical stock prices for a given ticker symbol from yahoo finance. Include the following information: Date, Open, High, Low, Close, Volume, Adj Close.",
		Description: "Get historical stock prices for a given ticker symbol from yahoo finance. " +
			"Include the following information: Date, Open, High, Low, Close, Volume, Adj Close. " +
			"Intraday data cannot extend past the last 60 days.",
		InputSchema: schema([]string{"ticker"}, map[string]any{
			"ticker":   stringProp(tickerHint),
			"period":   enumProp("Lookback range. Default is \"1mo\".", core.Periods, "1mo"),
			"interval": enumProp("Bar size. Default is \"1d\".", core.Intervals, "1d"),
		}),
		subject: "historical stock prices",
		bind:    bindHistory,
	},
	{
		Name:    "get_stock_info",
		Summary: "Get stock information for a given ticker symbol from yahoo finance. Include the following information: Stock Price & Trading Info, Company Information, Financial Metrics, Earnings & Revenue, Margins & Returns, Dividends, Balance Sheet, Ownership, Analyst Coverage, Risk Metrics, Other.",
		Description: "Get stock information for a given ticker symbol from yahoo finance. Include the following information: " +
			"Stock Price & Trading Info, Company Information, Financial Metrics, Earnings & Revenue, Margins & Returns, " +
			"Dividends, Balance Sheet, Ownership, Analyst Coverage, Risk Metrics, Other.",
		InputSchema: schema([]string{"ticker"}, map[string]any{"ticker": stringProp(tickerHint)}),
		subject:     "stock information",
		bind:        bindTickerOnly("get_stock_info", fetchInfo),
	},
	{
		Name:        "get_yahoo_finance_news",
		Summary:     "Get news for a given ticker symbol from yahoo finance.",
		Description: "Get news for a given ticker symbol from yahoo finance.",
		InputSchema: schema([]string{"ticker"}, map[string]any{"ticker": stringProp(tickerHint)}),
		subject:     "news",
		bind:        bindTickerOnly("get_yahoo_finance_news", fetchNews),
	},
	{
		Name:        "get_stock_actions",
		Summary:     "Get stock dividends and stock splits for a given ticker symbol from yahoo finance.",
		Description: "Get stock dividends and stock splits for a given ticker symbol from yahoo finance.",
		InputSchema: schema([]string{"ticker"}, map[string]any{"ticker": stringProp(tickerHint)}),
		subject:     "stock actions",
		bind:        bindTickerOnly("get_stock_actions", fetchActions),
	},
	{
		Name:    "get_financial_statement",
		Summary: "Get financial statement for a given ticker symbol from yahoo finance. You can choose from the following financial statement types: " + joined(core.FinancialTypes) + ".",
		Description: "Get financial statement for a given ticker symbol from yahoo finance. " +
			"You can choose from the following financial statement types: " + joined(core.FinancialTypes) + ".",
		InputSchema: schema([]string{"ticker", "financial_type"}, map[string]any{
			"ticker":         stringProp(tickerHint),
			"financial_type": enumProp("The type of financial statement to get.", core.FinancialTypes, ""),
		}),
		subject: "financial statement",
		bind:    bindStatement,
	},
	{
		Name:    "get_holder_info",
		Summary: "Get holder information for a given ticker symbol from yahoo finance. You can choose from the following holder types: " + joined(core.HolderTypes) + ".",
		Description: "Get holder information for a given ticker symbol from yahoo finance. " +
			"You can choose from the following holder types: " + joined(core.HolderTypes) + ".",
		InputSchema: schema([]string{"ticker", "holder_type"}, map[string]any{
			"ticker":      stringProp(tickerHint),
			"holder_type": enumProp("The type of holder information to get.", core.HolderTypes, ""),
		}),
		subject: "holder info",
		bind:    bindHolders,
	},
	{
		Name:        "get_option_expiration_dates",
		Summary:     "Fetch the available options expiration dates for a given ticker symbol.",
		Description: "Fetch the available options expiration dates for a given ticker symbol.",
		InputSchema: schema([]string{"ticker"}, map[string]any{"ticker": stringProp(tickerHint)}),
		subject:     "option expiration dates",
		bind:        bindTickerOnly("get_option_expiration_dates", fetchExpirations),
	},
	{
		Name:        "get_option_chain",
		Summary:     "Fetch the option chain for a given ticker symbol, expiration date, and option type.",
		Description: "Fetch the option chain for a given ticker symbol, expiration date, and option type.",
		InputSchema: schema([]string{"ticker", "expiration_date", "option_type"}, map[string]any{
			"ticker":          stringProp(tickerHint),
			"expiration_date": stringProp("The expiration date for the options chain (format: 'YYYY-MM-DD')"),
			"option_type":     enumProp("The type of option to fetch ('calls' or 'puts')", core.OptionTypes, ""),
		}),
		subject: "option chain",
		bind:    bindOptionChain,
	},
	{
		Name:    "get_recommendations",
		Summary: "Get recommendations or upgrades/downgrades for a given ticker symbol from yahoo finance. You can also specify the number of months back to get upgrades/downgrades for, default is 12.",
		Description: "Get recommendations or upgrades/downgrades for a given ticker symbol from yahoo finance. " +
			"You can also specify the number of months back to get upgrades/downgrades for, default is 12.",
		InputSchema: schema([]string{"ticker", "recommendation_type"}, map[string]any{
			"ticker":              stringProp(tickerHint),
			"recommendation_type": enumProp("The type of recommendation to get.", core.RecommendationTypes, ""),
			"months_back": map[string]any{
				"type":        "integer",
				"description": "The number of months back to get upgrades/downgrades for, default is 12.",
				"default":     12,
			},
		}),
		subject: "recommendations",
		bind:    bindRecommendations,
	},
}

type fetchFunc func(ctx context.Context, o *Orchestrator, ticker string) (string, error)

func bindTickerOnly(op string, fetch fetchFunc) func(map[string]any) (*boundCall, error) {
	return func(args map[string]any) (*boundCall, error) {
		ticker, err := requiredString(args, "ticker")
		if err != nil {
			return nil, err
		}
		return &boundCall{
			ticker:   ticker,
			identity: governor.NewIdentity(op, ticker),
			fetch: func(ctx context.Context, o *Orchestrator) (string, error) {
				return fetch(ctx, o, ticker)
			},
		}, nil
	}
}

func bindHistory(args map[string]any) (*boundCall, error) {
	ticker, err := requiredString(args, "ticker")
	if err != nil {
		return nil, err
	}
	rawPeriod, err := stringOr(args, "period", string(core.Period1mo))
	if err != nil {
		return nil, err
	}
	rawInterval, err := stringOr(args, "interval", "1d")
	if err != nil {
		return nil, err
	}
	period, err := core.ParsePeriod(rawPeriod)
	if err != nil {
		return nil, err
	}
	interval, err := core.ParseInterval(rawInterval)
	if err != nil {
		return nil, err
	}

	return &boundCall{
		ticker:   ticker,
		identity: governor.NewIdentity("get_historical_stock_prices", ticker, string(period), string(interval)),
		fetch: func(ctx context.Context, o *Orchestrator) (string, error) {
			if err := o.Provider.Lookup(ctx, ticker); err != nil {
				return "", err
			}
			rows, err := o.Provider.History(ctx, ticker, period, interval)
			if err != nil {
				return "", err
			}
			return encodeJSON(rows)
		},
	}, nil
}

func fetchInfo(ctx context.Context, o *Orchestrator, ticker string) (string, error) {
	if err := o.Provider.Lookup(ctx, ticker); err != nil {
		return "", err
	}
	info, err := o.Provider.Info(ctx, ticker)
	if err != nil {
		return "", err
	}
	return encodeJSON(info)
}

func fetchNews(ctx context.Context, o *Orchestrator, ticker string) (string, error) {
	if err := o.Provider.Lookup(ctx, ticker); err != nil {
		return "", err
	}
	items, err := o.Provider.News(ctx, ticker)
	if err != nil {
		return "", err
	}

	blocks := make([]string, 0, len(items))
	for _, item := range items {
		if item.ContentType != "STORY" {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("Title: %s\nSummary: %s\nDescription: %s\nURL: %s",
			item.Title, item.Summary, item.Description, item.URL))
	}
	if len(blocks) == 0 {
		return "", &Notice{Message: fmt.Sprintf("No news found for company that searched with %s ticker.", ticker)}
	}
	return strings.Join(blocks, "\n\n"), nil
}

// fetchActions skips the existence probe; an unknown ticker has no chart.
func fetchActions(ctx context.Context, o *Orchestrator, ticker string) (string, error) {
	rows, err := o.Provider.Actions(ctx, ticker)
	if err != nil {
		return "", err
	}
	return encodeJSON(rows)
}

func fetchExpirations(ctx context.Context, o *Orchestrator, ticker string) (string, error) {
	if err := o.Provider.Lookup(ctx, ticker); err != nil {
		return "", err
	}
	dates, err := o.Provider.OptionExpirations(ctx, ticker)
	if err != nil {
		return "", err
	}
	if dates == nil {
		dates = []string{}
	}
	return encodeJSON(dates)
}

func bindStatement(args map[string]any) (*boundCall, error) {
	ticker, err := requiredString(args, "ticker")
	if err != nil {
		return nil, err
	}
	raw, err := requiredString(args, "financial_type")
	if err != nil {
		return nil, err
	}
	kind, err := core.ParseFinancialType(raw)
	if err != nil {
		return nil, err
	}

	return &boundCall{
		ticker:   ticker,
		identity: governor.NewIdentity("get_financial_statement", ticker, string(kind)),
		fetch: func(ctx context.Context, o *Orchestrator) (string, error) {
			if err := o.Provider.Lookup(ctx, ticker); err != nil {
				return "", err
			}
			periods, err := o.Provider.Statement(ctx, ticker, kind)
			if err != nil {
				return "", err
			}
			out := make([]statementRow, 0, len(periods))
			for _, p := range periods {
				out = append(out, statementRow{Date: p.Date.UTC().Format("2006-01-02"), Values: p.Values})
			}
			return encodeJSON(out)
		},
	}, nil
}

func bindHolders(args map[string]any) (*boundCall, error) {
	ticker, err := requiredString(args, "ticker")
	if err != nil {
		return nil, err
	}
	raw, err := requiredString(args, "holder_type")
	if err != nil {
		return nil, err
	}
	kind, err := core.ParseHolderType(raw)
	if err != nil {
		return nil, err
	}

	return &boundCall{
		ticker:   ticker,
		identity: governor.NewIdentity("get_holder_info", ticker, string(kind)),
		fetch: func(ctx context.Context, o *Orchestrator) (string, error) {
			if err := o.Provider.Lookup(ctx, ticker); err != nil {
				return "", err
			}
			rows, err := o.Provider.Holders(ctx, ticker, kind)
			if err != nil {
				return "", err
			}
			return encodeJSON(rows)
		},
	}, nil
}

func bindOptionChain(args map[string]any) (*boundCall, error) {
	ticker, err := requiredString(args, "ticker")
	if err != nil {
		return nil, err
	}
	expiration, err := requiredString(args, "expiration_date")
	if err != nil {
		return nil, err
	}
	raw, err := requiredString(args, "option_type")
	if err != nil {
		return nil, err
	}
	side, err := core.ParseOptionType(raw)
	if err != nil {
		return nil, err
	}

	return &boundCall{
		ticker:   ticker,
		identity: governor.NewIdentity("get_option_chain", ticker, expiration, string(side)),
		fetch: func(ctx context.Context, o *Orchestrator) (string, error) {
			if err := o.Provider.Lookup(ctx, ticker); err != nil {
				return "", err
			}
			dates, err := o.Provider.OptionExpirations(ctx, ticker)
			if err != nil {
				return "", err
			}
			if !slices.Contains(dates, expiration) {
				return "", &Notice{Message: fmt.Sprintf(
					"Error: No options available for the date %s. You can use `get_option_expiration_dates` to get the available expiration dates.",
					expiration)}
			}
			rows, err := o.Provider.OptionChain(ctx, ticker, expiration, side)
			if err != nil {
				return "", err
			}
			return encodeJSON(rows)
		},
	}, nil
}

func bindRecommendations(args map[string]any) (*boundCall, error) {
	ticker, err := requiredString(args, "ticker")
	if err != nil {
		return nil, err
	}
	raw, err := requiredString(args, "recommendation_type")
	if err != nil {
		return nil, err
	}
	monthsBack, err := intOr(args, "months_back", 12)
	if err != nil {
		return nil, err
	}
	kind, err := core.ParseRecommendationType(raw)
	if err != nil {
		return nil, err
	}

	return &boundCall{
		ticker:   ticker,
		identity: governor.NewIdentity("get_recommendations", ticker, string(kind), monthsBack),
		fetch: func(ctx context.Context, o *Orchestrator) (string, error) {
			if err := o.Provider.Lookup(ctx, ticker); err != nil {
				return "", err
			}
			if kind == core.Recommendations {
				rows, err := o.Provider.Recommendations(ctx, ticker)
				if err != nil {
					return "", err
				}
				return encodeJSON(rows)
			}
			changes, err := o.Provider.UpgradesDowngrades(ctx, ticker)
			if err != nil {
				return "", err
			}
			return encodeJSON(LatestByFirm(changes, o.now().AddDate(0, -monthsBack, 0)))
		},
	}, nil
}

// LatestByFirm keeps changes dated at or after cutoff, newest first, and only
// the most recent change per firm.
func LatestByFirm(changes []core.GradeChange, cutoff time.Time) []core.Record {
	recent := make([]core.GradeChange, 0, len(changes))
	for _, c := range changes {
		if !c.GradeDate.Before(cutoff) {
			recent = append(recent, c)
		}
	}
	sort.SliceStable(recent, func(i, j int) bool { return recent[i].GradeDate.After(recent[j].GradeDate) })

	seen := make(map[string]struct{}, len(recent))
	out := make([]core.Record, 0, len(recent))
	for _, c := range recent {
		if _, ok := seen[c.Firm]; ok {
			continue
		}
		seen[c.Firm] = struct{}{}
		rec := core.Record{
			"GradeDate": core.ISOTime(c.GradeDate),
			"Firm":      c.Firm,
			"ToGrade":   c.ToGrade,
			"FromGrade": c.FromGrade,
			"Action":    c.Action,
		}
		if c.PriceTargetAction != "" {
			rec["priceTargetAction"] = c.PriceTargetAction
		}
		if c.CurrentPriceTarget != nil {
			rec["currentPriceTarget"] = *c.CurrentPriceTarget
		}
		if c.PriorPriceTarget != nil {
			rec["priorPriceTarget"] = *c.PriorPriceTarget
		}
		out = append(out, rec)
	}
	return out
}

// statementRow renders "date" first, then line items in name order.
type statementRow struct {
	Date   string
	Values map[string]*float64
}

func (r statementRow) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, len(r.Values))
	for name := range r.Values {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	buf.WriteString(`{"date":`)
	date, err := json.Marshal(r.Date)
	if err != nil {
		return nil, err
	}
	buf.Write(date)
	for _, name := range names {
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(r.Values[name])
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// encodeJSON marshals v without HTML escaping and without a trailing newline.
func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
