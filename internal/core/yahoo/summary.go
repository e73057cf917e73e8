package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/tickerlens/tickerlens/internal/core"
)

type summaryResponse struct {
	QuoteSummary struct {
		Result []map[string]json.RawMessage `json:"result"`
		Error  *apiError                    `json:"error"`
	} `json:"quoteSummary"`
}

// quoteSummary fetches the named modules and returns each flattened.
func (c *Client) quoteSummary(ctx context.Context, ticker string, modules ...string) (map[string]map[string]any, error) {
	query := url.Values{}
	query.Set("modules", strings.Join(modules, ","))
	query.Set("formatted", "false")

	var resp summaryResponse
	if err := c.getJSON(ctx, "/v10/finance/quoteSummary/"+url.PathEscape(ticker), query, true, &resp); err != nil {
		return nil, err
	}
	if err := resp.QuoteSummary.Error.err(); err != nil {
		return nil, err
	}
	if len(resp.QuoteSummary.Result) == 0 {
		return nil, fmt.Errorf("%w: no summary for %s", core.ErrNotFound, ticker)
	}

	out := make(map[string]map[string]any, len(modules))
	for name, raw := range resp.QuoteSummary.Result[0] {
		if m := flattenModule(raw); m != nil {
			out[name] = m
		}
	}
	return out, nil
}

// Lookup resolves the ticker's quote type. Unknown symbols report
// core.ErrNotFound.
func (c *Client) Lookup(ctx context.Context, ticker string) error {
	modules, err := c.quoteSummary(ctx, ticker, "quoteType")
	if err != nil {
		return err
	}
	kind := text(modules["quoteType"]["quoteType"])
	if kind == "" || strings.EqualFold(kind, "NONE") {
		return fmt.Errorf("%w: %s", core.ErrNotFound, ticker)
	}
	return nil
}

var infoModules = []string{"assetProfile", "summaryDetail", "financialData", "defaultKeyStatistics", "price", "quoteType"}

// Info merges the profile, pricing and key-statistics modules into one flat
// record. Later modules do not overwrite keys set by earlier ones.
func (c *Client) Info(ctx context.Context, ticker string) (map[string]any, error) {
	modules, err := c.quoteSummary(ctx, ticker, infoModules...)
	if err != nil {
		return nil, err
	}

	info := map[string]any{}
	for _, name := range infoModules {
		for k, v := range modules[name] {
			if _, ok := info[k]; !ok {
				info[k] = v
			}
		}
	}
	if _, ok := info["symbol"]; !ok {
		info["symbol"] = ticker
	}
	return info, nil
}

type statementModule struct {
	module string
	list   string
}

var statementModules = map[core.FinancialType]statementModule{
	core.IncomeStmt:            {"incomeStatementHistory", "incomeStatementHistory"},
	core.QuarterlyIncomeStmt:   {"incomeStatementHistoryQuarterly", "incomeStatementHistory"},
	core.BalanceSheet:          {"balanceSheetHistory", "balanceSheetStatements"},
	core.QuarterlyBalanceSheet: {"balanceSheetHistoryQuarterly", "balanceSheetStatements"},
	core.Cashflow:              {"cashflowStatementHistory", "cashflowStatements"},
	core.QuarterlyCashflow:     {"cashflowStatementHistoryQuarterly", "cashflowStatements"},
}

// Statement returns one period per reporting date, newest first. Every
// period carries the union of line items; items a period lacks are nil.
func (c *Client) Statement(ctx context.Context, ticker string, kind core.FinancialType) ([]core.StatementPeriod, error) {
	spec, ok := statementModules[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported financial type %q", kind)
	}
	modules, err := c.quoteSummary(ctx, ticker, spec.module)
	if err != nil {
		return nil, err
	}

	rows := records(modules[spec.module][spec.list])
	metrics := map[string]struct{}{}
	periods := make([]core.StatementPeriod, 0, len(rows))
	for _, row := range rows {
		date, ok := epoch(row["endDate"])
		if !ok {
			continue
		}
		values := map[string]*float64{}
		for k, v := range row {
			if k == "endDate" {
				continue
			}
			name := humanize(k)
			metrics[name] = struct{}{}
			values[name] = numberPtr(v)
		}
		periods = append(periods, core.StatementPeriod{Date: date, Values: values})
	}

	for i := range periods {
		for name := range metrics {
			if _, ok := periods[i].Values[name]; !ok {
				periods[i].Values[name] = nil
			}
		}
	}
	sort.SliceStable(periods, func(i, j int) bool { return periods[i].Date.After(periods[j].Date) })
	return periods, nil
}

var holderModules = map[core.HolderType]string{
	core.MajorHolders:         "majorHoldersBreakdown",
	core.InstitutionalHolders: "institutionOwnership",
	core.MutualFundHolders:    "fundOwnership",
	core.InsiderTransactions:  "insiderTransactions",
	core.InsiderPurchases:     "netSharePurchaseActivity",
	core.InsiderRosterHolders: "insiderHolders",
}

// Holders returns the requested holder breakdown as table rows.
func (c *Client) Holders(ctx context.Context, ticker string, kind core.HolderType) ([]core.Record, error) {
	module, ok := holderModules[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported holder type %q", kind)
	}
	modules, err := c.quoteSummary(ctx, ticker, module)
	if err != nil {
		return nil, err
	}
	data := modules[module]

	switch kind {
	case core.MajorHolders:
		return majorHolders(data), nil
	case core.InstitutionalHolders, core.MutualFundHolders:
		return ownership(data), nil
	case core.InsiderTransactions:
		return insiderTransactions(data), nil
	case core.InsiderPurchases:
		return insiderPurchases(data), nil
	default:
		return insiderRoster(data), nil
	}
}

var majorHolderMetrics = []string{"insidersPercentHeld", "institutionsPercentHeld", "institutionsFloatPercentHeld", "institutionsCount"}

func majorHolders(data map[string]any) []core.Record {
	out := make([]core.Record, 0, len(majorHolderMetrics))
	for _, metric := range majorHolderMetrics {
		v, ok := data[metric]
		if !ok {
			continue
		}
		out = append(out, core.Record{"metric": metric, "Value": v})
	}
	return out
}

func ownership(data map[string]any) []core.Record {
	rows := records(data["ownershipList"])
	out := make([]core.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, core.Record{
			"Date Reported": isoEpoch(row["reportDate"]),
			"Holder":        row["organization"],
			"pctHeld":       row["pctHeld"],
			"Shares":        row["position"],
			"Value":         row["value"],
			"pctChange":     row["pctChange"],
		})
	}
	return out
}

func insiderTransactions(data map[string]any) []core.Record {
	rows := records(data["transactions"])
	out := make([]core.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, core.Record{
			"Shares":      row["shares"],
			"Value":       row["value"],
			"URL":         row["filerUrl"],
			"Text":        row["transactionText"],
			"Insider":     row["filerName"],
			"Position":    row["filerRelation"],
			"Transaction": row["moneyText"],
			"Start Date":  isoEpoch(row["startDate"]),
			"Ownership":   row["ownership"],
		})
	}
	return out
}

func insiderPurchases(data map[string]any) []core.Record {
	if len(data) == 0 {
		return []core.Record{}
	}
	label := "Insider Purchases Last " + text(data["period"])
	row := func(name string, shares, trans any) core.Record {
		return core.Record{label: name, "Shares": shares, "Trans": trans}
	}
	return []core.Record{
		row("Purchases", data["buyInfoShares"], data["buyInfoCount"]),
		row("Sales", data["sellInfoShares"], data["sellInfoCount"]),
		row("Net Shares Purchased (Sold)", data["netInfoShares"], data["netInfoCount"]),
		row("Total Insider Shares Held", data["totalInsiderShares"], nil),
		row("% Net Shares Purchased (Sold)", data["netPercentInsiderShares"], nil),
		row("% Buy Shares", data["buyPercentInsiderShares"], nil),
		row("% Sell Shares", data["sellPercentInsiderShares"], nil),
	}
}

func insiderRoster(data map[string]any) []core.Record {
	rows := records(data["holders"])
	out := make([]core.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, core.Record{
			"Name":                    row["name"],
			"Position":                row["relation"],
			"URL":                     row["url"],
			"Most Recent Transaction": row["transactionDescription"],
			"Latest Transaction Date": isoEpoch(row["latestTransDate"]),
			"Shares Owned Directly":   row["positionDirect"],
			"Position Direct Date":    isoEpoch(row["positionDirectDate"]),
		})
	}
	return out
}

// Recommendations returns the analyst rating counts per period.
func (c *Client) Recommendations(ctx context.Context, ticker string) ([]core.Record, error) {
	modules, err := c.quoteSummary(ctx, ticker, "recommendationTrend")
	if err != nil {
		return nil, err
	}
	rows := records(modules["recommendationTrend"]["trend"])
	out := make([]core.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, core.Record{
			"period":     row["period"],
			"strongBuy":  row["strongBuy"],
			"buy":        row["buy"],
			"hold":       row["hold"],
			"sell":       row["sell"],
			"strongSell": row["strongSell"],
		})
	}
	return out, nil
}

// UpgradesDowngrades returns the full analyst rating change history.
func (c *Client) UpgradesDowngrades(ctx context.Context, ticker string) ([]core.GradeChange, error) {
	modules, err := c.quoteSummary(ctx, ticker, "upgradeDowngradeHistory")
	if err != nil {
		return nil, err
	}
	rows := records(modules["upgradeDowngradeHistory"]["history"])
	out := make([]core.GradeChange, 0, len(rows))
	for _, row := range rows {
		date, ok := epoch(row["epochGradeDate"])
		if !ok {
			continue
		}
		out = append(out, core.GradeChange{
			GradeDate:          date,
			Firm:               text(row["firm"]),
			ToGrade:            text(row["toGrade"]),
			FromGrade:          text(row["fromGrade"]),
			Action:             text(row["action"]),
			PriceTargetAction:  text(row["priceTargetAction"]),
			CurrentPriceTarget: numberPtr(row["currentPriceTarget"]),
			PriorPriceTarget:   numberPtr(row["priorPriceTarget"]),
		})
	}
	return out, nil
}

// records converts a flattened JSON array into rows, skipping non-objects.
func records(v any) []map[string]any {
	list, _ := v.([]any)
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
