package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tickerlens/tickerlens/internal/core"
	"github.com/tickerlens/tickerlens/internal/core/governor"
)

type stubProvider struct {
	mu    sync.Mutex
	calls map[string]int

	missing     map[string]bool
	infoErr     error
	infoFlaky   int
	news        []core.NewsItem
	expirations []string
	statement   []core.StatementPeriod
	changes     []core.GradeChange
}

func (s *stubProvider) hit(method string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[method]++
}

func (s *stubProvider) count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *stubProvider) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *stubProvider) Lookup(_ context.Context, ticker string) error {
	s.hit("Lookup")
	if s.missing[ticker] {
		return fmt.Errorf("%w: %s", core.ErrNotFound, ticker)
	}
	return nil
}

func (s *stubProvider) History(context.Context, string, core.Period, core.Interval) ([]core.Record, error) {
	s.hit("History")
	return []core.Record{{"Date": "2025-01-02T00:00:00.000Z", "Close": 1.5}}, nil
}

func (s *stubProvider) Info(context.Context, string) (map[string]any, error) {
	s.hit("Info")
	if s.infoErr != nil {
		return nil, s.infoErr
	}
	if s.count("Info") <= s.infoFlaky {
		return nil, errors.New("yahoo: 429 Too Many Requests")
	}
	return map[string]any{"symbol": "AAPL", "website": "https://a.example/?x=1&y=2"}, nil
}

func (s *stubProvider) News(context.Context, string) ([]core.NewsItem, error) {
	s.hit("News")
	return s.news, nil
}

func (s *stubProvider) Actions(context.Context, string) ([]core.Record, error) {
	s.hit("Actions")
	return []core.Record{}, nil
}

func (s *stubProvider) Statement(context.Context, string, core.FinancialType) ([]core.StatementPeriod, error) {
	s.hit("Statement")
	return s.statement, nil
}

func (s *stubProvider) Holders(context.Context, string, core.HolderType) ([]core.Record, error) {
	s.hit("Holders")
	return []core.Record{{"metric": "insidersPercentHeld", "Value": 0.02}}, nil
}

func (s *stubProvider) OptionExpirations(context.Context, string) ([]string, error) {
	s.hit("OptionExpirations")
	return s.expirations, nil
}

func (s *stubProvider) OptionChain(context.Context, string, string, core.OptionType) ([]core.Record, error) {
	s.hit("OptionChain")
	return []core.Record{{"contractSymbol": "AAPL250117C00100000"}}, nil
}

func (s *stubProvider) Recommendations(context.Context, string) ([]core.Record, error) {
	s.hit("Recommendations")
	return []core.Record{{"period": "0m", "buy": 10.0}}, nil
}

func (s *stubProvider) UpgradesDowngrades(context.Context, string) ([]core.GradeChange, error) {
	s.hit("UpgradesDowngrades")
	return s.changes, nil
}

var now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newOrchestrator(provider *stubProvider) *Orchestrator {
	clock := func() time.Time { return now }
	g := governor.New(governor.DefaultConfig(),
		governor.WithClock(clock),
		governor.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	)
	return &Orchestrator{Provider: provider, Governor: g, Clock: clock}
}

func call(t *testing.T, o *Orchestrator, name string, args map[string]any) CallResult {
	t.Helper()
	res, err := o.Call(context.Background(), name, args)
	require.NoError(t, err)
	return res
}

func TestInvalidFinancialTypeNeverReachesUpstream(t *testing.T) {
	provider := &stubProvider{}
	o := newOrchestrator(provider)

	res := call(t, o, "get_financial_statement", map[string]any{"ticker": "AAPL", "financial_type": "bogus"})

	require.Equal(t, "Error: invalid financial type bogus. Please use one of the following: "+
		"income_stmt, quarterly_income_stmt, balance_sheet, quarterly_balance_sheet, cashflow, quarterly_cashflow.", res.Text)
	require.Equal(t, OutcomeRejected, res.Outcome)
	require.False(t, res.IsError)
	require.Zero(t, provider.total())
	require.Zero(t, o.Governor.Snapshot().WindowInUse)
}

func TestInvalidHolderAndOptionType(t *testing.T) {
	provider := &stubProvider{}
	o := newOrchestrator(provider)

	res := call(t, o, "get_holder_info", map[string]any{"ticker": "AAPL", "holder_type": "whales"})
	require.True(t, strings.HasPrefix(res.Text, "Error: invalid holder type whales. Please use one of the following: major_holders"))

	res = call(t, o, "get_option_chain", map[string]any{"ticker": "AAPL", "expiration_date": "2025-01-17", "option_type": "straddle"})
	require.Equal(t, "Error: Invalid option type. Please use 'calls' or 'puts'.", res.Text)
	require.Zero(t, provider.total())
}

func TestMissingTickerIsErrorResult(t *testing.T) {
	o := newOrchestrator(&stubProvider{})

	res := call(t, o, "get_stock_info", map[string]any{})
	require.True(t, res.IsError)
	require.Contains(t, res.Text, "ticker")

	res = call(t, o, "get_stock_info", map[string]any{"ticker": 42.0})
	require.True(t, res.IsError)
}

func TestUnknownTool(t *testing.T) {
	o := newOrchestrator(&stubProvider{})
	_, err := o.Call(context.Background(), "get_weather", nil)
	require.ErrorIs(t, err, ErrUnknownTool)
}

func TestUnknownExpirationSkipsChainFetch(t *testing.T) {
	provider := &stubProvider{expirations: []string{"2025-01-17", "2025-01-24"}}
	o := newOrchestrator(provider)

	res := call(t, o, "get_option_chain", map[string]any{"ticker": "AAPL", "expiration_date": "2030-01-01", "option_type": "calls"})
	require.Equal(t, "Error: No options available for the date 2030-01-01. You can use `get_option_expiration_dates` to get the available expiration dates.", res.Text)
	require.Zero(t, provider.count("OptionChain"))
	require.Equal(t, governor.OutcomeAnswered, res.Outcome)

	res = call(t, o, "get_option_chain", map[string]any{"ticker": "MSFT", "expiration_date": "2025-01-17", "option_type": "calls"})
	require.Equal(t, `[{"contractSymbol":"AAPL250117C00100000"}]`, res.Text)
	require.Equal(t, 1, provider.count("OptionChain"))
}

func TestExpirationDatesAreIdempotentWithinTTL(t *testing.T) {
	provider := &stubProvider{expirations: []string{"2025-01-17"}}
	o := newOrchestrator(provider)
	args := map[string]any{"ticker": "AAPL"}

	first := call(t, o, "get_option_expiration_dates", args)
	second := call(t, o, "get_option_expiration_dates", args)

	require.Equal(t, `["2025-01-17"]`, first.Text)
	require.Equal(t, first.Text, second.Text)
	require.Equal(t, governor.OutcomeCacheHit, second.Outcome)
	require.Equal(t, 1, provider.count("OptionExpirations"))
}

func TestNotFoundSentence(t *testing.T) {
	provider := &stubProvider{missing: map[string]bool{"ZZZZ": true}}
	o := newOrchestrator(provider)

	res := call(t, o, "get_stock_info", map[string]any{"ticker": "ZZZZ"})
	require.Equal(t, "Company ticker ZZZZ not found.", res.Text)
	require.Zero(t, provider.count("Info"))
}

func TestUpstreamFailureSentence(t *testing.T) {
	provider := &stubProvider{infoErr: errors.New("yahoo: 429 Too Many Requests")}
	o := newOrchestrator(provider)

	res := call(t, o, "get_stock_info", map[string]any{"ticker": "AAPL"})
	require.Equal(t, "Error: getting stock information for AAPL: yahoo: 429 Too Many Requests", res.Text)
	require.Equal(t, governor.OutcomeFailed, res.Outcome)
	require.Equal(t, 3, provider.count("Info"))
	require.Equal(t, 1, provider.count("Lookup"))
}

func TestTransientFailureRetriesOnlyTheFailingCall(t *testing.T) {
	provider := &stubProvider{infoFlaky: 1}
	o := newOrchestrator(provider)

	res := call(t, o, "get_stock_info", map[string]any{"ticker": "AAPL"})
	require.Equal(t, governor.OutcomeFetched, res.Outcome)
	require.Equal(t, `{"symbol":"AAPL","website":"https://a.example/?x=1&y=2"}`, res.Text)
	require.Equal(t, 2, provider.count("Info"))
	require.Equal(t, 1, provider.count("Lookup"))
}

func TestInfoIsNotHTMLEscaped(t *testing.T) {
	o := newOrchestrator(&stubProvider{})
	res := call(t, o, "get_stock_info", map[string]any{"ticker": "AAPL"})
	require.Equal(t, `{"symbol":"AAPL","website":"https://a.example/?x=1&y=2"}`, res.Text)
}

func TestNewsRendering(t *testing.T) {
	provider := &stubProvider{news: []core.NewsItem{
		{ContentType: "STORY", Title: "T1", Summary: "S1", Description: "D1", URL: "https://x/1"},
		{ContentType: "VIDEO", Title: "skip"},
		{ContentType: "STORY", Title: "T2", URL: "https://x/2"},
	}}
	o := newOrchestrator(provider)

	res := call(t, o, "get_yahoo_finance_news", map[string]any{"ticker": "AAPL"})
	require.Equal(t, "Title: T1\nSummary: S1\nDescription: D1\nURL: https://x/1\n\n"+
		"Title: T2\nSummary: \nDescription: \nURL: https://x/2", res.Text)

	empty := newOrchestrator(&stubProvider{})
	res = call(t, empty, "get_yahoo_finance_news", map[string]any{"ticker": "AAPL"})
	require.Equal(t, "No news found for company that searched with AAPL ticker.", res.Text)
	require.Equal(t, governor.OutcomeAnswered, res.Outcome)
	require.False(t, res.IsError)
}

func TestFinancialStatementRows(t *testing.T) {
	revenue := 100.0
	provider := &stubProvider{statement: []core.StatementPeriod{
		{Date: time.Date(2024, 9, 30, 0, 0, 0, 0, time.UTC), Values: map[string]*float64{"Total Revenue": &revenue, "Net Income": nil}},
	}}
	o := newOrchestrator(provider)

	res := call(t, o, "get_financial_statement", map[string]any{"ticker": "AAPL", "financial_type": "income_stmt"})
	require.Equal(t, `[{"date":"2024-09-30","Net Income":null,"Total Revenue":100}]`, res.Text)
}

func TestUpgradesDowngradesLatestPerFirm(t *testing.T) {
	provider := &stubProvider{changes: []core.GradeChange{
		{GradeDate: now.AddDate(0, -1, 0), Firm: "Acme", ToGrade: "Hold", Action: "down"},
		{GradeDate: now.AddDate(0, 0, -3), Firm: "Acme", ToGrade: "Buy", Action: "up"},
		{GradeDate: now.AddDate(0, -2, 0), Firm: "Beta", ToGrade: "Sell", Action: "init"},
		{GradeDate: now.AddDate(-2, 0, 0), Firm: "Gamma", ToGrade: "Buy", Action: "main"},
	}}
	o := newOrchestrator(provider)

	res := call(t, o, "get_recommendations", map[string]any{"ticker": "AAPL", "recommendation_type": "upgrades_downgrades", "months_back": 12.0})
	require.Equal(t, `[`+
		`{"Action":"up","Firm":"Acme","FromGrade":"","GradeDate":"2025-06-12T12:00:00.000Z","ToGrade":"Buy"},`+
		`{"Action":"init","Firm":"Beta","FromGrade":"","GradeDate":"2025-04-15T12:00:00.000Z","ToGrade":"Sell"}`+
		`]`, res.Text)
}

func TestLatestByFirmKeepsCutoffBoundary(t *testing.T) {
	cutoff := now.AddDate(0, -1, 0)
	out := LatestByFirm([]core.GradeChange{
		{GradeDate: cutoff, Firm: "Edge"},
		{GradeDate: cutoff.Add(-time.Second), Firm: "Old"},
	}, cutoff)
	require.Len(t, out, 1)
	require.Equal(t, "Edge", out[0]["Firm"])
}

func TestRecommendationsMonthsBackIsPartOfIdentity(t *testing.T) {
	provider := &stubProvider{}
	o := newOrchestrator(provider)

	call(t, o, "get_recommendations", map[string]any{"ticker": "AAPL", "recommendation_type": "recommendations"})
	res := call(t, o, "get_recommendations", map[string]any{"ticker": "AAPL", "recommendation_type": "recommendations", "months_back": 6})

	// Different identity, same ticker: the per-key throttle applies.
	require.Equal(t, governor.OutcomeRateLimitedKey, res.Outcome)
	require.Equal(t, "Rate limited. Try after 2.0s.", res.Text)
}

type recordingObserver struct {
	results []CallResult
}

func (r *recordingObserver) ObserveToolCall(_ context.Context, res CallResult) {
	r.results = append(r.results, res)
}

func TestObserversSeeEveryCall(t *testing.T) {
	observer := &recordingObserver{}
	o := newOrchestrator(&stubProvider{})
	o.Observers = []Observer{observer}

	call(t, o, "get_stock_actions", map[string]any{"ticker": "AAPL"})
	call(t, o, "get_holder_info", map[string]any{"ticker": "AAPL", "holder_type": "bad"})

	require.Len(t, observer.results, 2)
	require.Equal(t, "get_stock_actions", observer.results[0].Tool)
	require.Equal(t, governor.OutcomeFetched, observer.results[0].Outcome)
	require.Equal(t, OutcomeRejected, observer.results[1].Outcome)
}

func TestToolsAndInstructions(t *testing.T) {
	o := newOrchestrator(&stubProvider{})
	tools := o.Tools()
	require.Len(t, tools, 9)

	text := Instructions()
	require.True(t, strings.HasPrefix(text, "# Yahoo Finance MCP Server\n"))
	for _, tool := range tools {
		require.Contains(t, text, "- "+tool.Name+": ")
		require.Equal(t, "object", tool.InputSchema["type"])
	}
}
