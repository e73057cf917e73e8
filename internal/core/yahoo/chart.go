package yahoo

import (
	"context"
	"fmt"
	"net/url"
	"sort"

	"github.com/tickerlens/tickerlens/internal/core"
)

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *apiError     `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Timestamp []int64 `json:"timestamp"`
	Events    struct {
		Dividends map[string]struct {
			Amount float64 `json:"amount"`
			Date   int64   `json:"date"`
		} `json:"dividends"`
		Splits map[string]struct {
			Date        int64   `json:"date"`
			Numerator   float64 `json:"numerator"`
			Denominator float64 `json:"denominator"`
		} `json:"splits"`
	} `json:"events"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
		AdjClose []struct {
			AdjClose []*float64 `json:"adjclose"`
		} `json:"adjclose"`
	} `json:"indicators"`
}

func (c *Client) chart(ctx context.Context, ticker string, query url.Values) (*chartResult, error) {
	var resp chartResponse
	if err := c.getJSON(ctx, "/v8/finance/chart/"+url.PathEscape(ticker), query, false, &resp); err != nil {
		return nil, err
	}
	if err := resp.Chart.Error.err(); err != nil {
		return nil, err
	}
	if len(resp.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: no chart data for %s", core.ErrNotFound, ticker)
	}
	return &resp.Chart.Result[0], nil
}

// History returns OHLCV bars with dividends and splits folded in.
func (c *Client) History(ctx context.Context, ticker string, period core.Period, interval core.Interval) ([]core.Record, error) {
	query := url.Values{}
	query.Set("range", string(period))
	query.Set("interval", string(interval))
	query.Set("events", "div,splits")
	query.Set("includeAdjustedClose", "true")

	res, err := c.chart(ctx, ticker, query)
	if err != nil {
		return nil, err
	}

	dividends := make(map[int64]float64, len(res.Events.Dividends))
	for _, d := range res.Events.Dividends {
		dividends[d.Date] = d.Amount
	}
	splits := make(map[int64]float64, len(res.Events.Splits))
	for _, s := range res.Events.Splits {
		if s.Denominator != 0 {
			splits[s.Date] = s.Numerator / s.Denominator
		}
	}

	if len(res.Indicators.Quote) == 0 {
		return []core.Record{}, nil
	}
	quote := res.Indicators.Quote[0]
	var adj []*float64
	if len(res.Indicators.AdjClose) > 0 {
		adj = res.Indicators.AdjClose[0].AdjClose
	}

	records := make([]core.Record, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		open, high, low, closing := at(quote.Open, i), at(quote.High, i), at(quote.Low, i), at(quote.Close, i)
		if open == nil && high == nil && low == nil && closing == nil {
			continue
		}
		t, _ := epoch(float64(ts))
		records = append(records, core.Record{
			"Date":         core.ISOTime(t),
			"Open":         open,
			"High":         high,
			"Low":          low,
			"Close":        closing,
			"Adj Close":    at(adj, i),
			"Volume":       at(quote.Volume, i),
			"Dividends":    dividends[ts],
			"Stock Splits": splits[ts],
		})
	}
	return records, nil
}

// Actions returns every dividend and split in the ticker's history, oldest
// first.
func (c *Client) Actions(ctx context.Context, ticker string) ([]core.Record, error) {
	query := url.Values{}
	query.Set("range", "max")
	query.Set("interval", "1d")
	query.Set("events", "div,splits")

	res, err := c.chart(ctx, ticker, query)
	if err != nil {
		return nil, err
	}

	type action struct {
		dividend float64
		split    float64
	}
	byDate := map[int64]*action{}
	get := func(ts int64) *action {
		a, ok := byDate[ts]
		if !ok {
			a = &action{}
			byDate[ts] = a
		}
		return a
	}
	for _, d := range res.Events.Dividends {
		get(d.Date).dividend = d.Amount
	}
	for _, s := range res.Events.Splits {
		if s.Denominator != 0 {
			get(s.Date).split = s.Numerator / s.Denominator
		}
	}

	dates := make([]int64, 0, len(byDate))
	for ts := range byDate {
		dates = append(dates, ts)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i] < dates[j] })

	records := make([]core.Record, 0, len(dates))
	for _, ts := range dates {
		t, _ := epoch(float64(ts))
		a := byDate[ts]
		records = append(records, core.Record{
			"Date":         core.ISOTime(t),
			"Dividends":    a.dividend,
			"Stock Splits": a.split,
		})
	}
	return records, nil
}

func at(values []*float64, i int) *float64 {
	if i < 0 || i >= len(values) {
		return nil
	}
	return values[i]
}
