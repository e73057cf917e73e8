package yahoo

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/tickerlens/tickerlens/internal/core"
)

const expirationLayout = "2006-01-02"

type optionsResponse struct {
	OptionChain struct {
		Result []struct {
			ExpirationDates []int64 `json:"expirationDates"`
			Options         []struct {
				ExpirationDate int64            `json:"expirationDate"`
				Calls          []map[string]any `json:"calls"`
				Puts           []map[string]any `json:"puts"`
			} `json:"options"`
		} `json:"result"`
		Error *apiError `json:"error"`
	} `json:"optionChain"`
}

func (c *Client) options(ctx context.Context, ticker string, query url.Values) (*optionsResponse, error) {
	var resp optionsResponse
	if err := c.getJSON(ctx, "/v7/finance/options/"+url.PathEscape(ticker), query, true, &resp); err != nil {
		return nil, err
	}
	if err := resp.OptionChain.Error.err(); err != nil {
		return nil, err
	}
	if len(resp.OptionChain.Result) == 0 {
		return nil, fmt.Errorf("%w: no options for %s", core.ErrNotFound, ticker)
	}
	return &resp, nil
}

// OptionExpirations lists expiration dates as YYYY-MM-DD, in upstream order.
func (c *Client) OptionExpirations(ctx context.Context, ticker string) ([]string, error) {
	resp, err := c.options(ctx, ticker, nil)
	if err != nil {
		return nil, err
	}
	dates := resp.OptionChain.Result[0].ExpirationDates
	out := make([]string, 0, len(dates))
	for _, ts := range dates {
		out = append(out, time.Unix(ts, 0).UTC().Format(expirationLayout))
	}
	return out, nil
}

// OptionChain returns one side of the chain for expiration (YYYY-MM-DD).
// Contract timestamps are rendered as ISO-8601 strings.
func (c *Client) OptionChain(ctx context.Context, ticker string, expiration string, side core.OptionType) ([]core.Record, error) {
	day, err := time.Parse(expirationLayout, expiration)
	if err != nil {
		return nil, fmt.Errorf("parsing expiration %q: %w", expiration, err)
	}

	query := url.Values{}
	query.Set("date", fmt.Sprint(day.Unix()))
	resp, err := c.options(ctx, ticker, query)
	if err != nil {
		return nil, err
	}

	out := []core.Record{}
	for _, chain := range resp.OptionChain.Result[0].Options {
		contracts := chain.Calls
		if side == core.Puts {
			contracts = chain.Puts
		}
		for _, contract := range contracts {
			out = append(out, contractRecord(contract))
		}
	}
	return out, nil
}

func contractRecord(contract map[string]any) core.Record {
	rec := make(core.Record, len(contract))
	for k, v := range contract {
		v = flatten(v)
		switch k {
		case "lastTradeDate", "expiration":
			rec[k] = isoEpoch(v)
		default:
			rec[k] = v
		}
	}
	return rec
}
