package engine

import (
	"context"

	"github.com/tickerlens/tickerlens/internal/core"
	"github.com/tickerlens/tickerlens/internal/core/governor"
)

// stepProvider retries each upstream call on its own inside a governed fetch.
type stepProvider struct {
	next core.Provider
}

func (p stepProvider) Lookup(ctx context.Context, ticker string) error {
	_, err := governor.Step(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.next.Lookup(ctx, ticker)
	})
	return err
}

func (p stepProvider) History(ctx context.Context, ticker string, period core.Period, interval core.Interval) ([]core.Record, error) {
	return governor.Step(ctx, func(ctx context.Context) ([]core.Record, error) {
		return p.next.History(ctx, ticker, period, interval)
	})
}

func (p stepProvider) Info(ctx context.Context, ticker string) (map[string]any, error) {
	return governor.Step(ctx, func(ctx context.Context) (map[string]any, error) {
		return p.next.Info(ctx, ticker)
	})
}

func (p stepProvider) News(ctx context.Context, ticker string) ([]core.NewsItem, error) {
	return governor.Step(ctx, func(ctx context.Context) ([]core.NewsItem, error) {
		return p.next.News(ctx, ticker)
	})
}

func (p stepProvider) Actions(ctx context.Context, ticker string) ([]core.Record, error) {
	return governor.Step(ctx, func(ctx context.Context) ([]core.Record, error) {
		return p.next.Actions(ctx, ticker)
	})
}

func (p stepProvider) Statement(ctx context.Context, ticker string, kind core.FinancialType) ([]core.StatementPeriod, error) {
	return governor.Step(ctx, func(ctx context.Context) ([]core.StatementPeriod, error) {
		return p.next.Statement(ctx, ticker, kind)
	})
}

func (p stepProvider) Holders(ctx context.Context, ticker string, kind core.HolderType) ([]core.Record, error) {
	return governor.Step(ctx, func(ctx context.Context) ([]core.Record, error) {
		return p.next.Holders(ctx, ticker, kind)
	})
}

func (p stepProvider) OptionExpirations(ctx context.Context, ticker string) ([]string, error) {
	return governor.Step(ctx, func(ctx context.Context) ([]string, error) {
		return p.next.OptionExpirations(ctx, ticker)
	})
}

func (p stepProvider) OptionChain(ctx context.Context, ticker string, expiration string, side core.OptionType) ([]core.Record, error) {
	return governor.Step(ctx, func(ctx context.Context) ([]core.Record, error) {
		return p.next.OptionChain(ctx, ticker, expiration, side)
	})
}

func (p stepProvider) Recommendations(ctx context.Context, ticker string) ([]core.Record, error) {
	return governor.Step(ctx, func(ctx context.Context) ([]core.Record, error) {
		return p.next.Recommendations(ctx, ticker)
	})
}

func (p stepProvider) UpgradesDowngrades(ctx context.Context, ticker string) ([]core.GradeChange, error) {
	return governor.Step(ctx, func(ctx context.Context) ([]core.GradeChange, error) {
		return p.next.UpgradesDowngrades(ctx, ticker)
	})
}
