package core

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports that a ticker does not resolve upstream.
var ErrNotFound = errors.New("ticker not found")

// Record is one row of tabular market data, keyed by column name.
type Record map[string]any

// NewsItem is a single news entry for a ticker.
type NewsItem struct {
	ContentType string `json:"content_type"`
	Title       string `json:"title"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// StatementPeriod holds the line items of one reporting period. A nil value
// means the line item was not reported for that period.
type StatementPeriod struct {
	Date   time.Time
	Values map[string]*float64
}

// GradeChange is one analyst rating action.
type GradeChange struct {
	GradeDate          time.Time `json:"GradeDate"`
	Firm               string    `json:"Firm"`
	ToGrade            string    `json:"ToGrade"`
	FromGrade          string    `json:"FromGrade"`
	Action             string    `json:"Action"`
	PriceTargetAction  string    `json:"priceTargetAction,omitempty"`
	CurrentPriceTarget *float64  `json:"currentPriceTarget,omitempty"`
	PriorPriceTarget   *float64  `json:"priorPriceTarget,omitempty"`
}

// Provider is the upstream market-data source. Implementations report an
// unknown ticker with ErrNotFound and upstream throttling with an error whose
// message contains "Too Many Requests".
type Provider interface {
	Lookup(ctx context.Context, ticker string) error
	History(ctx context.Context, ticker string, period Period, interval Interval) ([]Record, error)
	Info(ctx context.Context, ticker string) (map[string]any, error)
	News(ctx context.Context, ticker string) ([]NewsItem, error)
	Actions(ctx context.Context, ticker string) ([]Record, error)
	Statement(ctx context.Context, ticker string, kind FinancialType) ([]StatementPeriod, error)
	Holders(ctx context.Context, ticker string, kind HolderType) ([]Record, error)
	OptionExpirations(ctx context.Context, ticker string) ([]string, error)
	OptionChain(ctx context.Context, ticker string, expiration string, side OptionType) ([]Record, error)
	Recommendations(ctx context.Context, ticker string) ([]Record, error)
	UpgradesDowngrades(ctx context.Context, ticker string) ([]GradeChange, error)
}

// ISOTime formats t the way tabular output renders timestamps.
func ISOTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
