package core

import (
	"fmt"
	"strings"
)

// Period is a history lookback range.
type Period string

const (
	Period1d  Period = "1d"
	Period5d  Period = "5d"
	Period1mo Period = "1mo"
	Period3mo Period = "3mo"
	Period6mo Period = "6mo"
	Period1y  Period = "1y"
	Period2y  Period = "2y"
	Period5y  Period = "5y"
	Period10y Period = "10y"
	PeriodYTD Period = "ytd"
	PeriodMax Period = "max"
)

// Periods lists every valid period.
var Periods = []Period{Period1d, Period5d, Period1mo, Period3mo, Period6mo, Period1y, Period2y, Period5y, Period10y, PeriodYTD, PeriodMax}

// Interval is a history bar size.
type Interval string

// Intervals lists every valid interval.
var Intervals = []Interval{"1m", "2m", "5m", "15m", "30m", "60m", "90m", "1h", "1d", "5d", "1wk", "1mo", "3mo"}

// FinancialType selects a financial statement.
type FinancialType string

const (
	IncomeStmt            FinancialType = "income_stmt"
	QuarterlyIncomeStmt   FinancialType = "quarterly_income_stmt"
	BalanceSheet          FinancialType = "balance_sheet"
	QuarterlyBalanceSheet FinancialType = "quarterly_balance_sheet"
	Cashflow              FinancialType = "cashflow"
	QuarterlyCashflow     FinancialType = "quarterly_cashflow"
)

// FinancialTypes lists every valid statement type in display order.
var FinancialTypes = []FinancialType{IncomeStmt, QuarterlyIncomeStmt, BalanceSheet, QuarterlyBalanceSheet, Cashflow, QuarterlyCashflow}

// Quarterly reports whether the statement is quarterly rather than annual.
func (f FinancialType) Quarterly() bool {
	return strings.HasPrefix(string(f), "quarterly_")
}

// HolderType selects a holder breakdown.
type HolderType string

const (
	MajorHolders         HolderType = "major_holders"
	InstitutionalHolders HolderType = "institutional_holders"
	MutualFundHolders    HolderType = "mutualfund_holders"
	InsiderTransactions  HolderType = "insider_transactions"
	InsiderPurchases     HolderType = "insider_purchases"
	InsiderRosterHolders HolderType = "insider_roster_holders"
)

// HolderTypes lists every valid holder type in display order.
var HolderTypes = []HolderType{MajorHolders, InstitutionalHolders, MutualFundHolders, InsiderTransactions, InsiderPurchases, InsiderRosterHolders}

// RecommendationType selects analyst recommendation data.
type RecommendationType string

const (
	Recommendations    RecommendationType = "recommendations"
	UpgradesDowngrades RecommendationType = "upgrades_downgrades"
)

// RecommendationTypes lists every valid recommendation type.
var RecommendationTypes = []RecommendationType{Recommendations, UpgradesDowngrades}

// OptionType selects one side of an option chain.
type OptionType string

const (
	Calls OptionType = "calls"
	Puts  OptionType = "puts"
)

// OptionTypes lists both option sides.
var OptionTypes = []OptionType{Calls, Puts}

// InvalidArgumentError is returned when a caller passes a value outside a
// closed set. Its message is the sentence returned to the caller.
type InvalidArgumentError struct {
	Argument string
	Value    string
	Message  string
}

func (e *InvalidArgumentError) Error() string {
	return e.Message
}

// ParsePeriod validates a period.
func ParsePeriod(value string) (Period, error) {
	return parseEnum(value, Periods, "period")
}

// ParseInterval validates an interval.
func ParseInterval(value string) (Interval, error) {
	return parseEnum(value, Intervals, "interval")
}

// ParseFinancialType validates a financial statement type.
func ParseFinancialType(value string) (FinancialType, error) {
	return parseEnum(value, FinancialTypes, "financial type")
}

// ParseHolderType validates a holder type.
func ParseHolderType(value string) (HolderType, error) {
	return parseEnum(value, HolderTypes, "holder type")
}

// ParseRecommendationType validates a recommendation type.
func ParseRecommendationType(value string) (RecommendationType, error) {
	return parseEnum(value, RecommendationTypes, "recommendation type")
}

// ParseOptionType validates an option side.
func ParseOptionType(value string) (OptionType, error) {
	for _, side := range OptionTypes {
		if value == string(side) {
			return side, nil
		}
	}
	return "", &InvalidArgumentError{
		Argument: "option_type",
		Value:    value,
		Message:  "Error: Invalid option type. Please use 'calls' or 'puts'.",
	}
}

func parseEnum[T ~string](value string, valid []T, name string) (T, error) {
	for _, v := range valid {
		if value == string(v) {
			return v, nil
		}
	}

	names := make([]string, 0, len(valid))
	for _, v := range valid {
		names = append(names, string(v))
	}
	var zero T
	return zero, &InvalidArgumentError{
		Argument: strings.ReplaceAll(name, " ", "_"),
		Value:    value,
		Message:  fmt.Sprintf("Error: invalid %s %s. Please use one of the following: %s.", name, value, strings.Join(names, ", ")),
	}
}
