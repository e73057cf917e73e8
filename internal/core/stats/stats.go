// Package stats stores governor decision counters. The memory store covers a
// single process; the Redis store aggregates across processes sharing one
// upstream quota.
package stats

import (
	"context"
	"sort"

	"github.com/tickerlens/tickerlens/internal/core/governor"
)

// Counters maps an outcome name to how many times it occurred.
type Counters map[string]int64

func (c Counters) inc(field string) Counters {
	if c == nil {
		c = Counters{}
	}
	c[field]++
	return c
}

func (c Counters) clone() Counters {
	out := make(Counters, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Get returns the count for outcome.
func (c Counters) Get(outcome governor.Outcome) int64 {
	return c[string(outcome)]
}

// Fields returns the recorded outcome names in a stable order.
func (c Counters) Fields() []string {
	fields := make([]string, 0, len(c))
	for k := range c {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// Summary is a point-in-time view of the counters.
type Summary struct {
	Total       Counters            `json:"total" yaml:"total"`
	ByOperation map[string]Counters `json:"by_operation" yaml:"by_operation"`
	ByKey       map[string]Counters `json:"by_key,omitempty" yaml:"by_key,omitempty"`
}

// Reader exposes accumulated counters.
type Reader interface {
	Summary(ctx context.Context) (Summary, error)
}

// Store records decisions and reads them back.
type Store interface {
	governor.Recorder
	Reader
}
