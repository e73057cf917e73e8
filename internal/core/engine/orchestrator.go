package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tickerlens/tickerlens/internal/core"
	"github.com/tickerlens/tickerlens/internal/core/governor"
)

// ErrUnknownTool is returned by Call for a tool name that is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// CallResult is the outcome of one tool invocation.
type CallResult struct {
	Tool     string
	Text     string
	Outcome  governor.Outcome
	IsError  bool
	Duration time.Duration
}

// Observer is notified after every tool call.
type Observer interface {
	ObserveToolCall(ctx context.Context, result CallResult)
}

// Orchestrator dispatches tool calls through the governor to the provider.
type Orchestrator struct {
	Provider  core.Provider
	Governor  *governor.Governor
	Clock     func() time.Time
	Observers []Observer
}

// Tools lists every registered tool in display order.
func (o *Orchestrator) Tools() []Tool {
	return append([]Tool(nil), registry...)
}

// Call validates args, then runs the tool. Argument errors that concern the
// shape of the call (missing ticker, wrong JSON type) come back as an error
// result; closed-set violations come back as the tool's own sentence.
func (o *Orchestrator) Call(ctx context.Context, name string, args map[string]any) (CallResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	tool, ok := lookup(name)
	if !ok {
		return CallResult{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if o == nil || o.Provider == nil || o.Governor == nil {
		return CallResult{}, fmt.Errorf("orchestrator not configured")
	}

	started := time.Now()
	result := o.run(ctx, tool, args)
	result.Tool = tool.Name
	result.Duration = time.Since(started)

	for _, observer := range o.Observers {
		observer.ObserveToolCall(ctx, result)
	}
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, tool Tool, args map[string]any) CallResult {
	call, err := tool.bind(args)
	if err != nil {
		var invalid *core.InvalidArgumentError
		if errors.As(err, &invalid) {
			return CallResult{Text: invalid.Message, Outcome: OutcomeRejected}
		}
		return CallResult{Text: err.Error(), Outcome: OutcomeRejected, IsError: true}
	}

	steps := &Orchestrator{Provider: stepProvider{o.Provider}, Clock: o.Clock}
	res := o.Governor.Execute(ctx, call.identity, call.ticker, func(ctx context.Context) (string, error) {
		return call.fetch(ctx, steps)
	})
	return CallResult{Text: render(tool, call.ticker, res), Outcome: res.Outcome}
}

// OutcomeRejected marks a call refused before reaching the governor.
const OutcomeRejected governor.Outcome = "rejected"

// render turns a governor result into the caller-facing string.
func render(tool Tool, ticker string, res governor.Result) string {
	if !res.Failed() {
		return res.Text()
	}

	if errors.Is(res.Err, core.ErrNotFound) {
		return fmt.Sprintf("Company ticker %s not found.", ticker)
	}
	return fmt.Sprintf("Error: getting %s for %s: %s", tool.subject, ticker, cause(res.Err))
}

// cause strips the retry wrapper so the message names the upstream error.
func cause(err error) string {
	var failure *governor.Failure
	if errors.As(err, &failure) && failure.Err != nil {
		err = failure.Err
	}
	return strings.TrimSpace(err.Error())
}

// Notice is an uncached answer returned verbatim, such as an unknown option
// expiration date.
type Notice = governor.Notice

func (o *Orchestrator) now() time.Time {
	if o != nil && o.Clock != nil {
		return o.Clock()
	}
	return time.Now().UTC()
}
