package integration

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickerlens/tickerlens/internal/config"
	"github.com/tickerlens/tickerlens/internal/core"
	"github.com/tickerlens/tickerlens/internal/core/engine"
	"github.com/tickerlens/tickerlens/internal/core/governor"
	"github.com/tickerlens/tickerlens/internal/mcp"
	"github.com/tickerlens/tickerlens/internal/metrics"
	"github.com/tickerlens/tickerlens/internal/observability"
	"github.com/tickerlens/tickerlens/internal/server"
)

// cleanupMetrics tears down global telemetry state so each test starts clean.
func cleanupMetrics(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		if observability.PrometheusExporter != nil {
			_ = observability.PrometheusExporter.Stop()
			observability.PrometheusExporter = nil
		}
		observability.TelemetrySystem = nil
	})
}

// isPermissionError normalizes OS-specific permission errors so we can skip
// when loopback sockets are blocked.
func isPermissionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{"permission denied", "operation not permitted", "not permitted"} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

func initMetricsOrSkip(t *testing.T) {
	t.Helper()

	if err := observability.InitMetrics("test", 0); err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping metrics tests due to sandbox permissions: %v", err)
		}
		require.NoError(t, err)
	}
	cleanupMetrics(t)
}

// quoteProvider answers Info with a fixed quote after a short delay.
type quoteProvider struct{ core.Provider }

func (quoteProvider) Lookup(context.Context, string) error { return nil }

func (quoteProvider) Info(_ context.Context, ticker string) (map[string]any, error) {
	time.Sleep(5 * time.Millisecond)
	return map[string]any{"symbol": ticker, "regularMarketPrice": 101.5}, nil
}

// newTestServer wires the MCP handler into the HTTP server and binds to
// IPv4 loopback, skipping when the sandbox refuses sockets.
func newTestServer(t *testing.T) (*httptest.Server, *http.Client, *governor.Governor) {
	t.Helper()

	g := governor.New(governor.DefaultConfig(), governor.WithRecorder(metrics.Decisions{}))
	t.Cleanup(g.Close)
	orch := &engine.Orchestrator{
		Provider:  quoteProvider{},
		Governor:  g,
		Observers: []engine.Observer{metrics.ToolCalls{}},
	}
	srv := server.New(config.ServerConfig{Host: "127.0.0.1"},
		server.WithMCP(mcp.NewServer(orch).HTTPHandler()))

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping server setup: %v", err)
		}
		require.NoError(t, err)
	}

	ts := &httptest.Server{
		Listener: listener,
		Config:   &http.Server{Handler: srv.Handler()},
	}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts, ts.Client(), g
}

func callTool(t *testing.T, client *http.Client, url, ticker string) {
	t.Helper()
	body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_stock_info","arguments":{"ticker":"` + ticker + `"}}}`
	resp, err := client.Post(url+server.MCPPath, "application/json", strings.NewReader(body))
	if err == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}
}

func scrape(t *testing.T, client *http.Client, url string) (string, *http.Response) {
	t.Helper()
	resp, err := client.Get(url + "/metrics")
	require.NoError(t, err)
	body, readErr := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, readErr)
	return string(body), resp
}

func TestMetricsEndpoint_ToolCallsUnderLoad(t *testing.T) {
	observability.InitServerLogger("test", "info")
	initMetricsOrSkip(t)

	ts, client, g := newTestServer(t)

	tickers := []string{"AAPL", "MSFT", "NVDA", "AMZN", "GOOG"}
	const numRequests = 50
	const numWorkers = 10

	requests := make(chan int, numRequests)
	for i := 0; i < numRequests; i++ {
		requests <- i
	}
	close(requests)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			for n := range requests {
				if n%5 == 4 {
					resp, err := client.Get(ts.URL + "/health")
					if err == nil {
						_ = resp.Body.Close()
					}
					continue
				}
				callTool(t, client, ts.URL, tickers[n%len(tickers)])
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)
	require.NoError(t, g.Flush(context.Background()))

	content, resp := scrape(t, client, ts.URL)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, content, "test_http_requests_total")
	assert.Contains(t, content, "test_tool_calls_total")
	assert.Contains(t, content, "test_governor_decisions_total")
	assert.Contains(t, content, "cache_hit", "repeated tickers should be served from the cache")
	assert.True(t, elapsed < 5*time.Second, "load test should complete in reasonable time")
	t.Logf("Load test completed: %d requests in %v", numRequests, elapsed)
}

func TestMetricsEndpoint_PrometheusFormat(t *testing.T) {
	observability.InitServerLogger("test", "info")
	initMetricsOrSkip(t)

	ts, client, _ := newTestServer(t)
	callTool(t, client, ts.URL, "AAPL")

	content, resp := scrape(t, client, ts.URL)
	contentType := resp.Header.Get("Content-Type")
	assert.True(t, strings.HasPrefix(contentType, "text/plain; version=0.0.4"),
		"Expected Prometheus content type, got: %s", contentType)

	metricLines := 0
	labelled := false
	for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
		if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
			continue
		}
		metricLines++
		if strings.Contains(line, "{") && len(strings.Fields(line)) >= 2 {
			labelled = true
		}
	}
	assert.True(t, labelled, "should have labelled Prometheus metric lines")
	assert.Greater(t, metricLines, 0)
}

func TestMetricsEndpoint_WithTelemetryDisabled(t *testing.T) {
	observability.InitServerLogger("test", "info")

	originalExporter := observability.PrometheusExporter
	originalTelemetry := observability.TelemetrySystem
	observability.PrometheusExporter = nil
	observability.TelemetrySystem = nil
	t.Cleanup(func() {
		observability.PrometheusExporter = originalExporter
		observability.TelemetrySystem = originalTelemetry
	})

	ts, client, _ := newTestServer(t)
	callTool(t, client, ts.URL, "AAPL")

	_, resp := scrape(t, client, ts.URL)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
