package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickerlens/tickerlens/internal/config"
	"github.com/tickerlens/tickerlens/internal/core"
	"github.com/tickerlens/tickerlens/internal/core/engine"
	"github.com/tickerlens/tickerlens/internal/core/governor"
	"github.com/tickerlens/tickerlens/internal/core/stats"
	apperrors "github.com/tickerlens/tickerlens/internal/errors"
	"github.com/tickerlens/tickerlens/internal/mcp"
	"github.com/tickerlens/tickerlens/internal/server/handlers"
	servermw "github.com/tickerlens/tickerlens/internal/server/middleware"
)

type infoProvider struct{ core.Provider }

func (infoProvider) Lookup(context.Context, string) error { return nil }
func (infoProvider) Info(_ context.Context, ticker string) (map[string]any, error) {
	return map[string]any{"symbol": ticker}, nil
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()

	store := stats.NewMemoryStore()
	clock := func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	g := governor.New(governor.DefaultConfig(), governor.WithClock(clock), governor.WithRecorder(store))
	orch := &engine.Orchestrator{Provider: infoProvider{}, Governor: g, Clock: clock}

	base := []Option{
		WithMCP(mcp.NewServer(orch).HTTPHandler()),
		WithStats(handlers.Stats("memory", g, store, HandleError)),
		WithVersion(handlers.VersionInfo{Name: "tickerlens", Version: "1.2.3"}),
	}
	return New(config.ServerConfig{Host: "127.0.0.1", Port: 0}, append(base, opts...)...)
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, MCPPath, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMCPEndpointAndStats(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	// Arrange: open a session
	res, err := http.Post(ts.URL+MCPPath, "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`))
	require.NoError(t, err)
	session := res.Header.Get(mcp.SessionHeader)
	_ = res.Body.Close()
	require.NotEmpty(t, session)

	// Act: one governed tool call
	req, err := http.NewRequest(http.MethodPost, ts.URL+MCPPath,
		strings.NewReader(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"get_stock_info","arguments":{"ticker":"AAPL"}}}`))
	require.NoError(t, err)
	req.Header.Set(mcp.SessionHeader, session)
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	var rpc struct {
		Result mcp.ToolCallResult `json:"result"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&rpc))
	_ = res.Body.Close()

	// Assert
	require.Len(t, rpc.Result.Content, 1)
	assert.Equal(t, `{"symbol":"AAPL"}`, rpc.Result.Content[0].Text)

	res, err = http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	defer res.Body.Close()
	var report stats.Report
	require.NoError(t, json.NewDecoder(res.Body).Decode(&report))
	assert.Equal(t, "memory", report.Backend)
	assert.Equal(t, int64(1), report.Decisions.Total.Get(governor.OutcomeFetched))
	assert.Equal(t, 1, report.Occupancy.CachedEntries)
}

func TestIngressGuardsMCPOnly(t *testing.T) {
	srv := newTestServer(t, WithIngress(servermw.NewIngress(1, 1, servermw.WithRejectFunc(RejectRateLimited))))

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, MCPPath, strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, post().Code)

	limited := post()
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(limited.Body).Decode(&body))
	assert.Equal(t, apperrors.CodeRateLimited, body.Error.Code)
	assert.InDelta(t, 1.0, body.Error.Details["retry_after_seconds"], 1e-6)
	assert.NotEmpty(t, body.Error.RequestID)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestShutdownBeforeStart(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.Shutdown(context.Background()))
	assert.Equal(t, "127.0.0.1:0", srv.Addr())
}
