package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tickerlens/tickerlens/internal/core"
	"github.com/tickerlens/tickerlens/internal/core/engine"
	"github.com/tickerlens/tickerlens/internal/core/governor"
)

type fakeProvider struct{}

func (fakeProvider) Lookup(context.Context, string) error { return nil }
func (fakeProvider) History(context.Context, string, core.Period, core.Interval) ([]core.Record, error) {
	return []core.Record{}, nil
}
func (fakeProvider) Info(_ context.Context, ticker string) (map[string]any, error) {
	return map[string]any{"symbol": ticker}, nil
}
func (fakeProvider) News(context.Context, string) ([]core.NewsItem, error) { return nil, nil }
func (fakeProvider) Actions(context.Context, string) ([]core.Record, error) {
	return []core.Record{}, nil
}
func (fakeProvider) Statement(context.Context, string, core.FinancialType) ([]core.StatementPeriod, error) {
	return nil, nil
}
func (fakeProvider) Holders(context.Context, string, core.HolderType) ([]core.Record, error) {
	return nil, nil
}
func (fakeProvider) OptionExpirations(context.Context, string) ([]string, error) {
	return []string{"2025-01-17"}, nil
}
func (fakeProvider) OptionChain(context.Context, string, string, core.OptionType) ([]core.Record, error) {
	return nil, nil
}
func (fakeProvider) Recommendations(context.Context, string) ([]core.Record, error) { return nil, nil }
func (fakeProvider) UpgradesDowngrades(context.Context, string) ([]core.GradeChange, error) {
	return nil, nil
}

func newTestServer() *Server {
	clock := func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	g := governor.New(governor.DefaultConfig(), governor.WithClock(clock))
	return NewServer(&engine.Orchestrator{Provider: fakeProvider{}, Governor: g, Clock: clock},
		WithImplementation("tickerlens", "1.2.3"))
}

func roundTrip(t *testing.T, s *Server, msg string) map[string]any {
	t.Helper()
	raw := s.HandleMessage(context.Background(), []byte(msg))
	require.NotNil(t, raw)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestInitialize(t *testing.T) {
	s := newTestServer()

	resp := roundTrip(t, s, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","clientInfo":{"name":"test","version":"0"}}}`)
	result := resp["result"].(map[string]any)
	require.Equal(t, "2025-03-26", result["protocolVersion"])
	require.Equal(t, map[string]any{"name": "tickerlens", "version": "1.2.3"}, result["serverInfo"])
	require.True(t, strings.HasPrefix(result["instructions"].(string), "# Yahoo Finance MCP Server"))

	resp = roundTrip(t, s, `{"jsonrpc":"2.0","id":2,"method":"initialize","params":{"protocolVersion":"1999-01-01"}}`)
	require.Equal(t, ProtocolVersion, resp["result"].(map[string]any)["protocolVersion"])
}

func TestToolsList(t *testing.T) {
	resp := roundTrip(t, newTestServer(), `{"jsonrpc":"2.0","id":"a","method":"tools/list"}`)
	require.Equal(t, "a", resp["id"])
	tools := resp["result"].(map[string]any)["tools"].([]any)
	require.Len(t, tools, 9)
	first := tools[0].(map[string]any)
	require.Equal(t, "get_historical_stock_prices", first["name"])
	require.Contains(t, first, "inputSchema")
}

func TestToolsCall(t *testing.T) {
	s := newTestServer()

	resp := roundTrip(t, s, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"get_stock_info","arguments":{"ticker":"AAPL"}}}`)
	result := resp["result"].(map[string]any)
	require.Equal(t, false, result["isError"])
	content := result["content"].([]any)[0].(map[string]any)
	require.Equal(t, "text", content["type"])
	require.Equal(t, `{"symbol":"AAPL"}`, content["text"])

	resp = roundTrip(t, s, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"get_stock_actions","arguments":{"ticker":"AAPL"}}}`)
	content = resp["result"].(map[string]any)["content"].([]any)[0].(map[string]any)
	require.Equal(t, "Rate limited. Try after 2.0s.", content["text"])
}

func TestProtocolErrors(t *testing.T) {
	s := newTestServer()

	resp := roundTrip(t, s, `{"jsonrpc":"2.0","id":5,"method":"resources/list"}`)
	require.EqualValues(t, MethodNotFound, resp["error"].(map[string]any)["code"])

	resp = roundTrip(t, s, `{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"nope"}}`)
	require.EqualValues(t, InvalidParams, resp["error"].(map[string]any)["code"])

	resp = roundTrip(t, s, `{not json`)
	require.EqualValues(t, ParseError, resp["error"].(map[string]any)["code"])
	require.Nil(t, resp["id"])

	resp = roundTrip(t, s, `{"jsonrpc":"1.0","id":7,"method":"ping"}`)
	require.EqualValues(t, InvalidRequest, resp["error"].(map[string]any)["code"])

	resp = roundTrip(t, s, `{"jsonrpc":"2.0","id":8,"method":"ping"}`)
	require.Equal(t, map[string]any{}, resp["result"])

	require.Nil(t, s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)))
}

func TestServeStdio(t *testing.T) {
	s := newTestServer()
	in := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		``,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
	}, "\n") + "\n"

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- s.ServeStdio(context.Background(), strings.NewReader(in), pw)
		_ = pw.Close()
	}()

	ids := map[float64]bool{}
	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		var resp map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		ids[resp["id"].(float64)] = true
	}
	require.NoError(t, <-done)
	require.Equal(t, map[float64]bool{1: true, 2: true}, ids)
}

func TestServeStdioStopsOnCancel(t *testing.T) {
	s := newTestServer()
	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	defer pw.Close()

	done := make(chan error, 1)
	go func() { done <- s.ServeStdio(ctx, pr, io.Discard) }()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("ServeStdio did not return after cancel")
	}
}

func TestHTTPHandlerSessions(t *testing.T) {
	srv := httptest.NewServer(newTestServer().HTTPHandler())
	defer srv.Close()

	post := func(body string, session string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		if session != "" {
			req.Header.Set(SessionHeader, session)
		}
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return res
	}

	res := post(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`, "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	session := res.Header.Get(SessionHeader)
	require.NotEmpty(t, session)
	_ = res.Body.Close()

	res = post(`{"jsonrpc":"2.0","method":"notifications/initialized"}`, session)
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	_ = res.Body.Close()

	res = post(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, "unknown")
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	_ = res.Body.Close()

	res = post(`{"jsonrpc":"2.0","id":3,"method":"ping"}`, session)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "application/json", res.Header.Get("Content-Type"))
	_ = res.Body.Close()

	res, err := http.Get(srv.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
	_ = res.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set(SessionHeader, session)
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	_ = res.Body.Close()

	res = post(`{"jsonrpc":"2.0","id":4,"method":"ping"}`, session)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	_ = res.Body.Close()
}
