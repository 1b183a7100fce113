package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/erpimport/internal/config"
	"github.com/JonMunkholm/erpimport/internal/core"
	"github.com/JonMunkholm/erpimport/internal/store/sqlite"
)

func testConfig() *config.Config {
	return &config.Config{
		Import:  config.ImportConfig{MaxFileSize: 64 << 10},
		Rate:    config.RateLimitConfig{Enabled: false},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *sqlite.Store) {
	t.Helper()
	ctx := context.Background()

	st, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "web.db"))
	require.NoError(t, err)
	t.Cleanup(st.Close)
	require.NoError(t, st.EnsureSchema(ctx))

	opts := core.DefaultOptions()
	opts.MaxFileSize = cfg.Import.MaxFileSize
	srv := NewServer(core.NewService(st, opts), cfg)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, st
}

func coreDataCSV(keys ...int) []byte {
	header := "Cartel;Seq;Stagione;Tipo Doc;Numero Doc;Commessa Cli;Articolo;Descrizione Articolo;Linea;" +
		"Ragione Sociale;Località;Data Documento;Data Consegna"
	for i := 1; i <= core.SlotCount; i++ {
		header += fmt.Sprintf(";P%02d", i)
	}
	lines := []string{header + ";Tot"}
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%d;1;A24;OC;%d;;ART-%d;Item;L1;Acme;Milano;05/03/2024;", k, k, k))
	}
	return []byte(strings.Join(lines, "\n") + "\n")
}

func uploadRequest(t *testing.T, path, name string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if name != "" {
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestAnalyzeExecuteFlow(t *testing.T) {
	srv, st := newTestServer(t, testConfig())

	rec := serve(srv, uploadRequest(t, "/api/coredata/analyze", "core.csv", coreDataCSV(1, 2)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var analyzed AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &analyzed))
	assert.NotEmpty(t, analyzed.SessionID)
	assert.Equal(t, "core.csv", analyzed.FileName)
	assert.Equal(t, 2, analyzed.Plan.ToInsert)
	assert.Equal(t, 2, analyzed.Plan.TotalRows)

	rec = serve(srv, httptest.NewRequest(http.MethodPost, "/api/coredata/execute", nil))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/coredata/progress", nil))
		var p core.ImportProgress
		return json.Unmarshal(rec.Body.Bytes(), &p) == nil && p.Status == core.StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	n, err := st.CountKeys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/api/coredata/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var stats StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Records)
	assert.Equal(t, core.StatusCompleted, stats.Status)
}

func TestExecuteWithoutPendingImport(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	rec := serve(srv, httptest.NewRequest(http.MethodPost, "/api/coredata/execute", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "IMP003", decodeError(t, rec).Code)
}

func TestCancelDiscardsPendingImport(t *testing.T) {
	srv, st := newTestServer(t, testConfig())

	rec := serve(srv, uploadRequest(t, "/api/coredata/analyze", "core.csv", coreDataCSV(1)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(srv, httptest.NewRequest(http.MethodPost, "/api/coredata/cancel", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var p core.ImportProgress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, core.StatusPending, p.Status)

	rec = serve(srv, httptest.NewRequest(http.MethodPost, "/api/coredata/execute", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	n, err := st.CountKeys(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAnalyzeRejections(t *testing.T) {
	tests := []struct {
		name       string
		file       string
		data       []byte
		wantStatus int
		wantCode   string
	}{
		{"no file", "", nil, http.StatusBadRequest, "FILE003"},
		{"too large", "big.csv", bytes.Repeat([]byte("x"), 65<<10), http.StatusRequestEntityTooLarge, "FILE001"},
		{"header only", "core.csv", coreDataCSV(), http.StatusUnprocessableEntity, ""},
		{"wrong columns", "other.csv", []byte("a;b;c\n1;2;3\n"), http.StatusUnprocessableEntity, "IMP002"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, testConfig())

			rec := serve(srv, uploadRequest(t, "/api/coredata/analyze", tt.file, tt.data))
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
			}
		})
	}
}

func TestProgress_HTMXPartial(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/coredata/progress", nil)
	req.Header.Set("HX-Request", "true")
	rec := serve(srv, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), `id="import-progress"`)
}

func TestErrors_HTMXPartial(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/coredata/execute", nil)
	req.Header.Set("HX-Request", "true")
	rec := serve(srv, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "IMP003")
	assert.Contains(t, rec.Body.String(), `role="alert"`)
}

func TestAnalyticsImport(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	data := []byte("Tipo Doc;Numero Doc;Cartel;Articolo;Prezzo;Quantità;Data Documento\n" +
		"FT;1;10;A;9,90;2;05/03/2024\n" +
		"FT;1;10;A;9,90;3;05/03/2024\n" +
		"FT;2;11;B;1,50;1;06/03/2024\n")

	rec := serve(srv, uploadRequest(t, "/api/analytics/import", "sales.csv", data))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result core.AnalyticsResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 3, result.SourceRows)
	assert.Equal(t, 2, result.Grouped)
	assert.Equal(t, int64(2), result.Written)
}

func TestRateLimit_Uploads(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 100, UploadLimit: 1}
	srv, _ := newTestServer(t, cfg)

	rec := serve(srv, uploadRequest(t, "/api/coredata/analyze", "core.csv", coreDataCSV(1)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(srv, uploadRequest(t, "/api/coredata/analyze", "core.csv", coreDataCSV(1)))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE001", decodeError(t, rec).Code)

	// Polling is not charged against the upload budget.
	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/api/coredata/progress", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

// getOverNewConnections issues n GETs, each on its own TCP connection, and
// returns the status codes. forwardedFor, when set, names the X-Forwarded-For
// value of request i.
func getOverNewConnections(t *testing.T, url string, n int, forwardedFor func(i int) string) []int {
	t.Helper()
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	codes := make([]int, 0, n)
	for i := 0; i < n; i++ {
		req, err := http.NewRequest(http.MethodGet, url, nil)
		require.NoError(t, err)
		if forwardedFor != nil {
			req.Header.Set("X-Forwarded-For", forwardedFor(i))
		}
		resp, err := client.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	return codes
}

func clientN(i int) string { return fmt.Sprintf("198.51.100.%d", i) }

func TestRateLimit_PerClientAcrossConnections(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2, UploadLimit: 1}
	srv, _ := newTestServer(t, cfg)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	codes := getOverNewConnections(t, ts.URL+"/healthz", 5, nil)
	assert.Equal(t, []int{200, 200, 429, 429, 429}, codes)
}

func TestRateLimit_IgnoresForwardedHeadersFromUntrustedPeers(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2, UploadLimit: 1}
	srv, _ := newTestServer(t, cfg)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	// A different claimed client on every request still shares one budget.
	codes := getOverNewConnections(t, ts.URL+"/healthz", 4, clientN)
	assert.Equal(t, []int{200, 200, 429, 429}, codes)
}

func TestRateLimit_TrustedProxyForwardsClientIP(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{
		Enabled: true, RequestsPerMinute: 1, UploadLimit: 1,
		TrustedProxies: []string{"127.0.0.1", "::1"},
	}
	srv, _ := newTestServer(t, cfg)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	// Behind the proxy, each forwarded client has its own budget.
	codes := getOverNewConnections(t, ts.URL+"/healthz", 3, clientN)
	assert.Equal(t, []int{200, 200, 200}, codes)

	codes = getOverNewConnections(t, ts.URL+"/healthz", 1, clientN)
	assert.Equal(t, []int{429}, codes, "198.51.100.0 already spent its budget")
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRateLimiter_WindowReset(t *testing.T) {
	now := time.Unix(0, 0)
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     2,
		window:   time.Minute,
		now:      func() time.Time { return now },
		done:     make(chan struct{}),
	}

	assert.True(t, rl.allow("1.2.3.4"))
	assert.True(t, rl.allow("1.2.3.4"))
	assert.False(t, rl.allow("1.2.3.4"))
	assert.True(t, rl.allow("5.6.7.8"), "budgets are per IP")

	now = now.Add(61 * time.Second)
	assert.True(t, rl.allow("1.2.3.4"))
}
