package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/attribution/internal/clock"
	"github.com/smallbiznis/attribution/internal/config"
	"github.com/smallbiznis/attribution/internal/observability"
	obsmetrics "github.com/smallbiznis/attribution/internal/observability/metrics"
	"github.com/smallbiznis/attribution/internal/ratelimit"
	trackingdomain "github.com/smallbiznis/attribution/internal/tracking/domain"
	"github.com/smallbiznis/attribution/internal/tracking/liveevents"
	"github.com/smallbiznis/attribution/internal/tracking/service"
	"github.com/smallbiznis/attribution/internal/tracking/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	srv *Server
	hub *liveevents.Hub
}

func newTestServer(t *testing.T, limiter *ratelimit.TrackLimiter) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	hub := liveevents.NewHub()
	svc := service.NewService(service.ServiceParam{
		Store:      store.NewMemoryStore(),
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clock.NewFakeClock(time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)),
		Policy:     config.NewStaticTrackingConfigHolder(config.DefaultTrackingConfig()),
		LiveEvents: hub,
	})

	cfg := config.Config{AppVersion: "1.0.0"}
	httpMetrics, err := obsmetrics.NewHTTPMetricsWith(prometheus.NewRegistry())
	require.NoError(t, err)
	engine := NewEngine(cfg, observability.Config{LogLevel: "info", Environment: "test"}, httpMetrics)
	srv := NewServer(ServerParams{
		Gin:          engine,
		Cfg:          cfg,
		TrackingSvc:  svc,
		LiveEvents:   hub,
		TrackLimiter: limiter,
	})
	return testServer{srv: srv, hub: hub}
}

func (ts testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.srv.Engine().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRootAndHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Tracking & Attribution API", body["message"])
	assert.Equal(t, "1.0.0", body["version"])
	assert.Equal(t, "running", body["status"])

	rec = ts.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/api/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	errBody := decode(t, rec)["error"].(map[string]any)
	assert.Equal(t, "not_found", errBody["type"])
}

func TestTrackThenAttributedConversion(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/api/events/track", `{
		"pixel_id": "px_demo_001",
		"session_id": "sess_1",
		"utm_source": "facebook",
		"utm_campaign": "summer_sale",
		"page_url": "https://shop.example/landing"
	}`)
	require.Equal(t, http.StatusOK, rec.Code)
	click := decode(t, rec)
	assert.Equal(t, true, click["success"])
	assert.Equal(t, "Click tracked successfully", click["message"])
	assert.NotEmpty(t, click["event_id"])
	assert.NotContains(t, click, "replaced")

	rec = ts.do(http.MethodPost, "/api/events/conversion", `{"session_id":"sess_1","order_id":"ord_1","revenue":99.99}`)
	require.Equal(t, http.StatusOK, rec.Code)
	conv := decode(t, rec)
	assert.Equal(t, true, conv["attributed"])
	assert.Equal(t, "summer_sale", conv["campaign_id"])
	assert.Equal(t, "Conversion tracked and attributed", conv["message"])
	assert.NotEmpty(t, conv["conversion_id"])

	rec = ts.do(http.MethodGet, "/api/events/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode(t, rec)
	assert.EqualValues(t, 1, stats["total_clicks"])
	assert.EqualValues(t, 1, stats["total_conversions"])
	assert.EqualValues(t, 1, stats["attributed_conversions"])
	assert.EqualValues(t, 99.99, stats["total_revenue"])
	assert.EqualValues(t, 100, stats["conversion_rate"])
}

func TestUnattributedConversion(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/api/events/conversion", `{"session_id":"ghost","order_id":"ord_9","revenue":10,"currency":"EUR"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	conv := decode(t, rec)
	assert.Equal(t, false, conv["attributed"])
	assert.NotContains(t, conv, "campaign_id")
	assert.Equal(t, "Conversion tracked but not attributed (session not found)", conv["message"])
}

func TestRepeatedSessionReportsReplaced(t *testing.T) {
	ts := newTestServer(t, nil)
	body := `{"pixel_id":"px","session_id":"sess_1","page_url":"https://shop.example/"}`

	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/events/track", body).Code)
	rec := ts.do(http.MethodPost, "/api/events/track", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["replaced"])
}

func TestTrackValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name  string
		path  string
		body  string
		field string
		code  string
	}{
		{"missing pixel", "/api/events/track", `{"session_id":"s","page_url":"u"}`, "pixel_id", "required"},
		{"blank pixel", "/api/events/track", `{"pixel_id":" ","session_id":"s","page_url":"u"}`, "pixel_id", "invalid_pixel_id"},
		{"missing page url", "/api/events/track", `{"pixel_id":"p","session_id":"s"}`, "page_url", "required"},
		{"empty body", "/api/events/track", "", "request", "invalid_request"},
		{"malformed json", "/api/events/track", `{"pixel_id":`, "request", "invalid_request"},
		{"wrong type", "/api/events/conversion", `{"session_id":"s","order_id":"o","revenue":"ten"}`, "revenue", "invalid_type"},
		{"zero revenue", "/api/events/conversion", `{"session_id":"s","order_id":"o","revenue":0}`, "revenue", "gt"},
		{"negative revenue", "/api/events/conversion", `{"session_id":"s","order_id":"o","revenue":-5}`, "revenue", "gt"},
		{"missing order", "/api/events/conversion", `{"session_id":"s","revenue":5}`, "order_id", "required"},
		{"bad currency", "/api/events/conversion", `{"session_id":"s","order_id":"o","revenue":5,"currency":"EURO"}`, "currency", "len"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req *http.Request
			if tt.body == "" {
				req = httptest.NewRequest(http.MethodPost, tt.path, http.NoBody)
			} else {
				req = httptest.NewRequest(http.MethodPost, tt.path, bytes.NewBufferString(tt.body))
			}
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			ts.srv.Engine().ServeHTTP(rec, req)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			var resp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "validation_error", resp.Error.Type)
			require.NotEmpty(t, resp.Error.Errors)
			assert.Equal(t, tt.field, resp.Error.Errors[0].Field)
			assert.Equal(t, tt.code, resp.Error.Errors[0].Code)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/events/track", nil)
	req.Header.Set("Origin", "https://shop.example")
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	rec := httptest.NewRecorder()
	ts.srv.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://shop.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "content-type", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestIsOriginAllowed(t *testing.T) {
	assert.True(t, isOriginAllowed("https://a.example", nil))
	assert.True(t, isOriginAllowed("https://a.example", []string{"https://a.example"}))
	assert.True(t, isOriginAllowed("https://a.example", []string{"*"}))
	assert.False(t, isOriginAllowed("https://b.example", []string{"https://a.example"}))
}

type fakeBucket struct {
	result *ratelimit.RateLimitResult
	err    error
	keys   []string
}

func (f *fakeBucket) Allow(_ context.Context, key string, _ float64, _ int) (*ratelimit.RateLimitResult, error) {
	f.keys = append(f.keys, key)
	return f.result, f.err
}

func TestTrackRateLimitDenied(t *testing.T) {
	bucket := &fakeBucket{result: &ratelimit.RateLimitResult{Allowed: false, Limit: 5, RetryAfter: 1500 * time.Millisecond}}
	ts := newTestServer(t, ratelimit.NewTrackLimiterWithBucket(bucket, 1, 5))

	rec := ts.do(http.MethodPost, "/api/events/track", `{"pixel_id":"px_1","session_id":"s","page_url":"u"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, []string{"attribution:track:pixel:px_1"}, bucket.keys)
}

func TestTrackRateLimitAllowedKeepsBody(t *testing.T) {
	bucket := &fakeBucket{result: &ratelimit.RateLimitResult{Allowed: true, Limit: 5, Remaining: 4}}
	ts := newTestServer(t, ratelimit.NewTrackLimiterWithBucket(bucket, 1, 5))

	rec := ts.do(http.MethodPost, "/api/events/track", `{"pixel_id":"px_1","session_id":"s","page_url":"u"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestTrackRateLimitBackendFailure(t *testing.T) {
	bucket := &fakeBucket{result: &ratelimit.RateLimitResult{}, err: errors.New("redis down")}
	ts := newTestServer(t, ratelimit.NewTrackLimiterWithBucket(bucket, 1, 5))

	rec := ts.do(http.MethodPost, "/api/events/track", `{"pixel_id":"px_1","session_id":"s","page_url":"u"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, "1", retryAfterSeconds(0))
	assert.Equal(t, "1", retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, "3", retryAfterSeconds(2100*time.Millisecond))
}

func TestStreamConversions(t *testing.T) {
	ts := newTestServer(t, nil)
	httpSrv := httptest.NewServer(ts.srv.Engine())
	defer httpSrv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpSrv.URL+"/api/events/stream/summer_sale", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "retry: 2000\n", line)

	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/events/track",
		`{"pixel_id":"px","session_id":"sess_1","utm_campaign":"summer_sale","page_url":"u"}`).Code)
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/events/conversion",
		`{"session_id":"sess_1","order_id":"ord_1","revenue":12.5}`).Code)

	var data string
	for data == "" {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}

	var event liveevents.LiveEvent
	require.NoError(t, json.Unmarshal([]byte(data), &event))
	assert.Equal(t, "ord_1", event.OrderID)
	assert.True(t, event.Attributed)
	assert.Equal(t, "summer_sale", event.UTMCampaign)
	assert.Equal(t, 12.5, event.Revenue)
}

func TestStreamWithoutHubIsUnavailable(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.srv.liveEvents = nil

	rec := ts.do(http.MethodGet, "/api/events/stream/summer_sale", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMapErrorStatuses(t *testing.T) {
	tests := []struct {
		err    error
		status int
		kind   string
	}{
		{trackingdomain.ErrInvalidRevenue, http.StatusBadRequest, "validation_error"},
		{ErrConflict, http.StatusConflict, "conflict"},
		{ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{liveevents.ErrHubUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
		{trackingdomain.ErrStorageFull, http.StatusInsufficientStorage, "storage_full"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		status, payload := mapError(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.kind, payload.Type, tt.err.Error())
	}

	kind, code := classifyErrorForLog(trackingdomain.ErrInvalidOrder)
	assert.Equal(t, "validation_error", kind)
	assert.Equal(t, "invalid_order_id", code)
}
