package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"latexbot-api/internal/application/pipeline"
	"latexbot-api/internal/application/quota"
	"latexbot-api/internal/config"
	"latexbot-api/internal/domain/repository"
	"latexbot-api/internal/interfaces/http/handler"
	"latexbot-api/internal/interfaces/http/dto"
	apperrors "latexbot-api/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRunner struct {
	calls  int
	last   pipeline.Request
	result *pipeline.Result
	err    error
}

func (f *fakeRunner) Run(_ context.Context, req pipeline.Request) (*pipeline.Result, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &pipeline.Result{State: pipeline.StateCommitted, Recorded: true}, nil
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type fakeLimiter struct {
	allowed bool
	err     error
}

func (f *fakeLimiter) Allow(context.Context, string, int64, time.Duration) (bool, int64, error) {
	return f.allowed, 0, f.err
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.App.Name = "latexbot-api"
	cfg.App.Env = "test"
	cfg.Server.HTTP.Path = "/latexbot"
	cfg.Server.HTTP.MaxBodyBytes = 256
	cfg.Observability.Metrics.Enabled = true
	cfg.Observability.Metrics.Path = "/metrics"
	return cfg
}

func newTestRouter(cfg *config.Config, runner handler.Runner, checks map[string]repository.Pinger, limiter *fakeLimiter) *gin.Engine {
	handlers := RouterHandlers{
		LatexBot: handler.NewLatexBotHandler(runner, cfg.Server.HTTP.MaxBodyBytes),
		Health:   handler.NewHealthHandler("test", checks),
	}
	if limiter == nil {
		return New(cfg, handlers, nil).Engine()
	}
	return New(cfg, handlers, limiter).Engine()
}

func do(engine *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var resp dto.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestSubmitSuccess(t *testing.T) {
	runner := &fakeRunner{}
	engine := newTestRouter(testConfig(), runner, nil, nil)

	w := do(engine, http.MethodPost, "/latexbot", `{"email":"a@example.com","latexCode":"x^2"}`, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "Email sent successfully") {
		t.Fatalf("body = %s", w.Body.String())
	}
	if runner.last.Email != "a@example.com" || runner.last.LatexCode != "x^2" {
		t.Fatalf("runner got %+v", runner.last)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}
}

func TestSubmitDeliveredUnrecordedStillSucceeds(t *testing.T) {
	runner := &fakeRunner{result: &pipeline.Result{State: pipeline.StateDelivered}}
	engine := newTestRouter(testConfig(), runner, nil, nil)

	w := do(engine, http.MethodPost, "/latexbot", `{"email":"a@example.com","latexCode":"x"}`, nil)
	if w.Code != http.StatusOK || w.Header().Get("X-Quota-Recorded") != "false" {
		t.Fatalf("status = %d headers = %v", w.Code, w.Header())
	}
}

func TestSubmitBadBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed json", `{"email":`, "Invalid JSON body"},
		{"empty body", ``, "Invalid JSON body"},
		{"oversize", `{"email":"a@example.com","latexCode":"` + strings.Repeat("x", 512) + `"}`, "Request body too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			engine := newTestRouter(testConfig(), runner, nil, nil)

			w := do(engine, http.MethodPost, "/latexbot", tt.body, nil)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", w.Code)
			}
			if got := decodeError(t, w).Error; got != tt.want {
				t.Fatalf("error = %q, want %q", got, tt.want)
			}
			if runner.calls != 0 {
				t.Fatal("runner invoked for bad body")
			}
		})
	}
}

func TestSubmitErrorMapping(t *testing.T) {
	exceeded := &quota.ExceededError{Day: "2024-03-10", Count: 150, Limit: 150, ResetIn: 90*time.Minute + 500*time.Millisecond}

	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantError   string
		wantDetails string
	}{
		{
			name:       "input error",
			err:        apperrors.New(apperrors.CodeInvalidParam, "Missing email or LaTeX code"),
			wantStatus: http.StatusBadRequest,
			wantError:  "Missing email or LaTeX code",
		},
		{
			name:       "quota exceeded",
			err:        apperrors.Wrap(exceeded, apperrors.CodeQuotaExceeded, exceeded.Error()),
			wantStatus: http.StatusTooManyRequests,
			wantError:  "Daily limit of 150 requests reached, try again tomorrow",
		},
		{
			name:        "conversion failure",
			err:         apperrors.New(apperrors.CodeConversionFailed, "Failed to generate PDF").WithDetail("! Missing $ inserted."),
			wantStatus:  http.StatusInternalServerError,
			wantError:   "Failed to generate PDF",
			wantDetails: "! Missing $ inserted.",
		},
		{
			name:       "unexpected",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "Something went wrong",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestRouter(testConfig(), &fakeRunner{err: tt.err}, nil, nil)

			w := do(engine, http.MethodPost, "/latexbot", `{"email":"a@example.com","latexCode":"x"}`, nil)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d", w.Code)
			}
			resp := decodeError(t, w)
			if resp.Error != tt.wantError || resp.Details != tt.wantDetails {
				t.Fatalf("resp = %+v", resp)
			}
		})
	}
}

func TestSubmitQuotaHeaders(t *testing.T) {
	exceeded := &quota.ExceededError{Limit: 150, ResetIn: 90*time.Minute + 500*time.Millisecond}
	err := apperrors.Wrap(exceeded, apperrors.CodeQuotaExceeded, exceeded.Error())
	engine := newTestRouter(testConfig(), &fakeRunner{err: err}, nil, nil)

	w := do(engine, http.MethodPost, "/latexbot", `{"email":"a@example.com","latexCode":"x"}`, nil)

	want := map[string]string{
		"Retry-After":         "5401",
		"RateLimit-Limit":     "150",
		"RateLimit-Remaining": "0",
		"RateLimit-Reset":     "5401",
	}
	for k, v := range want {
		if got := w.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestEndpointMethods(t *testing.T) {
	engine := newTestRouter(testConfig(), &fakeRunner{}, nil, nil)

	w := do(engine, http.MethodOptions, "/latexbot", "", nil)
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Fatalf("options: %d %q", w.Code, w.Body.String())
	}

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		w := do(engine, method, "/latexbot", "", nil)
		if w.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s: status = %d", method, w.Code)
		}
		if got := decodeError(t, w).Error; got != "Only POST allowed" {
			t.Fatalf("%s: error = %q", method, got)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	engine := newTestRouter(testConfig(), &fakeRunner{}, nil, nil)

	w := do(engine, http.MethodOptions, "/latexbot", "", map[string]string{
		"Origin":                        "https://example.org",
		"Access-Control-Request-Method": http.MethodPost,
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("headers = %v", w.Header())
	}
}

func TestReadiness(t *testing.T) {
	healthy := pingerFunc(func(context.Context) error { return nil })
	down := pingerFunc(func(context.Context) error { return errors.New("connection refused") })

	engine := newTestRouter(testConfig(), &fakeRunner{}, map[string]repository.Pinger{"ledger": healthy}, nil)
	if w := do(engine, http.MethodGet, "/ready", "", nil); w.Code != http.StatusOK {
		t.Fatalf("ready: %d %s", w.Code, w.Body.String())
	}

	engine = newTestRouter(testConfig(), &fakeRunner{}, map[string]repository.Pinger{"ledger": healthy, "redis": down}, nil)
	w := do(engine, http.MethodGet, "/ready", "", nil)
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), "connection refused") {
		t.Fatalf("ready: %d %s", w.Code, w.Body.String())
	}

	if w := do(engine, http.MethodGet, "/live", "", nil); w.Code != http.StatusOK {
		t.Fatalf("live: %d", w.Code)
	}
}

func TestClientRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RateLimit.Enabled = true
	cfg.Security.RateLimit.Limit = 1
	cfg.Security.RateLimit.Window = time.Minute

	runner := &fakeRunner{}
	engine := newTestRouter(cfg, runner, nil, &fakeLimiter{allowed: false})
	w := do(engine, http.MethodPost, "/latexbot", `{"email":"a@example.com","latexCode":"x"}`, nil)
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") != "60" {
		t.Fatalf("status = %d headers = %v", w.Code, w.Header())
	}
	if runner.calls != 0 {
		t.Fatal("runner invoked despite rate limit")
	}

	engine = newTestRouter(cfg, runner, nil, &fakeLimiter{err: errors.New("redis down")})
	if w := do(engine, http.MethodPost, "/latexbot", `{"email":"a@example.com","latexCode":"x"}`, nil); w.Code != http.StatusOK {
		t.Fatalf("fail-open status = %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	engine := newTestRouter(testConfig(), &fakeRunner{}, nil, nil)
	do(engine, http.MethodPost, "/latexbot", `{"email":"a@example.com","latexCode":"x"}`, nil)

	w := do(engine, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "latexbot_http_requests_total") {
		t.Fatalf("metrics: %d", w.Code)
	}
}
