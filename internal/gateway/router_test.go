package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthpay-gateway/internal/biz"
	"healthpay-gateway/internal/conf"
	"healthpay-gateway/internal/metrics"
)

const routerTestSecret = "0123456789abcdef0123456789abcdef-unit"

type noopAudit struct{}

func (noopAudit) LogBreakerOpened(context.Context, string, uint32)      {}
func (noopAudit) LogBreakerRecovered(context.Context, string)           {}
func (noopAudit) LogTokenIssued(context.Context, string, string)        {}
func (noopAudit) LogTokenRefreshed(context.Context, string)             {}
func (noopAudit) LogConnectionRejected(context.Context, string, string) {}

type memRepo struct {
	counts map[string]int32
}

func (m *memRepo) IncrementWindow(_ context.Context, key string, _ time.Duration) (int32, error) {
	if m.counts == nil {
		m.counts = map[string]int32{}
	}
	m.counts[key]++
	return m.counts[key], nil
}

func jwtConf(accessExpiry time.Duration) *conf.JWT {
	return &conf.JWT{
		Secret:        routerTestSecret,
		Issuer:        "healthpay-api",
		Audience:      "healthpay-clients",
		AccessExpiry:  accessExpiry,
		RefreshExpiry: time.Hour,
	}
}

// newTestRouter wires a router against the given upstream server.
func newTestRouter(t *testing.T, upstream string) (*Router, *biz.TokenUseCase) {
	t.Helper()
	logger := log.NewStdLogger(os.Stdout)
	m := metrics.New()

	tokens := biz.NewTokenUseCase(jwtConf(15*time.Minute), noopAudit{}, logger)
	limiter := biz.NewRateLimiterUseCase(&conf.RateLimit{Classes: map[string]*conf.LimitClass{
		"api":  {Limit: 3, Window: time.Minute},
		"open": {Limit: 100, Window: time.Minute},
	}}, &memRepo{}, m, logger)
	breakers := biz.NewBreakerManager(&conf.Breaker{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		ResetTimeout:     time.Minute,
		CallTimeout:      2 * time.Second,
	}, noopAudit{}, m, logger)

	router, err := NewRouter(&conf.Gateway{
		Upstreams: map[string]string{"wallet": upstream, "auth": upstream},
		Routes: []*conf.Route{
			{Prefix: "/v2/wallets", Service: "wallet", RequiresAuth: true, LimitClass: "api"},
			{Prefix: "/v2/wallets/admin", Service: "wallet", RequiresAuth: true, Roles: []string{"admin"}},
			{Prefix: "/v2/auth", Service: "auth", RequiresAuth: false, LimitClass: "open"},
		},
	}, tokens, limiter, breakers, m, logger)
	require.NoError(t, err)
	return router, tokens
}

func accessToken(t *testing.T, tokens *biz.TokenUseCase, role string) string {
	t.Helper()
	pair, err := tokens.IssuePair(context.Background(), "user-42", "+201234567890", role)
	require.NoError(t, err)
	return pair.AccessToken
}

func TestRouter_UnknownPath(t *testing.T) {
	router, _ := newTestRouter(t, "http://localhost:1")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v2/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), CodeNotFound)
}

func TestRouter_PublicRouteForwards(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"ok":true}`)
	}))
	defer upstream.Close()

	router, _ := newTestRouter(t, upstream.URL)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v2/auth/login", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRouter_MissingTokenRejected(t *testing.T) {
	router, _ := newTestRouter(t, "http://localhost:1")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v2/wallets/1", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), CodeInvalidToken)
}

func TestRouter_ExpiredTokenRejected(t *testing.T) {
	router, _ := newTestRouter(t, "http://localhost:1")

	// Same signing config but issues already-expired tokens.
	expired := biz.NewTokenUseCase(jwtConf(-time.Minute), noopAudit{}, log.NewStdLogger(os.Stdout))
	pair, err := expired.IssuePair(context.Background(), "user-42", "", "patient")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v2/wallets/1", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), CodeTokenExpired)
}

func TestRouter_RoleEnforced(t *testing.T) {
	router, tokens := newTestRouter(t, "http://localhost:1")

	req := httptest.NewRequest(http.MethodGet, "/v2/wallets/admin/stats", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken(t, tokens, "patient"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), CodeForbidden)
}

func TestRouter_IdentityHeadersInjected(t *testing.T) {
	var got http.Header
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	router, tokens := newTestRouter(t, upstream.URL)

	req := httptest.NewRequest(http.MethodGet, "/v2/wallets/1", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken(t, tokens, "patient"))
	// Spoofing attempts must be overwritten.
	req.Header.Set(HeaderUserID, "attacker")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-42", got.Get(HeaderUserID))
	assert.Equal(t, "+201234567890", got.Get(HeaderUserPhone))
	assert.Equal(t, "patient", got.Get(HeaderUserRole))
	assert.NotEmpty(t, got.Get(HeaderRequestID))
	assert.Empty(t, got.Get("Authorization"))
}

func TestRouter_RateLimitEnforced(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	router, tokens := newTestRouter(t, upstream.URL)
	token := accessToken(t, tokens, "patient")

	var rec *httptest.ResponseRecorder
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v2/wallets/1", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, req)
	}

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), CodeRateLimitExceeded)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRouter_Upstream5xxPassesThroughAndTripsBreaker(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer upstream.Close()

	router, _ := newTestRouter(t, upstream.URL)

	// Threshold is 2; both failures pass through to the client.
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v2/auth/login", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	}

	// Breaker is now open; requests short-circuit.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v2/auth/login", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), CodeServiceUnavailable)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

// Once the deadline path has answered, a late upstream completion must
// not touch the response.
func TestRouter_TimeoutResponseNotOverwritten(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"late":true}`)
	}))
	defer upstream.Close()
	defer close(release)

	logger := log.NewStdLogger(os.Stdout)
	m := metrics.New()
	tokens := biz.NewTokenUseCase(jwtConf(15*time.Minute), noopAudit{}, logger)
	limiter := biz.NewRateLimiterUseCase(&conf.RateLimit{Classes: map[string]*conf.LimitClass{}}, &memRepo{}, m, logger)
	breakers := biz.NewBreakerManager(&conf.Breaker{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		ResetTimeout:     time.Minute,
		CallTimeout:      50 * time.Millisecond,
	}, noopAudit{}, m, logger)
	router, err := NewRouter(&conf.Gateway{
		Upstreams: map[string]string{"auth": upstream.URL},
		Routes:    []*conf.Route{{Prefix: "/v2/auth", Service: "auth"}},
	}, tokens, limiter, breakers, m, logger)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v2/auth/login", nil))

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "timed out")

	// Let the abandoned call finish, then confirm the response is intact.
	release <- struct{}{}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, body, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "late")
}

func TestRouter_UpstreamDown(t *testing.T) {
	router, _ := newTestRouter(t, "http://127.0.0.1:1")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v2/auth/login", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), CodeBadGateway)
}
