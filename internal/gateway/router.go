// Package gateway implements the reverse proxy surface: route matching,
// token verification, rate limiting, and breaker-guarded forwarding.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"

	"healthpay-gateway/internal/biz"
	"healthpay-gateway/internal/conf"
	"healthpay-gateway/internal/metrics"
	pkglog "healthpay-gateway/pkg/log"
)

// Identity headers injected for upstream services. Any client-supplied
// values are discarded before forwarding.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserPhone = "X-User-Phone"
	HeaderUserRole  = "X-User-Role"
	HeaderRequestID = "X-Request-ID"
)

// hopHeaders are stripped before forwarding, per RFC 7230 section 6.1.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// errUpstream5xx marks a forwarded response whose status fed the breaker
// failure counter. The response has already been written to the client.
var errUpstream5xx = errors.New("upstream returned 5xx")

// Router is the proxying request pipeline. Each request walks the same
// fixed order: match, request id, verify, authorize, rate limit, forward
// through the service breaker.
type Router struct {
	rules    []*RouteRule
	tokens   *biz.TokenUseCase
	limiter  *biz.RateLimiterUseCase
	breakers *biz.BreakerManager
	client   *http.Client
	metrics  *metrics.Metrics
	log      *pkglog.LogHelper
}

// NewRouter compiles the route table and creates the proxy pipeline.
func NewRouter(
	c *conf.Gateway,
	tokens *biz.TokenUseCase,
	limiter *biz.RateLimiterUseCase,
	breakers *biz.BreakerManager,
	m *metrics.Metrics,
	logger log.Logger,
) (*Router, error) {
	rules, err := BuildRoutes(c)
	if err != nil {
		return nil, err
	}
	return &Router{
		rules:    rules,
		tokens:   tokens,
		limiter:  limiter,
		breakers: breakers,
		client: &http.Client{
			// Redirects from upstreams pass through to the client untouched.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		metrics: m,
		log:     pkglog.NewLogHelper(logger),
	}, nil
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rule := Match(rt.rules, r.URL.Path)
	if rule == nil {
		WriteNotFound(w, r.URL.Path)
		return
	}

	requestID := r.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ctx := pkglog.WithRequestID(r.Context(), requestID)
	w.Header().Set(HeaderRequestID, requestID)

	var claims *biz.Claims
	if rule.RequiresAuth {
		token, ok := bearerToken(r)
		if !ok {
			WriteError(w, http.StatusUnauthorized, CodeInvalidToken, "missing bearer token")
			return
		}
		var err error
		claims, err = rt.tokens.Verify(ctx, token)
		if err != nil {
			if errors.Is(err, biz.ErrTokenExpired) {
				WriteError(w, http.StatusUnauthorized, CodeTokenExpired, "token has expired")
			} else {
				WriteError(w, http.StatusUnauthorized, CodeInvalidToken, "token is invalid")
			}
			return
		}
		if err := rt.tokens.Authorize(claims, rule.Roles); err != nil {
			WriteError(w, http.StatusForbidden, CodeForbidden, "insufficient permissions")
			return
		}
	}

	if rule.LimitClass != "" {
		key := clientIP(r)
		if claims != nil {
			key = claims.UserID
		}
		decision := rt.limiter.Allow(ctx, rule.LimitClass, key)
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(int64(decision.Limit), 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(int64(decision.Remaining), 10))
		if !decision.Allowed {
			WriteRetryError(w, http.StatusTooManyRequests, CodeRateLimitExceeded,
				"rate limit exceeded", int64(decision.RetryAfter/time.Second))
			return
		}
	}

	rt.forward(ctx, w, r, rule, claims, requestID)
}

// forward proxies the request through the service breaker. 5xx responses
// pass through to the client but still count as breaker failures.
//
// Exactly one side may touch the ResponseWriter: the call goroutine can
// outlive Execute when the breaker abandons a timed-out call, so both the
// goroutine and the error path claim w through the same compare-and-swap.
func (rt *Router) forward(ctx context.Context, w http.ResponseWriter, r *http.Request, rule *RouteRule, claims *biz.Claims, requestID string) {
	var wrote atomic.Bool
	var status atomic.Int32
	start := time.Now()

	err := rt.breakers.Execute(ctx, rule.Service, func(callCtx context.Context) error {
		out, err := rt.buildUpstreamRequest(callCtx, r, rule, claims, requestID)
		if err != nil {
			return err
		}
		resp, err := rt.client.Do(out)
		if err != nil {
			return fmt.Errorf("upstream %s: %w", rule.Service, err)
		}
		defer resp.Body.Close()

		if !wrote.CompareAndSwap(false, true) {
			// The deadline path already answered the client.
			_, _ = io.Copy(io.Discard, resp.Body)
			return callCtx.Err()
		}
		status.Store(int32(resp.StatusCode))
		copyHeaders(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			return fmt.Errorf("copy upstream response: %w", err)
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return errUpstream5xx
		}
		return nil
	})

	elapsed := time.Since(start)
	rt.metrics.UpstreamDuration.WithLabelValues(rule.Service).Observe(elapsed.Seconds())

	if err != nil && wrote.CompareAndSwap(false, true) {
		switch {
		case errors.Is(err, biz.ErrBreakerOpen):
			status.Store(http.StatusServiceUnavailable)
			WriteRetryError(w, http.StatusServiceUnavailable, CodeServiceUnavailable,
				rule.Service+" service is temporarily unavailable", 30)
		case errors.Is(err, biz.ErrUpstreamTimeout):
			status.Store(http.StatusGatewayTimeout)
			WriteError(w, http.StatusGatewayTimeout, CodeBadGateway, rule.Service+" service timed out")
		case errors.Is(err, context.Canceled):
			// Client disconnected; nothing left to write.
			status.Store(499)
		default:
			status.Store(http.StatusBadGateway)
			WriteError(w, http.StatusBadGateway, CodeBadGateway, "failed to reach "+rule.Service+" service")
		}
	}

	code := int(status.Load())
	rt.metrics.RequestsTotal.WithLabelValues(rule.Service, strconv.Itoa(code)).Inc()
	rt.log.Request(r.Method, r.URL.Path, code, elapsed.Milliseconds(),
		"service", rule.Service, "request_id", requestID)
}

func (rt *Router) buildUpstreamRequest(ctx context.Context, r *http.Request, rule *RouteRule, claims *biz.Claims, requestID string) (*http.Request, error) {
	target := *rule.Upstream
	target.Path = singleJoin(rule.Upstream.Path, r.URL.Path)
	target.RawQuery = r.URL.RawQuery

	out, err := http.NewRequestWithContext(ctx, r.Method, target.String(), r.Body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	out.Header = r.Header.Clone()
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	out.Header.Del("Authorization")
	out.Header.Del(HeaderUserID)
	out.Header.Del(HeaderUserPhone)
	out.Header.Del(HeaderUserRole)

	out.Header.Set(HeaderRequestID, requestID)
	if claims != nil {
		out.Header.Set(HeaderUserID, claims.UserID)
		out.Header.Set(HeaderUserPhone, claims.Phone)
		out.Header.Set(HeaderUserRole, claims.Role)
	}
	if ip := clientIP(r); ip != "" {
		prior := r.Header.Get("X-Forwarded-For")
		if prior != "" {
			out.Header.Set("X-Forwarded-For", prior+", "+remoteHost(r))
		} else {
			out.Header.Set("X-Forwarded-For", remoteHost(r))
		}
	}
	out.ContentLength = r.ContentLength
	return out, nil
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if isHopHeader(k) {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func isHopHeader(name string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	return auth[len(prefix):], true
}

// clientIP returns the originating client address for rate limit keys.
// The first X-Forwarded-For entry wins when present.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func singleJoin(a, b string) string {
	switch {
	case a == "":
		return b
	case strings.HasSuffix(a, "/") && strings.HasPrefix(b, "/"):
		return a + b[1:]
	case !strings.HasSuffix(a, "/") && !strings.HasPrefix(b, "/"):
		return a + "/" + b
	default:
		return a + b
	}
}
