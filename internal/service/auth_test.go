package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthpay-gateway/internal/biz"
	"healthpay-gateway/internal/conf"
)

type noopAudit struct{}

func (noopAudit) LogBreakerOpened(context.Context, string, uint32)      {}
func (noopAudit) LogBreakerRecovered(context.Context, string)           {}
func (noopAudit) LogTokenIssued(context.Context, string, string)        {}
func (noopAudit) LogTokenRefreshed(context.Context, string)             {}
func (noopAudit) LogConnectionRejected(context.Context, string, string) {}

func newTestAuthService(t *testing.T) (*AuthService, *biz.TokenUseCase) {
	t.Helper()
	logger := log.NewStdLogger(os.Stdout)
	tokens := biz.NewTokenUseCase(&conf.JWT{
		Secret:        "f3a1c0d9b8e74a65913d2c7f0a4b8e61",
		Issuer:        "healthpay-api",
		Audience:      "healthpay-clients",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 168 * time.Hour,
	}, noopAudit{}, logger)
	return NewAuthService(tokens, logger), tokens
}

func TestHandleIssue(t *testing.T) {
	svc, _ := newTestAuthService(t)

	body := strings.NewReader(`{"userId":"user-42","phone":"+201234567890","role":"patient"}`)
	req := httptest.NewRequest(http.MethodPost, "/internal/v2/tokens", body)
	rec := httptest.NewRecorder()
	svc.HandleIssue(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "accessToken")
	assert.Contains(t, rec.Body.String(), "refreshToken")
}

func TestHandleIssue_ValidatesInput(t *testing.T) {
	svc, _ := newTestAuthService(t)

	req := httptest.NewRequest(http.MethodPost, "/internal/v2/tokens", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	svc.HandleIssue(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/internal/v2/tokens", nil)
	rec = httptest.NewRecorder()
	svc.HandleIssue(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleRefresh(t *testing.T) {
	svc, tokens := newTestAuthService(t)

	pair, err := tokens.IssuePair(context.Background(), "user-42", "", "patient")
	require.NoError(t, err)

	body := strings.NewReader(`{"refreshToken":"` + pair.RefreshToken + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/v2/auth/refresh", body)
	rec := httptest.NewRecorder()
	svc.HandleRefresh(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "accessToken")
}

func TestHandleRefresh_RejectsAccessToken(t *testing.T) {
	svc, tokens := newTestAuthService(t)

	pair, err := tokens.IssuePair(context.Background(), "user-42", "", "patient")
	require.NoError(t, err)

	body := strings.NewReader(`{"refreshToken":"` + pair.AccessToken + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/v2/auth/refresh", body)
	rec := httptest.NewRecorder()
	svc.HandleRefresh(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_TOKEN")
}

func TestHandleRefresh_RejectsGarbage(t *testing.T) {
	svc, _ := newTestAuthService(t)

	req := httptest.NewRequest(http.MethodPost, "/v2/auth/refresh", strings.NewReader(`{"refreshToken":"nope"}`))
	rec := httptest.NewRecorder()
	svc.HandleRefresh(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v2/auth/refresh", strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	svc.HandleRefresh(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
