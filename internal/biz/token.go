package biz

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"healthpay-gateway/internal/conf"
	pkglog "healthpay-gateway/pkg/log"
)

var (
	// ErrTokenInvalid covers malformed, tampered, or wrongly scoped tokens.
	ErrTokenInvalid = errors.New("token is invalid")

	// ErrTokenExpired is returned for structurally valid but expired tokens,
	// so clients know to refresh instead of re-authenticating.
	ErrTokenExpired = errors.New("token has expired")

	// ErrForbidden is returned when a verified subject lacks the role
	// required by the route.
	ErrForbidden = errors.New("insufficient role")
)

// Token type markers carried in the "type" claim.
const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

const (
	claimsCacheSize = 4096
	claimsCacheTTL  = 5 * time.Minute
)

// Claims is the JWT payload issued to HealthPay clients.
type Claims struct {
	UserID string `json:"userId"`
	Phone  string `json:"phone"`
	Role   string `json:"role"`
	Type   string `json:"type"`
	jwt.RegisteredClaims
}

// TokenPair bundles an access token with its refresh token.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// TokenUseCase signs and verifies HS256 tokens with pinned issuer and
// audience. Verified claims are cached briefly to keep repeated proxy
// hops off the crypto path.
type TokenUseCase struct {
	cfg   *conf.JWT
	cache *expirable.LRU[string, *Claims]
	now   func() time.Time
	audit AuditLogger
	log   *pkglog.LogHelper
}

// NewTokenUseCase creates a token use case.
func NewTokenUseCase(c *conf.JWT, audit AuditLogger, logger log.Logger) *TokenUseCase {
	return &TokenUseCase{
		cfg:   c,
		cache: expirable.NewLRU[string, *Claims](claimsCacheSize, nil, claimsCacheTTL),
		now:   time.Now,
		audit: audit,
		log:   pkglog.NewLogHelper(logger),
	}
}

func (uc *TokenUseCase) sign(userID, phone, role, tokenType string, ttl time.Duration) (string, error) {
	now := uc.now()
	claims := &Claims{
		UserID: userID,
		Phone:  phone,
		Role:   role,
		Type:   tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    uc.cfg.Issuer,
			Audience:  jwt.ClaimStrings{uc.cfg.Audience},
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(uc.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// IssuePair creates an access/refresh token pair for the given subject.
func (uc *TokenUseCase) IssuePair(ctx context.Context, userID, phone, role string) (*TokenPair, error) {
	access, err := uc.sign(userID, phone, role, tokenTypeAccess, uc.cfg.AccessExpiry)
	if err != nil {
		return nil, err
	}
	refresh, err := uc.sign(userID, phone, role, tokenTypeRefresh, uc.cfg.RefreshExpiry)
	if err != nil {
		return nil, err
	}
	uc.audit.LogTokenIssued(ctx, userID, role)
	uc.log.Auth("token pair issued", "user_id", userID, "role", role)
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(uc.cfg.AccessExpiry / time.Second),
	}, nil
}

func (uc *TokenUseCase) parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			return []byte(uc.cfg.Secret), nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(uc.cfg.Issuer),
		jwt.WithAudience(uc.cfg.Audience),
		jwt.WithTimeFunc(uc.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Verify validates an access token and returns its claims. Refresh tokens
// presented as access tokens are rejected as invalid.
func (uc *TokenUseCase) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	if cached, ok := uc.cache.Get(tokenString); ok {
		if uc.now().After(cached.ExpiresAt.Time) {
			uc.cache.Remove(tokenString)
			return nil, ErrTokenExpired
		}
		return cached, nil
	}

	claims, err := uc.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type == tokenTypeRefresh {
		return nil, ErrTokenInvalid
	}
	uc.cache.Add(tokenString, claims)
	return claims, nil
}

// Refresh validates a refresh token and issues a fresh pair for its subject.
func (uc *TokenUseCase) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := uc.parse(refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.Type != tokenTypeRefresh {
		return nil, ErrTokenInvalid
	}
	access, err := uc.sign(claims.UserID, claims.Phone, claims.Role, tokenTypeAccess, uc.cfg.AccessExpiry)
	if err != nil {
		return nil, err
	}
	refresh, err := uc.sign(claims.UserID, claims.Phone, claims.Role, tokenTypeRefresh, uc.cfg.RefreshExpiry)
	if err != nil {
		return nil, err
	}
	uc.audit.LogTokenRefreshed(ctx, claims.UserID)
	uc.log.Auth("token refreshed", "user_id", claims.UserID)
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(uc.cfg.AccessExpiry / time.Second),
	}, nil
}

// Authorize checks that claims carry one of the allowed roles. An empty
// allow list permits any verified subject.
func (uc *TokenUseCase) Authorize(claims *Claims, roles []string) error {
	if len(roles) == 0 {
		return nil
	}
	if slices.Contains(roles, claims.Role) {
		return nil
	}
	return ErrForbidden
}
