package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/cryptox"
	"github.com/dmitrijs2005/medkeeper/internal/obs"
	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultAccessTTL  = 24 * time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Claims carried by a token. Refresh tokens carry only the registered
// claims and Type.
type Claims struct {
	jwt.RegisteredClaims
	Role        Role         `json:"role,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`
	Type        string       `json:"type"`
}

// TokenPair is what a successful login, registration or refresh returns.
// ExpiresIn is the access token lifetime in seconds.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// UserLookup resolves the current state of an account by id.
type UserLookup interface {
	LookupUser(ctx context.Context, id string) (*User, error)
}

type UserLookupFunc func(ctx context.Context, id string) (*User, error)

func (f UserLookupFunc) LookupUser(ctx context.Context, id string) (*User, error) {
	return f(ctx, id)
}

// Authority signs and verifies HS256 tokens bound to one issuer/audience.
type Authority struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewAuthority(secret []byte, accessTTL, refreshTTL time.Duration) (*Authority, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty signing secret", common.ErrorValidation)
	}
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}
	return &Authority{secret: secret, accessTTL: accessTTL, refreshTTL: refreshTTL, now: time.Now}, nil
}

func (a *Authority) registered(subject string, ttl time.Duration, prefix string) (jwt.RegisteredClaims, error) {
	id, err := cryptox.GenerateSecureID(prefix)
	if err != nil {
		return jwt.RegisteredClaims{}, err
	}
	now := a.now()
	return jwt.RegisteredClaims{
		ID:        id,
		Subject:   subject,
		Issuer:    common.TokenIssuer,
		Audience:  jwt.ClaimStrings{common.TokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}, nil
}

func (a *Authority) sign(c Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(a.secret)
}

// IssueTokens signs an access token with the user's effective permissions
// and a refresh token carrying only the subject.
func (a *Authority) IssueTokens(u *User) (*TokenPair, error) {
	if u == nil || u.ID == "" || !u.Role.Valid() {
		return nil, fmt.Errorf("%w: user without id or role", common.ErrorValidation)
	}

	ac, err := a.registered(u.ID, a.accessTTL, "at")
	if err != nil {
		return nil, err
	}
	access, err := a.sign(Claims{
		RegisteredClaims: ac,
		Role:             u.Role,
		Permissions:      EffectivePermissions(u.Role, u.CustomPermissions),
		Type:             tokenTypeAccess,
	})
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	rc, err := a.registered(u.ID, a.refreshTTL, "rt")
	if err != nil {
		return nil, err
	}
	refresh, err := a.sign(Claims{RegisteredClaims: rc, Type: tokenTypeRefresh})
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(a.accessTTL / time.Second)}, nil
}

func (a *Authority) parse(token, wantType string) (*Claims, error) {
	claims := &Claims{}
	t, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(common.TokenIssuer),
		jwt.WithAudience(common.TokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !t.Valid {
		return nil, common.ErrTokenInvalid
	}
	if claims.Type != wantType || claims.Subject == "" {
		return nil, common.ErrTokenInvalid
	}
	return claims, nil
}

// VerifyToken returns the claims of a valid access token and nil for any
// other input. Callers cannot tell why a token was rejected.
func (a *Authority) VerifyToken(token string) *Claims {
	c, err := a.parse(token, tokenTypeAccess)
	if err != nil || !c.Role.Valid() {
		obs.TokenVerifications.WithLabelValues("invalid").Inc()
		return nil
	}
	obs.TokenVerifications.WithLabelValues("valid").Inc()
	return c
}

// Refresh exchanges a refresh token for a new pair. Permissions are derived
// from the user's current role, never from the old token.
func (a *Authority) Refresh(ctx context.Context, refreshToken string, lookup UserLookup) (*TokenPair, error) {
	c, err := a.parse(refreshToken, tokenTypeRefresh)
	if err != nil {
		return nil, err
	}

	u, err := lookup.LookupUser(ctx, c.Subject)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrTokenInvalid
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if u == nil {
		return nil, common.ErrTokenInvalid
	}
	if !u.Active {
		return nil, common.ErrUserInactive
	}
	return a.IssueTokens(u)
}

// RefreshAccessToken is Refresh with every failure collapsed to nil.
func (a *Authority) RefreshAccessToken(ctx context.Context, refreshToken string, lookup UserLookup) *TokenPair {
	p, err := a.Refresh(ctx, refreshToken, lookup)
	if err != nil {
		return nil
	}
	return p
}
