package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"premium-entitlement/internal/config"
	"premium-entitlement/internal/domain"
	"premium-entitlement/internal/infra/logging"
)

const (
	RoleClient = "client"
	RoleAdmin  = "admin"
)

// Claims carry the caller identity. Subject is the user id for clients and
// the operator name for admins.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator reads its secrets from the current config snapshot, so a
// reload rotates them without a restart.
type Authenticator struct {
	cfg *config.Holder
	now func() time.Time
}

func NewAuthenticator(cfg *config.Holder) *Authenticator {
	return &Authenticator{cfg: cfg, now: time.Now}
}

func (a *Authenticator) secretFor(role string) string {
	auth := a.cfg.Current().Auth
	if role == RoleAdmin {
		return auth.AdminJWTSecret
	}
	return auth.ClientJWTSecret
}

// Mint signs a token for subject. Used by operator tooling and tests.
func (a *Authenticator) Mint(role, subject string, ttl time.Duration) (string, error) {
	secret := a.secretFor(role)
	if secret == "" {
		return "", fmt.Errorf("%w: no %s signing secret", domain.ErrConfiguration, role)
	}
	if ttl <= 0 {
		ttl = a.cfg.Current().Auth.TokenTTL
	}
	now := a.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   subject,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func (a *Authenticator) parse(tok, role string) (*Claims, error) {
	secret := a.secretFor(role)
	if secret == "" {
		return nil, fmt.Errorf("%w: no %s signing secret", domain.ErrConfiguration, role)
	}
	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil || !tkn.Valid {
		return nil, fmt.Errorf("%w: invalid token", domain.ErrAuthentication)
	}
	if claims.Role != role || claims.Subject == "" {
		return nil, fmt.Errorf("%w: token not valid for %s", domain.ErrAuthentication, role)
	}
	return claims, nil
}

func bearerToken(r *http.Request) (string, error) {
	hdr := r.Header.Get("Authorization")
	if hdr == "" {
		return "", fmt.Errorf("%w: missing token", domain.ErrAuthentication)
	}
	if len(hdr) < 7 || !strings.EqualFold(hdr[:7], "bearer ") {
		return "", fmt.Errorf("%w: malformed authorization header", domain.ErrAuthentication)
	}
	tok := strings.TrimSpace(hdr[7:])
	if tok == "" {
		return "", fmt.Errorf("%w: missing token", domain.ErrAuthentication)
	}
	return tok, nil
}

type principalKey struct{}

func withPrincipal(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, principalKey{}, subject)
}

// Principal returns the authenticated subject of the request.
func Principal(ctx context.Context) string {
	s, _ := ctx.Value(principalKey{}).(string)
	return s
}

// Client admits end users. The token subject is the user id every client
// route acts on.
func (a *Authenticator) Client(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, err := bearerToken(r)
		if err != nil {
			writeError(w, err)
			return
		}
		claims, err := a.parse(tok, RoleClient)
		if err != nil {
			writeError(w, err)
			return
		}
		noteUser(w, claims.Subject)
		ctx := withPrincipal(logging.WithUserID(r.Context(), claims.Subject), claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Admin admits operators holding an admin token or the static admin API key.
func (a *Authenticator) Admin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, err := bearerToken(r)
		if err != nil {
			writeError(w, err)
			return
		}
		actor := ""
		if key := a.cfg.Current().Auth.AdminAPIKey; key != "" &&
			subtle.ConstantTimeCompare([]byte(tok), []byte(key)) == 1 {
			actor = "api-key"
		} else {
			claims, err := a.parse(tok, RoleAdmin)
			if err != nil {
				if errors.Is(err, domain.ErrConfiguration) && a.cfg.Current().Auth.AdminAPIKey != "" {
					err = fmt.Errorf("%w: invalid admin credentials", domain.ErrAuthentication)
				}
				writeError(w, err)
				return
			}
			actor = claims.Subject
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), actor)))
	})
}
