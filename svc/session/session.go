// Package session verifies the login cookie issued by the account service.
package session

import (
	"context"
	"net/http"
	"time"

	"pobbin/pkg/domain"
	"pobbin/svc/util"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

const CookieName = "session"

var ErrInvalidSession = errors.New("invalid session")

type claims struct {
	jwt.RegisteredClaims
	Name string `json:"name"`
}

type Verifier struct {
	key []byte
	now func() time.Time
}

func NewVerifier(secret []byte) (*Verifier, error) {
	if len(secret) < 32 {
		return nil, errors.New("session secret must be at least 32 bytes")
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Verifier{key: key, now: time.Now}, nil
}

// Issue signs a session for user valid for ttl.
func (v *Verifier) Issue(user domain.User, ttl time.Duration) (string, error) {
	if _, err := domain.ParseUser(string(user)); err != nil {
		return "", err
	}
	now := v.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name: string(user),
	})
	s, err := tok.SignedString(v.key)
	return s, errors.Wrap(err, "sign session")
}

// Verify returns the user a token was issued for.
func (v *Verifier) Verify(token string) (domain.User, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return v.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return "", errors.Wrap(ErrInvalidSession, err.Error())
	}
	u, err := domain.ParseUser(c.Name)
	if err != nil {
		return "", errors.Wrap(ErrInvalidSession, err.Error())
	}
	return u, nil
}

type ctxKey struct{}

func WithUser(ctx context.Context, u domain.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// UserFrom returns the authenticated user, or "" for anonymous requests.
func UserFrom(ctx context.Context) domain.User {
	u, _ := ctx.Value(ctxKey{}).(domain.User)
	return u
}

// Middleware attaches the cookie's user to the request context. A missing
// or invalid cookie leaves the request anonymous.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(CookieName)
		if err != nil || c.Value == "" {
			next.ServeHTTP(w, r)
			return
		}
		u, err := v.Verify(c.Value)
		if err != nil {
			util.Ctx(r.Context()).Debug().Err(err).Msg("ignoring session cookie")
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
	})
}
