// Package auth authenticates the two kinds of caller the panel serves:
// users, carrying a session token issued elsewhere, and node daemons,
// carrying their node's credential pair.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"hearth/api/model"
)

// SessionCookie carries the session token for browser clients.
const SessionCookie = "hearth_session"

// SessionClaims is what the panel reads from a user's session token.
type SessionClaims struct {
	Username string `json:"username,omitempty"`
	Admin    bool   `json:"admin"`
	jwt.RegisteredClaims
}

type SessionConfig struct {
	Secret   string // HS256 shared secret
	JWKSURL  string // RS256 keys of an external identity provider
	Issuer   string
	Audience string
	// APIToken grants admin to automation such as hearthctl.
	APIToken string
}

type SessionValidator struct {
	cfg    SessionConfig
	secret []byte
	keys   *cachedJWKS
}

func NewSessionValidator(cfg SessionConfig) *SessionValidator {
	v := &SessionValidator{cfg: cfg}
	if cfg.Secret != "" {
		v.secret = []byte(cfg.Secret)
	}
	if cfg.JWKSURL != "" {
		v.keys = newCachedJWKS(cfg.JWKSURL)
	}
	return v
}

func (v *SessionValidator) keyFunc(token *jwt.Token) (any, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if v.secret == nil {
			return nil, errors.New("shared-secret sessions are disabled")
		}
		return v.secret, nil
	case *jwt.SigningMethodRSA:
		if v.keys == nil {
			return nil, errors.New("no identity provider keys configured")
		}
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("missing kid in token header")
		}
		return v.keys.getKey(kid)
	}
	return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
}

// Validate parses a session token and returns its claims.
func (v *SessionValidator) Validate(tokenString string) (*SessionClaims, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired(), jwt.WithValidMethods([]string{"HS256", "RS256"})}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	claims := &SessionClaims{}
	if _, err := jwt.ParseWithClaims(tokenString, claims, v.keyFunc, opts...); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// Sign issues an HS256 session for actor. The panel itself does not log
// users in; this serves tests and operator tooling.
func (v *SessionValidator) Sign(actor model.Actor, username string, ttl time.Duration) (string, error) {
	if v.secret == nil {
		return "", errors.New("no session secret configured")
	}
	now := time.Now()
	claims := &SessionClaims{
		Username: username,
		Admin:    actor.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID,
			Issuer:    v.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if v.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{v.cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// sessionToken finds the token in the Authorization header, the session
// cookie, or (for websocket upgrades, which cannot set headers from a
// browser) the token query parameter.
func sessionToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

// Middleware authenticates the caller and stores the actor in the request
// context.
func (v *SessionValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			deny(w, http.StatusUnauthorized, "missing session")
			return
		}
		if v.cfg.APIToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(v.cfg.APIToken)) == 1 {
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), model.Actor{UserID: APITokenUser, Admin: true})))
			return
		}
		claims, err := v.Validate(token)
		if err != nil {
			deny(w, http.StatusUnauthorized, "invalid session")
			return
		}
		actor := model.Actor{UserID: claims.Subject, Admin: claims.Admin}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// APITokenUser is the actor id recorded for API token callers.
const APITokenUser = "api"

// RequireAdmin rejects non-admin actors. It must run after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFrom(r.Context())
		if !ok || !actor.Admin {
			deny(w, http.StatusForbidden, "admin only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type ctxKey int

const (
	actorKey ctxKey = iota
	nodeKey
)

func WithActor(ctx context.Context, a model.Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

func ActorFrom(ctx context.Context) (model.Actor, bool) {
	a, ok := ctx.Value(actorKey).(model.Actor)
	return a, ok
}

func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
