package access

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/awokado/core"
	"github.com/relabs-tech/awokado/core/apierror"
	"github.com/relabs-tech/awokado/core/logger"
)

// JwtMiddlewareBuilder is a helper builder for JwtMiddleware
type JwtMiddlewareBuilder struct {
	// Secret is the shared HS256 secret
	Secret string
	// Debug adds the token error to the response
	Debug bool
}

// Claims are the claims of an awokado bearer token
type Claims struct {
	UserID int      `json:"user_id"`
	Roles  []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// NewJwtMiddleware returns a middleware handler to validate
// HS256 signed JWT bearer tokens.
//
// Tokens are accepted as "Authorization: Bearer" header. A valid token puts
// a core.Identity with the token's user id and roles into the request
// context. Requests without token stay anonymous.
//
// This is a final handler with regards to the bearer token. It will return
// http.StatusUnauthorized when a token is available but invalid.
func NewJwtMiddleware(jmb *JwtMiddlewareBuilder) mux.MiddlewareFunc {
	if len(jmb.Secret) == 0 {
		panic("jwt middleware requires a secret")
	}
	secret := []byte(jmb.Secret)
	cache := core.NewIdentityCache()

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	}

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if core.IdentityFromContext(r.Context()) != nil { // already authenticated?
				h.ServeHTTP(w, r)
				return
			}
			tokenString, present := bearerToken(r)
			if !present {
				h.ServeHTTP(w, r) // no token no identity, moving on
				return
			}
			rlog := logger.FromContext(r.Context())

			identity := cache.Read(tokenString)
			if identity == nil || identityExpired(identity) {
				claims := Claims{}
				token, err := jwt.ParseWithClaims(tokenString, &claims, keyFunc)
				if err == nil && !token.Valid {
					err = errors.New("invalid token")
				}
				if err != nil {
					rlog.WithError(err).Debugln("rejected bearer token")
					detail := ""
					if jmb.Debug {
						detail = err.Error()
					}
					apierror.Write(w, apierror.AuthError(detail), jmb.Debug)
					return
				}
				identity = &core.Identity{UserID: claims.UserID, Token: tokenString, Roles: claims.Roles}
				if claims.ExpiresAt != nil {
					identity.ExpiresAt = claims.ExpiresAt.Time
				}
				cache.Write(tokenString, identity)
			}

			ctx := identity.ContextWithIdentity(r.Context())
			ctx, _ = logger.ContextWithLoggerIdentity(ctx, "user:"+strconv.Itoa(identity.UserID))
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func identityExpired(identity *core.Identity) bool {
	return !identity.ExpiresAt.IsZero() && time.Now().After(identity.ExpiresAt)
}

// bearerToken returns the token of the "Authorization: Bearer" header
func bearerToken(r *http.Request) (string, bool) {
	bearer := r.Header.Get("Authorization")
	if len(bearer) == 0 || bearer == "null" {
		return "", false
	}
	if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
		return bearer[7:], true
	}
	return bearer, true
}

// SignToken issues a HS256 bearer token for the identity. A positive ttl sets the
// expiry of the token.
func SignToken(secret string, identity core.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: identity.UserID,
		Roles:  identity.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
			Subject:  strconv.Itoa(identity.UserID),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
