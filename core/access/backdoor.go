package access

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/relabs-tech/awokado/core"
	"github.com/relabs-tech/awokado/core/logger"
)

// NewBackdoorMiddleware returns a middleware handler for a backdoor
//
// The key for the backdoors map is the bearer token passed with the request.
//
// Example: if you specify the backdoor
//
//	"please": core.Identity{UserID: 1, Roles: []string{"admin"}}
//
// then any request with an authorization bearer token consisting of the single
// magic word "please" is authenticated as user 1 with the admin role.
//
// With curl, use -H 'Authorization: Bearer please'. Install the backdoor before
// the jwt middleware, requests which already have an identity are passed on.
func NewBackdoorMiddleware(backdoors map[string]core.Identity) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if core.IdentityFromContext(r.Context()) != nil {
				h.ServeHTTP(w, r)
				return
			}
			tokenString, present := bearerToken(r)
			if identity, ok := backdoors[tokenString]; present && ok {
				identity.Token = tokenString
				ctx := identity.ContextWithIdentity(r.Context())
				ctx, rlog := logger.ContextWithLoggerIdentity(ctx, "backdoor")
				rlog.Debugln("request authenticated through backdoor")
				r = r.WithContext(ctx)
			}
			h.ServeHTTP(w, r)
		})
	}
}
