package backend

import (
	"net/http"

	"github.com/gorilla/handlers"
)

// CORS returns a handler wrapper which answers preflight requests and sets the CORS
// headers for the given origin hosts. Without origins every origin is allowed.
//
// Wrap the router with it, route middlewares do not see preflight requests:
//
//	http.ListenAndServe(":3000", backend.CORS(origins)(router))
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Accept", "Content-Type", "Content-Length", "Accept-Encoding", "Authorization", "X-Request-ID"}),
		handlers.ExposedHeaders([]string{"X-Request-ID"}),
		handlers.MaxAge(86400),
		handlers.AllowCredentials(),
	)
}
