package xhttp

import "net/http"

// AllowOrigins rejects cross-origin requests whose Origin is not listed.
// With no origins every origin is allowed and answered with permissive CORS headers.
// Requests without Origin (non-browser clients) always pass.
func AllowOrigins(origins ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if len(allowed) > 0 {
					if _, ok := allowed[origin]; !ok {
						http.Error(w, "origin not allowed", http.StatusForbidden)
						return
					}
					w.Header().Set("Access-Control-Allow-Origin", origin)
				} else {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				}
				w.Header().Set("Access-Control-Allow-Methods", "OPTIONS, GET")
				w.Header().Set("Vary", "Origin, Access-Control-Request-Method")
				if r.Method == http.MethodOptions { // preflight request
					w.WriteHeader(http.StatusOK)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
