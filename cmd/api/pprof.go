package main

import (
	"crypto/subtle"
	"net/http"
	"net/http/pprof"
)

// debugHandler serves the runtime profiles under /debug/pprof/ behind HTTP
// basic auth. pprof.Index resolves named profiles such as heap and goroutine
// from the request path itself.
func debugHandler(user, pass string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	wantUser, wantPass := []byte(user), []byte(pass)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(u), wantUser) == 1
		passOK := subtle.ConstantTimeCompare([]byte(p), wantPass) == 1
		if !ok || !userOK || !passOK {
			w.Header().Set("WWW-Authenticate", `Basic realm="pricing-debug"`)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		mux.ServeHTTP(w, r)
	})
}
