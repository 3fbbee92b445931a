// Package web serves the single-page frontend: the built bundle in
// production, a reverse proxy to the frontend dev server in development.
package web

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// SPA returns a handler serving static files from distDir with an
// index.html fallback for client-side routes.
func SPA(distDir string) http.Handler {
	fileServer := http.FileServer(http.Dir(distDir))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(distDir, filepath.Clean("/"+r.URL.Path))

		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			fileServer.ServeHTTP(w, r)
			return
		}

		// Unknown paths are client-side routes.
		http.ServeFile(w, r, filepath.Join(distDir, "index.html"))
	})
}

// DevProxy returns a handler that forwards requests to the frontend dev
// server, preserving websocket upgrades for hot reload.
func DevProxy(target string) (http.Handler, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}

	proxy := httputil.NewSingleHostReverseProxy(u)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// API and auth routes never reach the proxy; the router
		// matches them first.
		if strings.HasPrefix(r.URL.Path, "/api/") || strings.HasPrefix(r.URL.Path, "/auth/") {
			http.NotFound(w, r)
			return
		}
		proxy.ServeHTTP(w, r)
	}), nil
}
