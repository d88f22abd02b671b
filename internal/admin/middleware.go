// Package admin implements the Admin HTTP surface (spec.md §6): thin JSON
// endpoints for UI inspection and operator control over retention, pinning,
// export/import, and session reset. It is a separate concern from the
// ingest WebSocket endpoint and the stdio Tool Runtime, grounded on the
// teacher's cmd/dev-console HTTP route layer (server_routes.go,
// server_middleware.go, handler.go's jsonResponse).
package admin

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
)

// localOnly rejects any request whose Host header isn't a localhost
// variant, mirroring the teacher's corsMiddleware DNS-rebinding guard
// (server_middleware.go) — the admin surface is never meant to be exposed
// beyond the machine it runs on.
func localOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !isLocalHost(r.Host) {
			http.Error(w, `{"error":"forbidden: non-local host"}`, http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func isLocalHost(host string) bool {
	hostname := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		hostname = h
	}
	hostname = strings.TrimPrefix(hostname, "[")
	hostname = strings.TrimSuffix(hostname, "]")
	return hostname == "localhost" || hostname == "127.0.0.1" || hostname == "::1" || hostname == ""
}

// jsonResponse writes data as a JSON body with the given status code,
// matching the teacher's handler.go jsonResponse helper.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// decodeJSONBody decodes a JSON request body into dest, bounding its size
// so a malformed or hostile client can't exhaust memory.
func decodeJSONBody(r *http.Request, dest any) error {
	defer r.Body.Close()
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dest)
}
