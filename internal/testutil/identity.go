package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cory-johannsen/roomrelay/internal/identity"
)

// IdentityServer is a fake profile endpoint that answers bearer tokens from
// a fixed table.
type IdentityServer struct {
	*httptest.Server
	hits atomic.Int64
}

// NewIdentityServer starts a fake identity endpoint. Known tokens get
// {"user": profile}; anything else gets 401.
//
// Postcondition: The server is closed when the test ends.
func NewIdentityServer(t testing.TB, profiles map[string]identity.Profile) *IdentityServer {
	t.Helper()
	s := &IdentityServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		p, ok := profiles[token]
		if !ok {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]identity.Profile{"user": p})
	}))
	t.Cleanup(s.Close)
	return s
}

// Hits returns the number of requests served.
func (s *IdentityServer) Hits() int {
	return int(s.hits.Load())
}
