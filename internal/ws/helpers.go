package ws

import (
	"net/http"

	"github.com/google/uuid"

	"convohub/internal/auth"
)

func newConnID() string {
	return uuid.NewString()
}

// tokenFromRequest reads the bearer token from the Authorization header or,
// for browsers that cannot set headers on upgrade, the token query parameter.
func tokenFromRequest(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		return auth.BearerToken(header)
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, true
	}
	return "", false
}
