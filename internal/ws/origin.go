package ws

import (
	"net/http"
	"strings"
)

// OriginChecker validates the Origin header of an upgrade request against
// allowed. An empty list, or one containing "*", accepts every origin.
func OriginChecker(allowed []string) func(r *http.Request) bool {
	for _, o := range allowed {
		if o == Wildcard {
			allowed = nil
			break
		}
	}

	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			// No Origin header: same-origin request or non-browser client.
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(origin, o) {
				return true
			}
		}
		return false
	}
}
