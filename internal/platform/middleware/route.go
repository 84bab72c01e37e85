package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func chiRoutePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}
