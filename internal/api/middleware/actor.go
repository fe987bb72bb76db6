package middleware

import (
	"net/http"
	"strings"

	"github.com/reqtrace/engine/internal/services"
)

// ActorHeader names the caller recorded in created_by, updated_by and the
// change log.
const ActorHeader = "X-Actor"

const maxActorLen = 255

// Actor copies the X-Actor header into the request context.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if len(actor) > maxActorLen {
			actor = actor[:maxActorLen]
		}
		if actor != "" {
			r = r.WithContext(services.WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}
