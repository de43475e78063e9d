package middleware

import (
	"net/http"

	"github.com/mmeshcher/photo-credits/internal/session"
)

// SessionGate пропускает запрос только с действующим артефактом оплаты и кладёт его в контекст.
func SessionGate(gate *session.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a, ok := gate.FromRequest(r)
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"payment verification required"}`))
				return
			}

			next.ServeHTTP(w, r.WithContext(session.WithArtifact(r.Context(), a)))
		})
	}
}
