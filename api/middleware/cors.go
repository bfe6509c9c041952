package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

var defaultCORSOrigins = []string{"http://localhost:3000"}

// CORS returns middleware that applies the API's allowed origin policy.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = defaultCORSOrigins
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", IdempotencyKeyHeader, ActorTypeHeader, ActorIDHeader, "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", IdempotentReplayHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}).Handler
}
