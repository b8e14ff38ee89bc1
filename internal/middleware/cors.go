package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORSMiddleware allows browser clients from origins to call the API with a
// bearer token.
func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         600,
	})
	return c.Handler
}
