package main

import (
	"net/http"

	"github.com/rs/cors"
)

// corsMiddleware wraps an http.Handler and sets CORS headers on ALL responses,
// including error responses, so the web client served from another port can
// read API errors.
func corsMiddleware(origins []string, next http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(next)
}
