package auth

import "net/http"

type Client interface {
	// Auth authenticates the current user and returns the normalized identity.
	Auth(r *http.Request) (string, error)
}
