package http

import (
	"errors"
	"net/http"
	"strings"
)

// DefaultPlatformHeader names the client platform set by the auth proxy.
const DefaultPlatformHeader = "X-Tutor-Platform"

// DefaultPlatform is used when the proxy sends no platform.
const DefaultPlatform = "web"

// ErrUnauthenticated means the request carries no user identity.
var ErrUnauthenticated = errors.New("authentication required")

// Identity is the caller as established by the auth layer in front of us.
type Identity struct {
	UserID   string
	Platform string
}

// Identifier resolves the caller of a request.
type Identifier interface {
	Identify(r *http.Request) (Identity, error)
}

// HeaderIdentifier trusts identity headers injected by a reverse proxy that
// has already authenticated the user.
type HeaderIdentifier struct {
	UserHeader     string
	PlatformHeader string
	// Fallback is used as the user when the header is absent. Only set it
	// in development mode, when no proxy is in front of the server.
	Fallback string
}

// Identify implements Identifier.
func (h HeaderIdentifier) Identify(r *http.Request) (Identity, error) {
	user := strings.TrimSpace(r.Header.Get(h.UserHeader))
	if user == "" {
		user = h.Fallback
	}
	if user == "" {
		return Identity{}, ErrUnauthenticated
	}
	header := h.PlatformHeader
	if header == "" {
		header = DefaultPlatformHeader
	}
	platform := strings.ToLower(strings.TrimSpace(r.Header.Get(header)))
	if platform == "" {
		platform = DefaultPlatform
	}
	return Identity{UserID: user, Platform: platform}, nil
}
