// Package config holds the rendezvous relay service's own small
// configuration surface, distinct from the CLI's user-facing config in
// cmd/qs/config (spec.md has no server-side configuration beyond what
// this package captures: a listen port and the build version it
// advertises in its version-probe response).
package config

// Server is the rendezvous relay's runtime configuration.
type Server struct {
	Port    int
	Version string
}

// DefaultPort is used when no port is configured.
const DefaultPort = 7465
