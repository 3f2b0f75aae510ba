package config

import "time"

const (
	DefaultListen          = ":3000"
	DefaultProviderTimeout = 3 * time.Second
	DefaultMaxHeaderBytes  = 8192
	DefaultMaxBodyBytes    = 10 << 20
)

// DefaultLogDir returns the default decision log directory path.
func DefaultLogDir() string {
	return "~/.edgegate/decisions"
}

// DefaultAllowedMethods returns the methods accepted when the config does
// not restrict them.
func DefaultAllowedMethods() []string {
	return []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
}
