package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background sweep interval for stale runs, expired edges and sessions
const SweepJobInterval = time.Minute

// Upper bound for pairing payload TTLs
const MaxPairingTTLSeconds = 1800

// Trust chains never exceed this many hops from a device back to the root
const MaxTrustDepth = 3

// Default rate limiting
const DefaultRateLimitPerMin = 60
