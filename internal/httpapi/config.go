package httpapi

import "time"

// DefaultMaxBodyBytes fits a base64 encoded page scan.
const DefaultMaxBodyBytes int64 = 20 << 20

// maxBodyBytes controls the maximum allowed request body size for JSON endpoints.
var maxBodyBytes = DefaultMaxBodyBytes

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
		return
	}
	maxBodyBytes = n
}

// jobTimeout bounds a /runsync request. Zero means no additional timeout
// beyond server/connection timeouts.
var jobTimeout time.Duration

// SetJobTimeout sets the /runsync timeout (<= 0 disables).
func SetJobTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	jobTimeout = d
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}
