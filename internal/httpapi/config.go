package httpapi

// maxBodyBytes controls the maximum allowed request body size for
// forwarded inference payloads.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// maxArtifactBytes bounds PUT /model/{name} upload size. Model artifacts
// are large; default 2 GiB.
var maxArtifactBytes int64 = 2 << 30

// SetMaxArtifactBytes allows configuring the maximum artifact upload size.
func SetMaxArtifactBytes(n int64) {
	if n <= 0 {
		maxArtifactBytes = 2 << 30
		return
	}
	maxArtifactBytes = n
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
