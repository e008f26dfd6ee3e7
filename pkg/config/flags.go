package config

import (
	"os"
	"strings"
)

// ClientVersion selects the upstream client variant.
type ClientVersion string

const (
	// ClientOriginal performs a single attempt per call, no retry.
	ClientOriginal ClientVersion = "original"
	// ClientFixed retries transport errors with exponential backoff.
	ClientFixed ClientVersion = "fixed"
)

// FlagsConfig holds the environment-driven feature flags.
type FlagsConfig struct {
	// DisableQuotaCheck bypasses the quota gate. Development only.
	DisableQuotaCheck bool

	// UseRedisLock selects the Redis task lock over the in-process one.
	UseRedisLock bool

	// UseRedisCache selects the Redis progress bus over the in-process one.
	UseRedisCache bool

	// CORSOrigins restricts browser clients of the API and event stream.
	CORSOrigins []string

	// ClientVersion selects the retrying or single-attempt upstream client.
	ClientVersion ClientVersion
}

// FlagsFromEnv reads the feature flags from the environment.
func FlagsFromEnv() FlagsConfig {
	f := FlagsConfig{
		DisableQuotaCheck: envBool("DISABLE_QUOTA_CHECK"),
		UseRedisLock:      envBool("USE_REDIS_LOCK"),
		UseRedisCache:     envBool("USE_REDIS_CACHE"),
		ClientVersion:     ClientFixed,
	}

	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				f.CORSOrigins = append(f.CORSOrigins, origin)
			}
		}
	}

	if v := os.Getenv("AI_CLIENT_VERSION"); v == string(ClientOriginal) {
		f.ClientVersion = ClientOriginal
	}

	return f
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
