package config

import "time"

func parseDuration(raw, fallback string) time.Duration {
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(fallback)
	return d
}

// JWTExpiry returns the parsed token lifetime.
func (a AuthConfig) JWTExpiry() time.Duration {
	return parseDuration(a.JWTExpiresIn, DefaultJWTExpiresIn)
}

// SessionExpiry returns how long an idle chunked upload session is kept.
func (u UploadConfig) SessionExpiry() time.Duration {
	return parseDuration(u.SessionTTL, DefaultSessionTTL)
}

// SignedURLExpiry returns the lifetime of issued download URLs.
func (s StorageConfig) SignedURLExpiry() time.Duration {
	return parseDuration(s.URLExpiry, DefaultURLExpiry)
}

// Timeout returns the per-backend scan deadline.
func (s ScanConfig) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}
