package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	maskValue = "***"
	// tokenPrefixLen is how much of a code or token stays readable in logs.
	tokenPrefixLen = 8
)

// sensitiveHeaders never appear in logs in clear text.
var sensitiveHeaders = map[string]struct{}{
	"authorization": {},
	"cookie":        {},
	"set-cookie":    {},
}

// MaskToken keeps a short prefix of an authorization code, access token or
// session credential so log lines stay correlatable without leaking it.
// JWTs keep only their header segment.
func MaskToken(value string) string {
	if value == "" {
		return ""
	}
	if parts := strings.Split(value, "."); len(parts) == 3 {
		return parts[0] + "." + maskValue + "." + maskValue
	}
	if len(value) <= tokenPrefixLen {
		return maskValue
	}
	return value[:tokenPrefixLen] + maskValue
}

// Token creates a masked zap field for a secret value.
func Token(key, value string) zap.Field {
	return zap.String(key, MaskToken(value))
}

// IsSensitiveHeader reports whether a header must be masked.
func IsSensitiveHeader(name string) bool {
	_, ok := sensitiveHeaders[strings.ToLower(name)]
	return ok
}

// Header creates a zap field for a header value, masking credentials.
func Header(name, value string) zap.Field {
	if IsSensitiveHeader(name) {
		return zap.String(name, maskValue)
	}
	return zap.String(name, value)
}
