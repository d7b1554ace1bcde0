package observability

import (
	"net/url"
	"strings"
	"unicode"
)

const defaultStringLimit = 256

// query parameters that carry customer credentials and must never reach logs or spans.
var sensitiveQueryParams = map[string]struct{}{
	"token":        {},
	"access_token": {},
}

// sanitizeString strips control characters and limits length to avoid log injection.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}
	cleaned := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) && r != '\t' {
			continue
		}
		cleaned = append(cleaned, r)
	}
	if len(cleaned) > limit {
		cleaned = cleaned[:limit]
	}
	return string(cleaned)
}

// SanitizeRoute removes control characters and enforces length constraints on routes.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeUserID limits identifiers to reduce PII leakage in logs.
func SanitizeUserID(uid string) string {
	if uid == "" {
		return ""
	}
	return sanitizeString(uid, 64)
}

// RedactURI masks order access tokens in a request URI.
func RedactURI(u *url.URL) string {
	if u == nil {
		return ""
	}
	if u.RawQuery == "" {
		return sanitizeString(u.Path, 512)
	}
	query := u.Query()
	for key := range query {
		if _, ok := sensitiveQueryParams[strings.ToLower(key)]; ok {
			query.Set(key, "REDACTED")
		}
	}
	return sanitizeString(u.Path+"?"+query.Encode(), 512)
}
