package logger

import (
	"log/slog"
	"net/url"
	"strings"
	"unicode/utf8"
)

const redacted = "[REDACTED]"

// SanitizedEmail keeps the first character of the mailbox and the top-level
// domain, e.g. "ana@clinic.test" becomes "a**@******.test"
func SanitizedEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return "[invalid-email]"
	}

	first, size := utf8.DecodeRuneInString(local)
	masked := string(first) + strings.Repeat("*", utf8.RuneCountInString(local[size:]))

	if dot := strings.LastIndexByte(domain, '.'); dot > 0 {
		domain = maskKeepingDots(domain[:dot]) + domain[dot:]
	}
	return masked + "@" + domain
}

func maskKeepingDots(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '.' {
			return r
		}
		return '*'
	}, s)
}

// RedactedAttr hides value outside development, where mail bodies carrying
// one-time links and codes are logged in full
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "development" {
		return slog.String(key, value)
	}
	return slog.String(key, redacted)
}

// sensitiveParams are the query parameters that carry credentials on this
// service's routes: email links, challenge tokens and second-factor codes
var sensitiveParams = map[string]bool{
	"token":         true,
	"reset_token":   true,
	"challenge":     true,
	"code":          true,
	"password":      true,
	"temp_password": true,
	"secret":        true,
	"email":         true,
}

// RedactQuery replaces the values of credential-bearing parameters and keeps
// the rest, so "token=abc&lang=en" logs as "token=[REDACTED]&lang=en".
// A query that cannot be decoded is redacted whole.
func RedactQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	pairs := strings.Split(rawQuery, "&")
	for i, pair := range pairs {
		rawKey, _, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return redacted
		}
		if sensitiveParams[strings.ToLower(key)] {
			pairs[i] = rawKey + "=" + redacted
		}
	}
	return strings.Join(pairs, "&")
}
