package observability

import (
	"strings"
	"unicode"
)

const defaultStringLimit = 256

// sanitizeString drops control characters other than whitespace and truncates to limit runes.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}
	var b strings.Builder
	n := 0
	for _, r := range value {
		if n == limit {
			break
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// SanitizeRoute cleans a chi route pattern for logs and span attributes.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod cleans an HTTP method.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeUserID bounds a principal id before it is logged.
func SanitizeUserID(uid string) string {
	return sanitizeString(uid, 64)
}

// MaskContact hides most of an email address or phone number so notification logs can be
// correlated without recording guest contact details. "buyer@example.com" becomes
// "b****@example.com" and "0912345678" becomes "******5678".
func MaskContact(value string) string {
	value = strings.TrimSpace(sanitizeString(value, 254))
	if value == "" {
		return ""
	}
	if at := strings.LastIndex(value, "@"); at > 0 {
		local, domain := []rune(value[:at]), value[at:]
		return string(local[0]) + strings.Repeat("*", max(len(local)-1, 1)) + domain
	}
	runes := []rune(value)
	keep := 4
	if len(runes) <= keep {
		return strings.Repeat("*", len(runes))
	}
	return strings.Repeat("*", len(runes)-keep) + string(runes[len(runes)-keep:])
}
