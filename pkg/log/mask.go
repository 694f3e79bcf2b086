package log

import "strings"

// MaskToken masks a bearer token so it is safe to log. Long tokens keep the
// first 10 and last 4 characters, shorter ones the first and last 2, and
// anything 4 characters or less is fully redacted.
func MaskToken(bearerToken string) string {
	if bearerToken == "" {
		return ""
	}

	token := strings.TrimSpace(strings.ReplaceAll(bearerToken, "Bearer ", ""))
	switch {
	case len(token) <= 4:
		return "Bearer [REDACTED]"
	case len(token) <= 14:
		return "Bearer " + token[:2] + "..." + token[len(token)-2:]
	default:
		return "Bearer " + token[:10] + "..." + token[len(token)-4:]
	}
}
