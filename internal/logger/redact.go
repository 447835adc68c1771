package logger

import "log/slog"

// Redact returns a placeholder attribute for a secret value. The value itself
// never reaches the log stream; only whether it is set.
func Redact(key, value string) slog.Attr {
	if value == "" {
		return slog.String(key, "<unset>")
	}
	return slog.String(key, "<redacted>")
}

// CookiePresent records whether a session cookie is held without exposing it.
func CookiePresent(cookie string) slog.Attr {
	return slog.Bool("cookie_present", cookie != "")
}
