package chat

import "strings"

const (
	titleRunes = 30
	ellipsis   = "..."

	// StopMarker ends a reply the user cut short.
	StopMarker = "\n\n[Generation stopped by user]"
	// ConnectionErrorSuffix is appended to a reply that failed mid-stream.
	ConnectionErrorSuffix = "\n\n[Connection error. Please try again.]"
	// QuotaNotice replaces a reply that hit the top-tier model's quota.
	QuotaNotice = "当前模型额度已用尽，已自动切换到 Gemini 2.5 Flash，请重新发送消息。\n" +
		"Quota exceeded for the current model. Switched to Gemini 2.5 Flash, please resend your message."
)

// DeriveTitle keeps the first 30 characters of text and marks the cut.
func DeriveTitle(text string) string {
	r := []rune(text)
	if len(r) <= titleRunes {
		return text
	}
	return string(r[:titleRunes]) + ellipsis
}

// IsQuotaError matches the status code, status name or wording backends
// use for rate limiting.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(strings.ToLower(msg), "quota") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED")
}
