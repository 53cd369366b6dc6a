package security

import (
	"net/url"
	"regexp"
	"strings"
)

// sensitivePatterns contains regex patterns for sensitive data embedded in text.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|access[_-]?token|token|secret)=([^&\s"']+)`),
	regexp.MustCompile(`(?i)(bot)([0-9]{6,}:[A-Za-z0-9_-]{20,})`), // telegram bot tokens in URLs
}

// MaskCredential masks a credential value for logging.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// RedactURL returns rawURL with userinfo passwords and credential query
// parameter values masked.
func RedactURL(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		rawURL = u.Redacted()
	}
	return MaskSensitive(rawURL)
}

// MaskSensitive masks credential-looking substrings, such as query parameters
// echoed back inside transport error messages.
func MaskSensitive(input string) string {
	result := input
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			sub := pattern.FindStringSubmatch(match)
			if len(sub) < 3 {
				return MaskCredential(match)
			}
			sep := match[len(sub[1]) : len(match)-len(sub[2])]
			return sub[1] + sep + MaskCredential(sub[2])
		})
	}
	return result
}
