package breaker

import (
	"regexp"
	"strings"
)

// Category is the provider failure class a breaker tracks. Unclassified
// errors are not counted.
type Category string

const (
	CategoryAuth      Category = "auth"
	CategoryQuota     Category = "quota"
	CategoryRateLimit Category = "rate_limit"
)

// Classification patterns, checked in order. Substring matches are
// case-insensitive; 429 is matched as a bare token so model names containing
// the digits do not trip it.
var (
	authPatterns = []string{
		"unauthorized", "forbidden", "invalid api key", "credential", "login", "auth",
	}
	quotaPatterns = []string{
		"insufficient quota", "quota", "billing", "credits", "payment required",
	}
	rateLimitPatterns = []string{
		"rate limit", "too many requests", "overloaded", "retry delay",
	}
	status429 = regexp.MustCompile(`(^|\D)429(\D|$)`)
)

// Classify maps an error message to a breaker category. The second return is
// false when the error is not a recognized provider failure.
func Classify(message string) (Category, bool) {
	if message == "" {
		return "", false
	}
	lower := strings.ToLower(message)

	for _, p := range rateLimitPatterns {
		if strings.Contains(lower, p) {
			return CategoryRateLimit, true
		}
	}
	if status429.MatchString(lower) {
		return CategoryRateLimit, true
	}
	for _, p := range quotaPatterns {
		if strings.Contains(lower, p) {
			return CategoryQuota, true
		}
	}
	for _, p := range authPatterns {
		if strings.Contains(lower, p) {
			return CategoryAuth, true
		}
	}
	return "", false
}

// Retryable reports whether an error message is worth a fallback-chain retry.
// Exactly the classified categories are considered retryable.
func Retryable(message string) bool {
	_, ok := Classify(message)
	return ok
}
