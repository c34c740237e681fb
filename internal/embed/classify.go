package embed

import "strings"

// FailureClass buckets provider errors by how the credential pool should
// react to them.
type FailureClass int

const (
	// FailureTransient covers network blips and server-side errors. The
	// credential stays in rotation.
	FailureTransient FailureClass = iota

	// FailureExhausted covers quota and rate-limit rejections. The credential
	// cools down and then returns.
	FailureExhausted

	// FailureInvalid covers authentication rejections. The credential is
	// permanently retired.
	FailureInvalid
)

// String returns the human-readable name of the failure class.
func (c FailureClass) String() string {
	switch c {
	case FailureTransient:
		return "transient"
	case FailureExhausted:
		return "exhausted"
	case FailureInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Classify inspects a provider error message and assigns a [FailureClass].
//
// Providers behind any-llm-go do not expose typed errors uniformly, so this
// falls back to substring heuristics over the rendered message. Auth markers
// are checked first: "401 invalid api key" must retire the key, not cool it
// down.
func Classify(err error) FailureClass {
	if err == nil {
		return FailureTransient
	}
	msg := strings.ToLower(err.Error())

	authMarkers := []string{
		"401",
		"403",
		"unauthorized",
		"forbidden",
		"invalid api key",
		"incorrect api key",
		"invalid_api_key",
		"authentication",
		"permission denied",
	}
	for _, m := range authMarkers {
		if strings.Contains(msg, m) {
			return FailureInvalid
		}
	}

	quotaMarkers := []string{
		"429",
		"rate limit",
		"rate_limit",
		"too many requests",
		"quota",
		"resource exhausted",
		"resource_exhausted",
		"billing",
	}
	for _, m := range quotaMarkers {
		if strings.Contains(msg, m) {
			return FailureExhausted
		}
	}

	return FailureTransient
}
