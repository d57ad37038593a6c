// Package classify converts arbitrary failures into a closed error taxonomy
// with user-facing guidance. Raw backend/network errors are classified once at
// the boundary; downstream code matches on Kind, never on message substrings.
package classify

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/enviofleett/ordersync/internal/backend"
)

// Kind is the failure category of a classified error.
type Kind string

const (
	KindNetwork        Kind = "network"
	KindAuthentication Kind = "authentication"
	KindValidation     Kind = "validation"
	KindTimeout        Kind = "timeout"
	KindRateLimit      Kind = "rate_limit"
	KindServer         Kind = "server"
	KindUnknown        Kind = "unknown"
)

// Severity grades how loudly a failure should be surfaced.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Classified is the result of classifying a raw error. UserMessage is one of
// a fixed set of templates; raw internal error text is never surfaced.
type Classified struct {
	Kind        Kind
	Severity    Severity
	Recoverable bool
	UserMessage string
}

// Fixed user-facing message per kind.
const (
	msgNetwork        = "Network connection issue. Retrying automatically…"
	msgAuthentication = "Session expired. Please refresh the page and login again."
	msgValidation     = "Some of the information provided is invalid. Please check and try again."
	msgTimeout        = "The request took too long. Retrying automatically…"
	msgRateLimit      = "Too many requests. Please wait a moment before trying again."
	msgServer         = "Something went wrong on our side. Retrying automatically…"
	msgUnknown        = "Something unexpected happened. Retrying automatically…"
)

var outcomes = map[Kind]Classified{
	KindNetwork:        {KindNetwork, SeverityMedium, true, msgNetwork},
	KindAuthentication: {KindAuthentication, SeverityHigh, false, msgAuthentication},
	KindValidation:     {KindValidation, SeverityLow, false, msgValidation},
	KindTimeout:        {KindTimeout, SeverityMedium, true, msgTimeout},
	KindRateLimit:      {KindRateLimit, SeverityMedium, true, msgRateLimit},
	KindServer:         {KindServer, SeverityHigh, true, msgServer},
	KindUnknown:        {KindUnknown, SeverityMedium, true, msgUnknown},
}

// Message patterns, checked in order. Earlier entries win when several could
// match, so specific kinds (authentication, rate limit) come before broad
// ones (network, server).
var patterns = []struct {
	substrings []string
	kind       Kind
}{
	{[]string{"unauthorized", "401", "403", "jwt", "authentication", "not authenticated", "invalid login", "session expired", "permission denied"}, KindAuthentication},
	{[]string{"rate limit", "too many requests", "429"}, KindRateLimit},
	{[]string{"timeout", "timed out", "deadline exceeded"}, KindTimeout},
	{[]string{"validation", "invalid input", "invalid format", "constraint", "required field", "must be"}, KindValidation},
	{[]string{"failed to fetch", "network", "connection refused", "connection reset", "no such host", "fetch failed", "broken pipe", "econnrefused"}, KindNetwork},
	{[]string{"internal server error", "bad gateway", "service unavailable", "gateway timeout", "500", "502", "503", "504"}, KindServer},
}

// Classify maps any error to a Classified. Total: it accepts nil and
// arbitrary error values and always returns all four fields populated.
func Classify(err error) Classified {
	if err == nil {
		return outcomes[KindUnknown]
	}

	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return outcomes[kindForStatus(apiErr.Status)]
	}

	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		for _, s := range p.substrings {
			if strings.Contains(msg, s) {
				return outcomes[p.kind]
			}
		}
	}
	return outcomes[KindUnknown]
}

// ClassifyValue classifies a non-error value, e.g. a recovered panic payload.
func ClassifyValue(v any) Classified {
	if v == nil {
		return outcomes[KindUnknown]
	}
	if err, ok := v.(error); ok {
		return Classify(err)
	}
	return Classify(fmt.Errorf("%v", v))
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthentication
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity || status == http.StatusConflict:
		return KindValidation
	case status >= 500:
		return KindServer
	default:
		return KindUnknown
	}
}

// ForKind returns the canonical classification for a kind. Used by callers
// that synthesize failures (e.g. the circuit breaker's fast rejection).
func ForKind(k Kind) Classified {
	if c, ok := outcomes[k]; ok {
		return c
	}
	return outcomes[KindUnknown]
}
