package httputil

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/mafzaal/d365fo-client-go/infrastructure/runtime"
)

// BaseURLOptions configures NormalizeBaseURL.
type BaseURLOptions struct {
	// RequireHTTPSInStrictMode enforces https URLs whenever running in the
	// production environment, so a misconfigured F&O base URL cannot
	// silently downgrade to plaintext.
	RequireHTTPSInStrictMode bool
}

// NormalizeBaseURL normalizes and validates a base URL used for service-to-service calls.
//
// It trims whitespace, removes trailing slashes, validates scheme/host, disallows
// user info, and optionally enforces https when running in production.
func NormalizeBaseURL(raw string, opts BaseURLOptions) (string, *url.URL, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(raw), "/")
	if baseURL == "" {
		return "", nil, fmt.Errorf("base URL is required")
	}

	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", nil, fmt.Errorf("base URL must be a valid URL")
	}
	if parsed.User != nil {
		return "", nil, fmt.Errorf("base URL must not include user info")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", nil, fmt.Errorf("base URL scheme must be http or https")
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return "", nil, fmt.Errorf("base URL must not include query or fragment")
	}
	if opts.RequireHTTPSInStrictMode && runtime.IsProduction() && parsed.Scheme != "https" {
		return "", nil, fmt.Errorf("base URL must use https in production")
	}

	return baseURL, parsed, nil
}

// NormalizeServiceBaseURL is the standard normalization used for F&O
// environment base URLs. It enforces https in production.
func NormalizeServiceBaseURL(raw string) (string, *url.URL, error) {
	return NormalizeBaseURL(raw, BaseURLOptions{RequireHTTPSInStrictMode: true})
}
