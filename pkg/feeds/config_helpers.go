package feeds

import "strings"

// ConfigString returns the trimmed string value for key from the feed config or a fallback.
func ConfigString(d Definition, key, fallback string) string {
	if d.Config != nil {
		if raw, ok := d.Config[key]; ok {
			if val, ok := raw.(string); ok {
				if trimmed := strings.TrimSpace(val); trimmed != "" {
					return trimmed
				}
			}
		}
	}
	return fallback
}

const (
	ConfigUserAgentKey      = "user_agent"
	ConfigAcceptKey         = "accept"
	ConfigAcceptLanguageKey = "accept_language"
	ConfigCacheControlKey   = "cache_control"
)

// Headers builds the loader request headers from a feed config (skips empty values).
func Headers(d Definition) map[string]string {
	headers := make(map[string]string, 4)
	pairs := []struct{ key, header string }{
		{ConfigUserAgentKey, "User-Agent"},
		{ConfigAcceptKey, "Accept"},
		{ConfigAcceptLanguageKey, "Accept-Language"},
		{ConfigCacheControlKey, "Cache-Control"},
	}
	for _, p := range pairs {
		if v := ConfigString(d, p.key, ""); v != "" {
			headers[p.header] = v
		}
	}
	return headers
}
