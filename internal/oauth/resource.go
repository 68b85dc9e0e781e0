package oauth

import (
	"net/url"
	"strings"
)

// ValidateResource checks an RFC 8707 resource parameter against the URL
// the request arrived on. The parameter is optional; callers skip the call
// entirely when it is absent. When present it must be an absolute URL
// without a fragment, pointing at this deployment's MCP endpoint: same
// scheme, host, and normalized port as the request URL, with a path of
// exactly /mcp or below it.
//
// Any percent-encoded character anywhere in the path is rejected outright.
// Decoding first and then prefix-checking would let an encoded slash
// (/mcp%2Fevil) slip past the /mcp/ prefix test.
func ValidateResource(resource, requestURL string) bool {
	if resource == "" {
		return false
	}
	if strings.Contains(resource, "#") {
		return false
	}

	res, err := url.Parse(resource)
	if err != nil || !res.IsAbs() || res.Host == "" {
		return false
	}

	req, err := url.Parse(requestURL)
	if err != nil {
		return false
	}

	if !strings.EqualFold(res.Scheme, req.Scheme) {
		return false
	}
	if !strings.EqualFold(res.Hostname(), req.Hostname()) {
		return false
	}
	if normalizedPort(res) != normalizedPort(req) {
		return false
	}

	path := res.EscapedPath()
	if strings.Contains(path, "%") {
		return false
	}
	return path == "/mcp" || strings.HasPrefix(path, "/mcp/")
}

// normalizedPort returns the explicit port, or the scheme default when the
// port is omitted (443 for https, 80 for http).
func normalizedPort(u *url.URL) string {
	if port := u.Port(); port != "" {
		return port
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return "443"
	case "http":
		return "80"
	default:
		return ""
	}
}
