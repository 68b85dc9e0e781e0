package oauth

import (
	"crypto/hmac"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"mcpgate/pkg/logging"
)

// ApprovalCookieName is the signed browser cookie holding the list of
// downstream client IDs the user has already approved.
const ApprovalCookieName = "mcp-approved-clients"

// approvalCookieMaxAge is one year in seconds.
const approvalCookieMaxAge = 365 * 24 * 60 * 60

// ParseApprovedClients extracts and verifies the approved-clients cookie
// from a raw Cookie header. The cookie value is "<sig-hex>.<base64-json>"
// where the HMAC covers the base64-decoded JSON text. Any structural
// failure (missing cookie, bad format, bad signature, payload that is not
// an array of strings) yields nil rather than an error: callers treat nil
// as "nothing approved".
func ParseApprovedClients(cookieHeader, secret string) []string {
	value := cookieValue(cookieHeader, ApprovalCookieName)
	if value == "" {
		return nil
	}

	sigHex, encoded, ok := strings.Cut(value, ".")
	if !ok {
		logging.Warn("OAuth", "Approval cookie missing signature separator")
		return nil
	}

	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		logging.Warn("OAuth", "Approval cookie signature is not hex")
		return nil
	}

	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		logging.Warn("OAuth", "Approval cookie payload is not base64")
		return nil
	}

	if !hmac.Equal(sig, computeHMAC(payload, secret)) {
		logging.Warn("OAuth", "Approval cookie signature mismatch")
		return nil
	}

	// Unmarshal into []string rejects arrays with non-string elements as
	// well as non-array payloads.
	var clients []string
	if err := json.Unmarshal(payload, &clients); err != nil {
		logging.Warn("OAuth", "Approval cookie payload is not a string array")
		return nil
	}

	return clients
}

// IsApproved reports whether clientID is present in a validly signed
// approval cookie.
func IsApproved(cookieHeader, clientID, secret string) bool {
	return slices.Contains(ParseApprovedClients(cookieHeader, secret), clientID)
}

// AppendApproval unions clientID into the existing approval set, re-signs
// the whole list, and returns the Set-Cookie header value to send.
// Approving the same client twice is a no-op set union.
func AppendApproval(existing []string, clientID, secret string) (string, error) {
	clients := slices.Clone(existing)
	if !slices.Contains(clients, clientID) {
		clients = append(clients, clientID)
	}
	if clients == nil {
		clients = []string{}
	}

	payload, err := json.Marshal(clients)
	if err != nil {
		return "", err
	}

	cookie := &http.Cookie{
		Name:     ApprovalCookieName,
		Value:    signHex(payload, secret) + "." + base64.StdEncoding.EncodeToString(payload),
		Path:     "/",
		MaxAge:   approvalCookieMaxAge,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
	return cookie.String(), nil
}

// cookieValue locates the named cookie among ;-separated cookie pairs.
func cookieValue(cookieHeader, name string) string {
	for _, pair := range strings.Split(cookieHeader, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && k == name {
			return v
		}
	}
	return ""
}
