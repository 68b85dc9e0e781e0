package oauth

import (
	"encoding/json"
	"net/http"
	"strings"

	"mcpgate/pkg/logging"
)

// tokenResponse is the downstream token endpoint's success body.
type tokenResponse struct {
	AccessToken   string   `json:"access_token"`
	TokenType     string   `json:"token_type"`
	ExpiresIn     int      `json:"expires_in"`
	Scope         string   `json:"scope,omitempty"`
	GrantedSkills []string `json:"granted_skills,omitempty"`
}

// tokenError is an RFC 6749 error body.
type tokenError struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// HandleToken redeems a downstream authorization code for a downstream
// access token. Only the authorization_code grant is supported; refresh
// against the upstream provider is the provider's business, not this
// gateway's.
func (f *Flow) HandleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeTokenError(w, http.StatusMethodNotAllowed, "invalid_request", "token endpoint requires POST")
		return
	}

	if err := r.ParseForm(); err != nil {
		writeTokenError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	if grantType := r.PostForm.Get("grant_type"); grantType != "authorization_code" {
		writeTokenError(w, http.StatusBadRequest, "unsupported_grant_type", "only authorization_code is supported")
		return
	}

	code := r.PostForm.Get("code")
	if code == "" {
		writeTokenError(w, http.StatusBadRequest, "invalid_request", "missing code")
		return
	}

	grant, ok := f.Grants.RedeemCode(code)
	if !ok {
		logging.Warn("OAuth", "Token request with unknown or expired code")
		writeTokenError(w, http.StatusBadRequest, "invalid_grant", "authorization code is invalid or expired")
		return
	}

	// The code is bound to the client it was issued for.
	if clientID := r.PostForm.Get("client_id"); clientID != grant.ClientID {
		logging.Warn("OAuth", "Token request client mismatch: got %q want %q", clientID, grant.ClientID)
		writeTokenError(w, http.StatusBadRequest, "invalid_grant", "authorization code was issued to another client")
		return
	}

	token, ttl := f.Grants.IssueAccessToken(grant)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(tokenResponse{
		AccessToken:   token,
		TokenType:     "Bearer",
		ExpiresIn:     int(ttl.Seconds()),
		Scope:         strings.Join(grant.GrantedScopes, " "),
		GrantedSkills: grant.GrantedSkills,
	})
}

func writeTokenError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(tokenError{Error: code, Description: description})
}
