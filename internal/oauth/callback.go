package oauth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"mcpgate/pkg/logging"
)

// HandleCallback receives the upstream provider's redirect: it re-verifies
// the state token, the approval cookie, and the resource parameter, then
// exchanges the code for tokens, derives the granted permissions, and
// completes the downstream authorization.
//
// Every validation failure here is local and terminal; the downstream
// client restarts the dance from the top. Verification failures log at
// warn level only, since a tampered or stale state is attacker-reachable
// and expected.
func (f *Flow) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if errParam := q.Get("error"); errParam != "" {
		logging.Warn("OAuth", "Upstream callback returned error: %s - %s", errParam, q.Get("error_description"))
		http.Error(w, fmt.Sprintf("Authorization failed: %s", errParam), http.StatusBadRequest)
		return
	}

	payload, err := VerifyState(q.Get("state"), f.Secret)
	if err != nil {
		logging.Warn("OAuth", "Callback state rejected: %v", err)
		http.Error(w, "Invalid state", http.StatusBadRequest)
		return
	}

	req, _, err := DecodeReqInfo(payload.Req)
	if err != nil || req.ClientID == "" {
		logging.Warn("OAuth", "Callback state has no client id")
		http.Error(w, "Invalid state", http.StatusBadRequest)
		return
	}

	if _, err := url.ParseRequestURI(req.RedirectURI); err != nil {
		logging.Warn("OAuth", "Callback state has unparseable redirect URI for client %q", req.ClientID)
		http.Error(w, "Authorization failed: Invalid redirect URL", http.StatusBadRequest)
		return
	}

	// No error redirect at this stage: the client has not been proven
	// approved yet, so a redirect could itself be the attack surface.
	if req.Resource != "" && !ValidateResource(req.Resource, requestURL(r)) {
		logging.Warn("OAuth", "Callback with invalid resource parameter for client %q", req.ClientID)
		http.Error(w, "Authorization failed: Invalid resource parameter", http.StatusBadRequest)
		return
	}

	if !IsApproved(r.Header.Get("Cookie"), req.ClientID, f.Secret) {
		logging.Warn("OAuth", "Callback for unapproved client %q", req.ClientID)
		http.Error(w, "Authorization failed: Client not approved", http.StatusForbidden)
		return
	}

	client, ok := f.Clients.Lookup(req.ClientID)
	if !ok || !client.HasRedirectURI(req.RedirectURI) {
		logging.Warn("OAuth", "Callback redirect URI no longer registered for client %q", req.ClientID)
		http.Error(w, "Authorization failed: Invalid redirect URL", http.StatusBadRequest)
		return
	}

	token, err := f.Upstream.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		// Upstream failures are operational issues, not adversarial
		// input: error-tracked with an event id for support correlation.
		eventID := uuid.NewString()
		logging.Error("Upstream", err, "Token exchange failed event_id=%s", eventID)
		w.Header().Set("X-Event-Id", eventID)
		http.Error(w, fmt.Sprintf("Authorization failed: unable to exchange authorization code (event %s)", eventID), http.StatusBadRequest)
		return
	}

	grantedSkills := f.Catalog.Filter(req.Skills)
	if len(grantedSkills) == 0 {
		logging.Warn("OAuth", "Callback for client %q granted no valid skills", req.ClientID)
		http.Error(w, "Authorization failed: you must select at least one valid permission", http.StatusBadRequest)
		return
	}
	grantedScopes := f.Catalog.Scopes(grantedSkills)

	grant := &Grant{
		UserID:        userIDFromToken(token),
		ClientID:      req.ClientID,
		Scope:         req.Scope,
		GrantedSkills: grantedSkills,
		GrantedScopes: grantedScopes,
		AccessToken:   token.AccessToken,
		RefreshToken:  token.RefreshToken,
		TokenExpiry:   token.Expiry,
	}
	code := f.Grants.IssueCode(grant)

	dest, err := url.Parse(req.RedirectURI)
	if err != nil {
		http.Error(w, "Authorization failed: Invalid redirect URL", http.StatusBadRequest)
		return
	}
	destQuery := dest.Query()
	destQuery.Set("code", code)
	if req.State != "" {
		destQuery.Set("state", req.State)
	}
	dest.RawQuery = destQuery.Encode()

	logging.Info("OAuth", "Completed authorization for client=%s skills=%v", req.ClientID, grantedSkills)
	http.Redirect(w, r, dest.String(), http.StatusFound)
}

// userIDFromToken extracts a stable user identifier from the upstream
// token response. Prefers an explicit sub field; falls back to the sub
// claim of an id_token when the provider is OIDC. The id_token arrived
// directly from the provider over TLS, so its payload is read without a
// second signature check here.
func userIDFromToken(token *oauth2.Token) string {
	if sub, ok := token.Extra("sub").(string); ok && sub != "" {
		return sub
	}

	idToken, ok := token.Extra("id_token").(string)
	if !ok || idToken == "" {
		return ""
	}

	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return ""
	}
	claimsJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ""
	}

	var claims struct {
		Sub string `json:"sub"`
	}
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return ""
	}
	return claims.Sub
}
