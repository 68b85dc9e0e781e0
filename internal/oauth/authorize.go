package oauth

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"mcpgate/internal/skills"
	"mcpgate/pkg/logging"
)

// UpstreamProvider is the slice of Upstream the handlers depend on.
type UpstreamProvider interface {
	AuthorizeURL(ctx context.Context, state string) (string, error)
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// Flow wires the consent flow's collaborators into the HTTP handlers.
type Flow struct {
	Clients  ClientStore
	Catalog  *skills.Catalog
	Upstream UpstreamProvider
	Grants   *GrantStore

	// Secret signs both the state tokens and the approval cookie. One
	// symmetric secret serves both purposes; see DESIGN.md before
	// changing that.
	Secret string

	// ServerName and ServerDescription brand the consent dialog.
	ServerName        string
	ServerDescription string
}

// HandleAuthorize dispatches the authorize endpoint: GET starts the flow
// and renders the consent dialog, POST processes the submitted approval
// and redirects to the upstream provider.
func (f *Flow) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		f.handleAuthorizeGet(w, r)
	case http.MethodPost:
		f.handleAuthorizePost(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleAuthorizeGet parses the downstream authorization request and
// renders the consent dialog with the request sealed into a signed state
// token.
func (f *Flow) handleAuthorizeGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	clientID := q.Get("client_id")
	if clientID == "" {
		logging.Warn("OAuth", "Authorize request without client_id")
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	client, ok := f.Clients.Lookup(clientID)
	if !ok {
		logging.Warn("OAuth", "Authorize request for unknown client %q", clientID)
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	redirectURI := q.Get("redirect_uri")
	if redirectURI == "" || !client.HasRedirectURI(redirectURI) {
		// Expected for misconfigured clients and probes; a warning, not
		// an exception.
		logging.Warn("OAuth", "Authorize request with unregistered redirect URI for client %q", clientID)
		http.Error(w, "Invalid redirect URI", http.StatusBadRequest)
		return
	}

	req := AuthRequest{
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		ResponseType:        q.Get("response_type"),
		Scope:               splitScope(q.Get("scope")),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}

	if q.Has("resource") {
		resource := q.Get("resource")
		if !ValidateResource(resource, requestURL(r)) {
			// The redirect URI passed the allow-list above, so the
			// error redirect goes to a trusted destination, never to
			// the attacker-supplied resource.
			logging.Warn("OAuth", "Invalid resource parameter on authorize for client %q", clientID)
			redirectInvalidTarget(w, r, redirectURI, req.State)
			return
		}
		req.Resource = resource
	}

	bag, err := WrapReqInfo(req)
	if err != nil {
		logging.Error("OAuth", err, "Failed to build state envelope")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	err = RenderApprovalDialog(w, DialogParams{
		Client:            client,
		ServerName:        f.ServerName,
		ServerDescription: f.ServerDescription,
		Skills:            f.Catalog.All(),
		Req:               bag,
		FormAction:        r.URL.Path,
		Secret:            f.Secret,
	})
	if err != nil {
		logging.Error("OAuth", err, "Failed to render approval dialog")
	}
}

// handleAuthorizePost validates the submitted consent form, re-signs the
// state (now including the selected skills) for the upstream hop, and
// redirects to the identity provider with the approval cookie attached.
func (f *Flow) handleAuthorizePost(w http.ResponseWriter, r *http.Request) {
	result, err := ParseApprovalForm(r, f.Secret)
	if err != nil {
		logging.Warn("OAuth", "Approval form rejected: %v", err)
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	// The allow-list check runs before any validation that could emit an
	// error redirect. Otherwise a bogus resource parameter would bounce
	// the user agent to an unregistered URI.
	client, ok := f.Clients.Lookup(result.Request.ClientID)
	if !ok || !client.HasRedirectURI(result.Request.RedirectURI) {
		logging.Warn("OAuth", "Approval for client %q with unregistered redirect URI", result.Request.ClientID)
		http.Error(w, "Invalid redirect URI", http.StatusBadRequest)
		return
	}

	// The Cancel button posts back with ?cancel=1. The user said no: send
	// access_denied to the registered redirect URI and record nothing.
	if r.URL.Query().Has("cancel") {
		logging.Info("OAuth", "User declined authorization for client %q", result.Request.ClientID)
		redirectAccessDenied(w, r, result.Request.RedirectURI, result.Request.State)
		return
	}

	if result.Request.Resource != "" && !ValidateResource(result.Request.Resource, requestURL(r)) {
		logging.Warn("OAuth", "Invalid resource parameter on approval for client %q", result.Request.ClientID)
		redirectInvalidTarget(w, r, result.Request.RedirectURI, result.Request.State)
		return
	}

	// Attach the selection to the transported request without dropping
	// any field this server did not author.
	result.Bag["skills"] = result.Skills

	bag, err := WrapReqInfo(result.Bag)
	if err != nil {
		logging.Error("OAuth", err, "Failed to rebuild state envelope")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	// Fresh envelope, fresh expiry: the state is re-signed between hops,
	// never reused.
	upstreamState, err := SignState(NewStatePayload(bag, time.Now()), f.Secret)
	if err != nil {
		logging.Error("OAuth", err, "Failed to sign upstream state")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	authURL, err := f.Upstream.AuthorizeURL(r.Context(), upstreamState)
	if err != nil {
		logging.Error("OAuth", err, "Failed to build upstream authorize URL")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Set-Cookie", result.SetCookie)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// redirectInvalidTarget sends the RFC 8707 invalid_target error back to a
// redirect URI that has already been checked against the client's
// registered list.
func redirectInvalidTarget(w http.ResponseWriter, r *http.Request, redirectURI, downstreamState string) {
	redirectError(w, r, redirectURI, "invalid_target", "The requested resource is not available", downstreamState)
}

// redirectAccessDenied reports a user-declined authorization to the client.
func redirectAccessDenied(w http.ResponseWriter, r *http.Request, redirectURI, downstreamState string) {
	redirectError(w, r, redirectURI, "access_denied", "The user declined the authorization request", downstreamState)
}

func redirectError(w http.ResponseWriter, r *http.Request, redirectURI, errCode, description, downstreamState string) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		http.Error(w, "Invalid redirect URI", http.StatusBadRequest)
		return
	}

	q := u.Query()
	q.Set("error", errCode)
	q.Set("error_description", description)
	if downstreamState != "" {
		q.Set("state", downstreamState)
	}
	u.RawQuery = q.Encode()

	http.Redirect(w, r, u.String(), http.StatusFound)
}

// requestURL reconstructs the absolute URL the request arrived on, taking
// a TLS-terminating proxy's X-Forwarded-Proto into account.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.Path
}

// splitScope splits a space-delimited scope string, returning nil for an
// absent parameter.
func splitScope(scope string) []string {
	if scope == "" {
		return nil
	}
	return strings.Fields(scope)
}
