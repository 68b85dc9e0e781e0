package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"mcpgate/pkg/logging"
)

// metadataCacheTTL is the time-to-live for cached provider metadata.
const metadataCacheTTL = 30 * time.Minute

// ProviderMetadata is the RFC 8414 authorization server metadata subset
// this flow needs.
type ProviderMetadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
}

// CodeExchanger exchanges an upstream authorization code for tokens.
// Satisfied by *Upstream; tests substitute a fake.
type CodeExchanger interface {
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// Upstream talks to the identity provider this gateway fronts: metadata
// discovery, authorization URL construction, and the code/token exchange.
type Upstream struct {
	issuer       string
	clientID     string
	clientSecret string
	scopes       []string
	redirectURI  string // this server's own /oauth/callback

	httpClient *http.Client

	metadataMu      sync.RWMutex
	metadata        *ProviderMetadata
	metadataFetched time.Time
	metadataGroup   singleflight.Group
}

// NewUpstream creates an upstream provider client. scopes is the fixed
// scope list requested from the provider regardless of which skills the
// user granted downstream.
func NewUpstream(issuer, clientID, clientSecret, redirectURI string, scopes []string) *Upstream {
	return &Upstream{
		issuer:       issuer,
		clientID:     clientID,
		clientSecret: clientSecret,
		scopes:       scopes,
		redirectURI:  redirectURI,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// AuthorizeURL builds the upstream authorization URL for the second hop of
// the dance. state is the freshly signed token that will come back on the
// callback.
func (u *Upstream) AuthorizeURL(ctx context.Context, state string) (string, error) {
	metadata, err := u.fetchMetadata(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch provider metadata: %w", err)
	}

	authURL, err := url.Parse(metadata.AuthorizationEndpoint)
	if err != nil {
		return "", fmt.Errorf("invalid authorization endpoint: %w", err)
	}

	query := authURL.Query()
	query.Set("response_type", "code")
	query.Set("client_id", u.clientID)
	query.Set("redirect_uri", u.redirectURI)
	query.Set("scope", strings.Join(u.scopes, " "))
	query.Set("state", state)
	authURL.RawQuery = query.Encode()

	return authURL.String(), nil
}

// Exchange swaps an authorization code for upstream tokens.
func (u *Upstream) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	metadata, err := u.fetchMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch provider metadata: %w", err)
	}

	conf := &oauth2.Config{
		ClientID:     u.clientID,
		ClientSecret: u.clientSecret,
		RedirectURL:  u.redirectURI,
		Scopes:       u.scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  metadata.AuthorizationEndpoint,
			TokenURL: metadata.TokenEndpoint,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, u.httpClient)
	token, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}

	logging.Debug("Upstream", "Exchanged authorization code (issuer=%s, expiry=%v)", u.issuer, token.Expiry)
	return token, nil
}

// fetchMetadata returns the provider metadata, fetching it at most once
// per TTL. Concurrent fetches are deduplicated through singleflight.
func (u *Upstream) fetchMetadata(ctx context.Context) (*ProviderMetadata, error) {
	u.metadataMu.RLock()
	if u.metadata != nil && time.Since(u.metadataFetched) < metadataCacheTTL {
		defer u.metadataMu.RUnlock()
		return u.metadata, nil
	}
	u.metadataMu.RUnlock()

	result, err, _ := u.metadataGroup.Do("metadata", func() (interface{}, error) {
		// Double-check after acquiring the singleflight slot.
		u.metadataMu.RLock()
		if u.metadata != nil && time.Since(u.metadataFetched) < metadataCacheTTL {
			defer u.metadataMu.RUnlock()
			return u.metadata, nil
		}
		u.metadataMu.RUnlock()

		return u.doFetchMetadata(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*ProviderMetadata), nil
}

// doFetchMetadata fetches RFC 8414 metadata, falling back to the OpenID
// Connect discovery document when the OAuth endpoint is absent.
func (u *Upstream) doFetchMetadata(ctx context.Context) (*ProviderMetadata, error) {
	base := strings.TrimSuffix(u.issuer, "/")

	metadata, err := u.fetchMetadataFrom(ctx, base+"/.well-known/oauth-authorization-server")
	if err != nil {
		metadata, err = u.fetchMetadataFrom(ctx, base+"/.well-known/openid-configuration")
		if err != nil {
			return nil, err
		}
	}

	if metadata.AuthorizationEndpoint == "" || metadata.TokenEndpoint == "" {
		return nil, fmt.Errorf("provider metadata missing endpoints (issuer=%s)", u.issuer)
	}

	u.metadataMu.Lock()
	u.metadata = metadata
	u.metadataFetched = time.Now()
	u.metadataMu.Unlock()

	logging.Debug("Upstream", "Fetched provider metadata (auth=%s, token=%s)",
		metadata.AuthorizationEndpoint, metadata.TokenEndpoint)
	return metadata, nil
}

func (u *Upstream) fetchMetadataFrom(ctx context.Context, wellKnownURL string) (*ProviderMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnownURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata fetch failed: status=%d url=%s", resp.StatusCode, wellKnownURL)
	}

	var metadata ProviderMetadata
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to parse provider metadata: %w", err)
	}
	return &metadata, nil
}
