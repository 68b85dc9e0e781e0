package oauth

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"mcpgate/pkg/logging"
)

const (
	// grantCodeTTL is how long a downstream authorization code stays
	// redeemable.
	grantCodeTTL = 5 * time.Minute

	// accessTokenTTL is the lifetime of a downstream access token.
	accessTokenTTL = time.Hour

	grantCleanupInterval = time.Minute
)

// Grant is a completed downstream authorization: the user approved the
// client, picked skills, and the upstream exchange succeeded. It carries
// the props bag handed to the downstream client at token redemption.
type Grant struct {
	UserID        string
	ClientID      string
	Scope         []string
	GrantedSkills []string
	GrantedScopes []string

	// Upstream token material.
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time

	CreatedAt time.Time
	ExpiresAt time.Time
}

// GrantStore holds pending authorization codes and issued downstream
// access tokens in memory. Codes are single use.
type GrantStore struct {
	mu     sync.RWMutex
	codes  map[string]*Grant
	tokens map[string]*Grant

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewGrantStore creates a grant store and starts its background cleanup
// goroutine.
func NewGrantStore() *GrantStore {
	gs := &GrantStore{
		codes:       make(map[string]*Grant),
		tokens:      make(map[string]*Grant),
		stopCleanup: make(chan struct{}),
	}
	go gs.cleanupLoop()
	return gs
}

// IssueCode mints a single-use authorization code for the grant.
func (gs *GrantStore) IssueCode(grant *Grant) string {
	code := uuid.NewString()
	now := time.Now()
	grant.CreatedAt = now
	grant.ExpiresAt = now.Add(grantCodeTTL)

	gs.mu.Lock()
	gs.codes[code] = grant
	gs.mu.Unlock()

	logging.Debug("Grants", "Issued authorization code for client=%s skills=%d", grant.ClientID, len(grant.GrantedSkills))
	return code
}

// RedeemCode consumes an authorization code. The code is removed on the
// first redemption regardless of outcome; a replay gets nothing.
func (gs *GrantStore) RedeemCode(code string) (*Grant, bool) {
	gs.mu.Lock()
	grant, ok := gs.codes[code]
	if ok {
		delete(gs.codes, code)
	}
	gs.mu.Unlock()

	if !ok {
		return nil, false
	}
	if time.Now().After(grant.ExpiresAt) {
		logging.Warn("Grants", "Rejected expired authorization code for client=%s", grant.ClientID)
		return nil, false
	}
	return grant, true
}

// IssueAccessToken mints a downstream bearer token for a redeemed grant.
// Returns the token and its lifetime.
func (gs *GrantStore) IssueAccessToken(grant *Grant) (string, time.Duration) {
	token := uuid.NewString()
	tokenGrant := *grant
	tokenGrant.ExpiresAt = time.Now().Add(accessTokenTTL)

	gs.mu.Lock()
	gs.tokens[token] = &tokenGrant
	gs.mu.Unlock()

	return token, accessTokenTTL
}

// LookupAccessToken resolves a downstream bearer token to its grant.
func (gs *GrantStore) LookupAccessToken(token string) (*Grant, bool) {
	gs.mu.RLock()
	grant, ok := gs.tokens[token]
	gs.mu.RUnlock()

	if !ok || time.Now().After(grant.ExpiresAt) {
		return nil, false
	}
	return grant, true
}

// Count returns the number of pending codes and live tokens.
func (gs *GrantStore) Count() (codes, tokens int) {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	return len(gs.codes), len(gs.tokens)
}

// Stop stops the background cleanup goroutine.
func (gs *GrantStore) Stop() {
	gs.stopOnce.Do(func() { close(gs.stopCleanup) })
}

func (gs *GrantStore) cleanupLoop() {
	ticker := time.NewTicker(grantCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			gs.cleanup()
		case <-gs.stopCleanup:
			return
		}
	}
}

func (gs *GrantStore) cleanup() {
	now := time.Now()

	gs.mu.Lock()
	defer gs.mu.Unlock()

	count := 0
	for code, grant := range gs.codes {
		if now.After(grant.ExpiresAt) {
			delete(gs.codes, code)
			count++
		}
	}
	for token, grant := range gs.tokens {
		if now.After(grant.ExpiresAt) {
			delete(gs.tokens, token)
			count++
		}
	}

	if count > 0 {
		logging.Debug("Grants", "Cleaned up %d expired grants", count)
	}
}
