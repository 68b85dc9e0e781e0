package oauth

import (
	"fmt"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"mcpgate/pkg/logging"
)

// ClientInfo describes a registered downstream OAuth client. All string
// fields are untrusted input as far as HTML rendering is concerned; the
// consent dialog escapes them before interpolation.
type ClientInfo struct {
	ClientID     string   `yaml:"clientId" json:"client_id"`
	ClientName   string   `yaml:"clientName" json:"client_name,omitempty"`
	RedirectURIs []string `yaml:"redirectUris" json:"redirect_uris"`
	ClientURI    string   `yaml:"clientUri" json:"client_uri,omitempty"`
	PolicyURI    string   `yaml:"policyUri" json:"policy_uri,omitempty"`
	TosURI       string   `yaml:"tosUri" json:"tos_uri,omitempty"`
}

// HasRedirectURI reports whether uri is literally present in the client's
// registered redirect URIs. The match is exact: no prefix, suffix, or
// normalization tricks.
func (c *ClientInfo) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// ClientStore is the read-only client lookup interface the handlers use.
type ClientStore interface {
	Lookup(clientID string) (*ClientInfo, bool)
}

// Registry is a YAML-backed ClientStore. The backing file can be reloaded
// while serving; lookups always see a consistent snapshot.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*ClientInfo
	path    string
}

// NewRegistry creates an empty in-memory registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*ClientInfo)}
}

// LoadRegistry reads a client registry from a YAML file.
func LoadRegistry(path string) (*Registry, error) {
	r := NewRegistry()
	r.path = path
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// registryFile is the on-disk shape of the client registry.
type registryFile struct {
	Clients []*ClientInfo `yaml:"clients"`
}

// Reload re-reads the backing file. On failure the previous snapshot stays
// active.
func (r *Registry) Reload() error {
	if r.path == "" {
		return nil
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read client registry: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse client registry %s: %w", r.path, err)
	}

	clients := make(map[string]*ClientInfo, len(file.Clients))
	for _, c := range file.Clients {
		if c.ClientID == "" {
			return fmt.Errorf("client registry %s: entry without clientId", r.path)
		}
		if len(c.RedirectURIs) == 0 {
			return fmt.Errorf("client registry %s: client %q has no redirectUris", r.path, c.ClientID)
		}
		clients[c.ClientID] = c
	}

	r.mu.Lock()
	r.clients = clients
	r.mu.Unlock()

	logging.Info("Clients", "Loaded %d registered clients from %s", len(clients), r.path)
	return nil
}

// Register adds or replaces a client in the registry.
func (r *Registry) Register(c *ClientInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ClientID] = c
}

// Lookup returns the client registered under clientID.
func (r *Registry) Lookup(clientID string) (*ClientInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[clientID]
	return c, ok
}

// Path returns the backing file path, if any.
func (r *Registry) Path() string {
	return r.path
}
