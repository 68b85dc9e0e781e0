package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"mcpgate/pkg/logging"
)

const (
	userConfigDir  = ".config/mcpgate"
	configFileName = "config.yaml"

	// Environment overrides for material that should not live in a file.
	envCookieSecret         = "MCPGATE_COOKIE_SECRET"
	envUpstreamClientSecret = "MCPGATE_UPSTREAM_CLIENT_SECRET"
)

// Config is the top-level configuration for mcpgate.
type Config struct {
	Server ServerConfig `yaml:"server"`
	OAuth  OAuthConfig  `yaml:"oauth"`
	MCP    MCPConfig    `yaml:"mcp"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"` // bind host (default: localhost)
	Port int    `yaml:"port,omitempty"` // bind port (default: 8787)

	// BaseURL is the public URL of this deployment, used for the
	// upstream redirect URI. HTTPS outside of localhost.
	BaseURL string `yaml:"baseUrl,omitempty"`
}

// OAuthConfig configures the consent flow.
type OAuthConfig struct {
	// CookieSecret signs both the state tokens and the approval cookie.
	// Overridable via MCPGATE_COOKIE_SECRET.
	CookieSecret string `yaml:"cookieSecret,omitempty"`

	// ServerName and ServerDescription brand the consent dialog.
	ServerName        string `yaml:"serverName,omitempty"`
	ServerDescription string `yaml:"serverDescription,omitempty"`

	// ClientsFile and SkillsFile are YAML files holding the downstream
	// client registry and the skill catalog. Relative paths resolve
	// against the config directory. Both are hot-reloaded on change.
	ClientsFile string `yaml:"clientsFile,omitempty"`
	SkillsFile  string `yaml:"skillsFile,omitempty"`

	Upstream UpstreamConfig `yaml:"upstream"`
}

// UpstreamConfig configures the identity provider this gateway fronts.
type UpstreamConfig struct {
	Issuer       string `yaml:"issuer"`
	ClientID     string `yaml:"clientId"`
	ClientSecret string `yaml:"clientSecret,omitempty"` // or MCPGATE_UPSTREAM_CLIENT_SECRET

	// Scopes is the fixed scope list requested upstream regardless of
	// which skills the user granted downstream.
	Scopes []string `yaml:"scopes,omitempty"`
}

// MCPConfig points at the MCP server whose tools the skills bundle.
type MCPConfig struct {
	// Endpoint is the streamable HTTP endpoint used to enrich the skill
	// catalog with live tool counts. Optional.
	Endpoint string `yaml:"endpoint,omitempty"`
}

// GetDefaultConfigPathOrPanic returns the per-user config directory.
func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}
	return filepath.Join(homeDir, userConfigDir)
}

// GetDefaultConfig returns the built-in defaults.
func GetDefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:    "localhost",
			Port:    8787,
			BaseURL: "http://localhost:8787",
		},
		OAuth: OAuthConfig{
			ServerName:  "mcpgate",
			ClientsFile: "clients.yaml",
			SkillsFile:  "skills.yaml",
		},
	}
}

// LoadConfig loads configuration from the given directory. A missing
// config.yaml yields the defaults; a malformed one is an error.
func LoadConfig(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			applyEnvOverrides(&config)
			return config, nil
		}
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
	}

	applyEnvOverrides(&config)
	resolvePaths(&config, configPath)

	logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	return config, nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv(envCookieSecret); v != "" {
		config.OAuth.CookieSecret = v
	}
	if v := os.Getenv(envUpstreamClientSecret); v != "" {
		config.OAuth.Upstream.ClientSecret = v
	}
}

func resolvePaths(config *Config, configPath string) {
	if config.OAuth.ClientsFile != "" && !filepath.IsAbs(config.OAuth.ClientsFile) {
		config.OAuth.ClientsFile = filepath.Join(configPath, config.OAuth.ClientsFile)
	}
	if config.OAuth.SkillsFile != "" && !filepath.IsAbs(config.OAuth.SkillsFile) {
		config.OAuth.SkillsFile = filepath.Join(configPath, config.OAuth.SkillsFile)
	}
}

// Validate checks the configuration for everything serving requires.
func (c *Config) Validate() error {
	if c.OAuth.CookieSecret == "" {
		return fmt.Errorf("oauth.cookieSecret is required (or set %s)", envCookieSecret)
	}
	if c.OAuth.Upstream.Issuer == "" {
		return errors.New("oauth.upstream.issuer is required")
	}
	if c.OAuth.Upstream.ClientID == "" {
		return errors.New("oauth.upstream.clientId is required")
	}
	if c.OAuth.ClientsFile == "" {
		return errors.New("oauth.clientsFile is required")
	}
	if c.OAuth.SkillsFile == "" {
		return errors.New("oauth.skillsFile is required")
	}
	return validateBaseURL(c.Server.BaseURL)
}

// validateBaseURL enforces OAuth 2.1 HTTPS compliance: HTTP is allowed for
// loopback addresses only.
func validateBaseURL(baseURL string) error {
	if baseURL == "" {
		return errors.New("server.baseUrl is required")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid server.baseUrl: %w", err)
	}

	switch u.Scheme {
	case "https":
		return nil
	case "http":
		host := u.Hostname()
		if host == "localhost" || host == "127.0.0.1" || host == "::1" {
			return nil
		}
		return fmt.Errorf("server.baseUrl must use HTTPS outside of localhost (got %s)", baseURL)
	default:
		return fmt.Errorf("invalid server.baseUrl scheme: %s", u.Scheme)
	}
}
