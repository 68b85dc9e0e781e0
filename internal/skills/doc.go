// Package skills holds the permission catalog the consent dialog offers to
// the user. A skill is a named bundle of MCP tools; granting a skill grants
// the scopes it maps to. The catalog is consumed by the OAuth flow, not
// defined by it: this package only loads, validates, and serves it.
package skills
