// Package oauth implements the authorization side of mcpgate: the consent
// flow that mediates between a downstream OAuth client and an upstream
// identity provider while letting the user pick a subset of permissions
// ("skills").
//
// The flow is stateless by construction. The downstream client's original
// authorization request travels through the multi-hop redirect dance inside
// an HMAC-signed, time-boxed state token:
//
//	client -> GET /oauth/authorize   (first signing, consent dialog rendered)
//	user   -> POST /oauth/authorize  (state re-signed with selected skills,
//	                                  302 to the upstream provider)
//	idp    -> GET /oauth/callback    (state verified, code exchanged,
//	                                  downstream grant issued)
//
// Nothing except the signed token itself checkpoints the flow between hops;
// there is no server-side session. A signed client-side cookie records
// which downstream clients the user has already approved, but it only
// skips re-confirmation. Access is always gated by the signed state and
// the upstream token exchange.
//
// Subcomponents:
//
//   - state.go: the HMAC-SHA256 state codec ("<sig-hex>.<base64-json>")
//   - approval.go: the signed approved-clients cookie codec
//   - resource.go: RFC 8707 resource parameter validation
//   - dialog.go: consent dialog rendering and form parsing
//   - clients.go: the downstream client registry
//   - upstream.go: upstream provider discovery and code exchange
//   - grants.go: downstream grant issuance after a successful callback
//   - authorize.go, callback.go, token.go: the HTTP handlers
package oauth
