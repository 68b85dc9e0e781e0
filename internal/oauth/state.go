package oauth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// StateTTL is the validity window of a signed state token. Each hop of the
// redirect dance re-signs a fresh token, so the window only has to cover a
// single hop (consent dialog, or the round trip through the identity
// provider).
const StateTTL = 10 * time.Minute

// State codec errors. Handlers match on these with errors.Is rather than
// inspecting message text.
var (
	ErrStateFormat    = errors.New("state token format invalid")
	ErrStateSignature = errors.New("state signature mismatch")
	ErrStateExpired   = errors.New("state token expired")
	ErrStatePayload   = errors.New("state payload malformed")
)

// StatePayload is the signed envelope carried through the redirect dance.
// Req is the downstream client's authorization request and is transported
// opaquely: the codec authenticates its bytes but never reinterprets them.
// The payload is authenticated, not encrypted, and must not contain secrets.
type StatePayload struct {
	Req       json.RawMessage `json:"req"`
	IssuedAt  int64           `json:"iat"` // milliseconds since epoch
	ExpiresAt int64           `json:"exp"` // milliseconds since epoch
}

// NewStatePayload wraps req in an envelope with fresh iat/exp timestamps.
func NewStatePayload(req json.RawMessage, now time.Time) StatePayload {
	return StatePayload{
		Req:       req,
		IssuedAt:  now.UnixMilli(),
		ExpiresAt: now.Add(StateTTL).UnixMilli(),
	}
}

// SignState serializes the payload to JSON, computes an HMAC-SHA256 over
// the JSON bytes with the given secret, and returns the compact token
// "<signature-hex>.<base64-payload>". The same wire format is shared by
// every deploy that holds the same secret.
func SignState(payload StatePayload, secret string) (string, error) {
	if len(payload.Req) == 0 {
		return "", fmt.Errorf("%w: empty req", ErrStatePayload)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal state payload: %w", err)
	}
	return signHex(data, secret) + "." + base64.StdEncoding.EncodeToString(data), nil
}

// VerifyState checks a compact token's format, signature, schema, and
// expiry, in that order, and returns the decoded payload. Parsing only
// happens after the signature matched, so a forged payload is never
// unmarshaled.
func VerifyState(token, secret string) (*StatePayload, error) {
	return verifyStateAt(token, secret, time.Now())
}

func verifyStateAt(token, secret string, now time.Time) (*StatePayload, error) {
	sigHex, encoded, ok := strings.Cut(token, ".")
	if !ok || sigHex == "" || encoded == "" || strings.Contains(encoded, ".") {
		return nil, ErrStateFormat
	}

	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return nil, ErrStateFormat
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrStateFormat
	}

	if !hmac.Equal(sig, computeHMAC(data, secret)) {
		return nil, ErrStateSignature
	}

	// Schema validation happens after the signature check. Pointer fields
	// distinguish absent timestamps from zero values.
	var raw struct {
		Req       json.RawMessage `json:"req"`
		IssuedAt  *int64          `json:"iat"`
		ExpiresAt *int64          `json:"exp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStatePayload, err)
	}
	if len(raw.Req) == 0 || !isJSONObject(raw.Req) {
		return nil, fmt.Errorf("%w: missing req", ErrStatePayload)
	}
	if raw.IssuedAt == nil || raw.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing iat/exp", ErrStatePayload)
	}

	if *raw.ExpiresAt <= now.UnixMilli() {
		return nil, ErrStateExpired
	}

	return &StatePayload{
		Req:       raw.Req,
		IssuedAt:  *raw.IssuedAt,
		ExpiresAt: *raw.ExpiresAt,
	}, nil
}

// signHex returns the hex-encoded HMAC-SHA256 of data under secret.
func signHex(data []byte, secret string) string {
	return hex.EncodeToString(computeHMAC(data, secret))
}

func computeHMAC(data []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return mac.Sum(nil)
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}
