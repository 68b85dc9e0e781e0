package oauth

import (
	"encoding/json"
	"fmt"
)

// AuthRequest is the typed view of the downstream client's authorization
// request as carried inside the signed state under the "oauthReqInfo" key.
// The state codec transports the request opaquely; this view exists so the
// handlers can read the fields they police (client id, redirect URI,
// resource, skills) without owning the whole bag.
type AuthRequest struct {
	ClientID            string   `json:"clientId"`
	RedirectURI         string   `json:"redirectUri"`
	ResponseType        string   `json:"responseType,omitempty"`
	Scope               []string `json:"scope,omitempty"`
	State               string   `json:"state,omitempty"`
	CodeChallenge       string   `json:"codeChallenge,omitempty"`
	CodeChallengeMethod string   `json:"codeChallengeMethod,omitempty"`
	Resource            string   `json:"resource,omitempty"`
	Skills              []string `json:"skills,omitempty"`
}

// reqEnvelope is the shape of the state's req field.
type reqEnvelope struct {
	OAuthReqInfo json.RawMessage `json:"oauthReqInfo"`
}

// WrapReqInfo builds the state req bag {"oauthReqInfo": info}.
func WrapReqInfo(info any) (json.RawMessage, error) {
	raw, err := json.Marshal(map[string]any{"oauthReqInfo": info})
	if err != nil {
		return nil, fmt.Errorf("marshal request envelope: %w", err)
	}
	return raw, nil
}

// DecodeReqInfo extracts the oauthReqInfo entry from a state req bag. It
// returns both the typed view and the raw bag so a handler can modify the
// request (attach skills) without dropping fields it does not know about.
func DecodeReqInfo(req json.RawMessage) (*AuthRequest, map[string]any, error) {
	var env reqEnvelope
	if err := json.Unmarshal(req, &env); err != nil {
		return nil, nil, fmt.Errorf("decode request envelope: %w", err)
	}
	if len(env.OAuthReqInfo) == 0 {
		return nil, nil, fmt.Errorf("request envelope has no oauthReqInfo")
	}

	var info AuthRequest
	if err := json.Unmarshal(env.OAuthReqInfo, &info); err != nil {
		return nil, nil, fmt.Errorf("decode oauthReqInfo: %w", err)
	}

	var bag map[string]any
	if err := json.Unmarshal(env.OAuthReqInfo, &bag); err != nil {
		return nil, nil, fmt.Errorf("decode oauthReqInfo bag: %w", err)
	}

	return &info, bag, nil
}
