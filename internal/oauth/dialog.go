package oauth

import (
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net/http"
	"strings"
	"time"

	"mcpgate/internal/skills"
)

// Approval form parse errors.
var (
	ErrMethodNotAllowed = errors.New("approval form requires POST")
	ErrMissingState     = errors.New("approval form missing state field")
	ErrMissingClientID  = errors.New("approval state missing client id")
)

// maxApprovalFormMemory caps in-memory parsing of multipart approval forms.
const maxApprovalFormMemory = 1 << 20

// DialogParams carries everything the consent dialog needs. Client fields,
// server name, and skill descriptions are all treated as untrusted text;
// html/template escapes them on interpolation.
type DialogParams struct {
	Client            *ClientInfo
	ServerName        string
	ServerDescription string
	Skills            []skills.SkillDefinition
	// Req is the state bag to sign and embed as the hidden state field.
	Req []byte
	// FormAction is the path the form posts back to, normally the
	// current request path.
	FormAction string
	Secret     string
}

// ApprovalResult is the outcome of parsing a submitted consent form.
type ApprovalResult struct {
	// Payload is the verified state envelope from the hidden field.
	Payload *StatePayload
	// Request is the typed view of the embedded authorization request;
	// Bag is the same request as a mutable key-value map.
	Request *AuthRequest
	Bag     map[string]any
	// Skills are the skill ids the user checked. May be empty; the
	// at-least-one rule is enforced at the callback, not here.
	Skills []string
	// SetCookie is the Set-Cookie header value recording the approval.
	SetCookie string
}

var dialogTemplate = template.Must(template.New("approval").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>{{.ServerName}} - Authorization Request</title>
  <style>
    * { margin: 0; padding: 0; box-sizing: border-box; }
    body {
      font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Oxygen, Ubuntu, sans-serif;
      background: linear-gradient(135deg, #1a1a2e 0%, #16213e 50%, #0f3460 100%);
      min-height: 100vh;
      display: flex;
      align-items: center;
      justify-content: center;
      color: #e8e8e8;
    }
    .container {
      padding: 2.5rem;
      background: rgba(255, 255, 255, 0.05);
      border-radius: 16px;
      border: 1px solid rgba(255, 255, 255, 0.1);
      max-width: 560px;
      margin: 1rem;
    }
    h1 { font-size: 1.5rem; font-weight: 600; color: #fff; margin-bottom: 0.5rem; }
    .client-name { color: #00d4aa; font-weight: 500; }
    p { color: #a0a0a0; line-height: 1.6; margin-top: 0.75rem; }
    .skills { margin: 1.5rem 0; }
    .skill {
      display: flex;
      align-items: flex-start;
      gap: 0.75rem;
      padding: 0.75rem;
      border: 1px solid rgba(255, 255, 255, 0.1);
      border-radius: 8px;
      margin-bottom: 0.5rem;
    }
    .skill input { margin-top: 0.3rem; }
    .skill-name { color: #fff; font-weight: 500; }
    .skill-desc { color: #a0a0a0; font-size: 0.875rem; }
    .tool-count { color: #666; font-size: 0.75rem; }
    .redirect-warning {
      background: rgba(255, 193, 7, 0.1);
      border: 1px solid rgba(255, 193, 7, 0.3);
      border-radius: 8px;
      padding: 0.75rem;
      margin-top: 0.5rem;
      font-size: 0.875rem;
      color: #ffc107;
      word-break: break-all;
    }
    .links { margin-top: 1rem; font-size: 0.875rem; }
    .links a { color: #00d4aa; margin-right: 1rem; }
    .actions { display: flex; gap: 1rem; margin-top: 1.5rem; }
    button {
      flex: 1;
      padding: 0.75rem;
      border-radius: 8px;
      border: none;
      font-size: 1rem;
      cursor: pointer;
    }
    .approve { background: linear-gradient(135deg, #00d4aa 0%, #00a896 100%); color: #0f3460; font-weight: 600; }
    .cancel { background: rgba(255, 255, 255, 0.1); color: #e8e8e8; }
  </style>
</head>
<body>
  <div class="container">
    <h1>Authorization Request</h1>
    <p><span class="client-name">{{.ClientName}}</span> wants to access {{.ServerName}}.</p>
    {{if .ServerDescription}}<p>{{.ServerDescription}}</p>{{end}}

    <form method="POST" action="{{.FormAction}}">
      <input type="hidden" name="state" value="{{.StateToken}}">

      <div class="skills">
        <p>Select the skills this client may use:</p>
        {{range .Skills}}
        <label class="skill">
          <input type="checkbox" name="skill" value="{{.ID}}"{{if .DefaultEnabled}} checked{{end}}>
          <span>
            <span class="skill-name">{{.Name}}</span>
            {{if .Description}}<br><span class="skill-desc">{{.Description}}</span>{{end}}
            {{if .ToolCount}}<br><span class="tool-count">{{.ToolCount}} tools</span>{{end}}
          </span>
        </label>
        {{end}}
      </div>

      {{range .RedirectURIs}}
      <div class="redirect-warning">After approval you will be redirected to: {{.}}</div>
      {{end}}

      {{if or .PolicyURI .TosURI .ClientURI}}
      <div class="links">
        {{if .ClientURI}}<a href="{{.ClientURI}}" rel="noopener noreferrer">Website</a>{{end}}
        {{if .PolicyURI}}<a href="{{.PolicyURI}}" rel="noopener noreferrer">Privacy Policy</a>{{end}}
        {{if .TosURI}}<a href="{{.TosURI}}" rel="noopener noreferrer">Terms of Service</a>{{end}}
      </div>
      {{end}}

      <div class="actions">
        <button type="submit" class="approve">Approve</button>
        <button type="submit" class="cancel" formaction="{{.FormAction}}?cancel=1" formnovalidate>Cancel</button>
      </div>
    </form>
  </div>
</body>
</html>
`))

// dialogData is the template input. URIs go through template.URL only
// after scheme checking in safeURI; everything else is escaped by the
// template engine.
type dialogData struct {
	ServerName        string
	ServerDescription string
	ClientName        string
	ClientURI         template.URL
	PolicyURI         template.URL
	TosURI            template.URL
	RedirectURIs      []string
	Skills            []skills.SkillDefinition
	StateToken        string
	FormAction        string
}

// RenderApprovalDialog signs the request bag into a fresh state envelope
// and writes the consent page. The hidden state field is the flow's only
// checkpoint between the GET and the POST.
func RenderApprovalDialog(w http.ResponseWriter, p DialogParams) error {
	if p.Client == nil {
		return fmt.Errorf("render approval dialog: nil client")
	}

	payload := NewStatePayload(p.Req, time.Now())
	token, err := SignState(payload, p.Secret)
	if err != nil {
		return fmt.Errorf("sign dialog state: %w", err)
	}

	clientName := p.Client.ClientName
	if clientName == "" {
		clientName = p.Client.ClientID
	}

	data := dialogData{
		ServerName:        p.ServerName,
		ServerDescription: p.ServerDescription,
		ClientName:        clientName,
		ClientURI:         safeURI(p.Client.ClientURI),
		PolicyURI:         safeURI(p.Client.PolicyURI),
		TosURI:            safeURI(p.Client.TosURI),
		RedirectURIs:      p.Client.RedirectURIs,
		Skills:            p.Skills,
		StateToken:        token,
		FormAction:        p.FormAction,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	return dialogTemplate.Execute(w, data)
}

// ParseApprovalForm validates a submitted consent form: verifies the
// embedded state, collects the repeatable skill field, and records the
// approval in the signed cookie.
func ParseApprovalForm(r *http.Request, secret string) (*ApprovalResult, error) {
	if r.Method != http.MethodPost {
		return nil, ErrMethodNotAllowed
	}

	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if contentType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxApprovalFormMemory); err != nil {
			return nil, fmt.Errorf("parse approval form: %w", err)
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("parse approval form: %w", err)
		}
	}

	stateValues := r.PostForm["state"]
	if len(stateValues) != 1 || stateValues[0] == "" {
		return nil, ErrMissingState
	}

	payload, err := VerifyState(stateValues[0], secret)
	if err != nil {
		return nil, err
	}

	info, bag, err := DecodeReqInfo(payload.Req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStatePayload, err)
	}
	if info.ClientID == "" {
		return nil, ErrMissingClientID
	}

	selected := r.PostForm["skill"]
	if selected == nil {
		selected = []string{}
	}

	existing := ParseApprovedClients(r.Header.Get("Cookie"), secret)
	setCookie, err := AppendApproval(existing, info.ClientID, secret)
	if err != nil {
		return nil, fmt.Errorf("sign approval cookie: %w", err)
	}

	return &ApprovalResult{
		Payload:   payload,
		Request:   info,
		Bag:       bag,
		Skills:    selected,
		SetCookie: setCookie,
	}, nil
}

// safeURI admits only http(s) links into href attributes. Anything else
// (javascript:, data:, relative junk) renders as no link at all.
func safeURI(raw string) template.URL {
	if strings.HasPrefix(raw, "https://") || strings.HasPrefix(raw, "http://") {
		return template.URL(raw)
	}
	return ""
}
