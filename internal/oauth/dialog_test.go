package oauth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"mcpgate/internal/skills"
)

var hiddenStatePattern = regexp.MustCompile(`name="state" value="([^"]+)"`)

func testDialogParams(t *testing.T, client *ClientInfo) DialogParams {
	t.Helper()
	req, err := WrapReqInfo(AuthRequest{
		ClientID:    client.ClientID,
		RedirectURI: "https://ex.com/cb",
		Scope:       []string{"read"},
	})
	if err != nil {
		t.Fatalf("WrapReqInfo failed: %v", err)
	}
	return DialogParams{
		Client:     client,
		ServerName: "mcpgate",
		Skills: []skills.SkillDefinition{
			{ID: "triage", Name: "Triage", Description: "Inspect incoming issues", DefaultEnabled: true, ToolCount: 3},
			{ID: "project-management", Name: "Project Management"},
		},
		Req:        req,
		FormAction: "/oauth/authorize",
		Secret:     testSecret,
	}
}

func TestDialog_RenderContainsFormAndState(t *testing.T) {
	client := &ClientInfo{
		ClientID:     "c1",
		ClientName:   "Example Client",
		RedirectURIs: []string{"https://ex.com/cb"},
		ClientURI:    "https://ex.com",
	}

	rec := httptest.NewRecorder()
	if err := RenderApprovalDialog(rec, testDialogParams(t, client)); err != nil {
		t.Fatalf("RenderApprovalDialog failed: %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}

	body := rec.Body.String()
	for _, want := range []string{
		`method="POST" action="/oauth/authorize"`,
		`Example Client`,
		`name="skill" value="triage" checked`,
		`name="skill" value="project-management"`,
		`Inspect incoming issues`,
		`3 tools`,
		`https://ex.com/cb`,
		`href="https://ex.com"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Rendered dialog missing %q", want)
		}
	}

	m := hiddenStatePattern.FindStringSubmatch(body)
	if m == nil {
		t.Fatal("Rendered dialog has no hidden state field")
	}
	payload, err := VerifyState(m[1], testSecret)
	if err != nil {
		t.Fatalf("Embedded state does not verify: %v", err)
	}
	info, _, err := DecodeReqInfo(payload.Req)
	if err != nil {
		t.Fatalf("Embedded state req does not decode: %v", err)
	}
	if info.ClientID != "c1" {
		t.Errorf("Embedded clientId = %q, want c1", info.ClientID)
	}
}

func TestDialog_RenderEscapesUntrustedText(t *testing.T) {
	client := &ClientInfo{
		ClientID:     "c1",
		ClientName:   `<script>alert("x")</script>`,
		RedirectURIs: []string{"https://ex.com/cb"},
	}
	p := testDialogParams(t, client)
	p.Skills = []skills.SkillDefinition{{ID: "triage", Name: "Tri&age", Description: `"quoted" <desc>`}}

	rec := httptest.NewRecorder()
	if err := RenderApprovalDialog(rec, p); err != nil {
		t.Fatalf("RenderApprovalDialog failed: %v", err)
	}

	body := rec.Body.String()
	if strings.Contains(body, `<script>alert`) {
		t.Error("Client name was not escaped")
	}
	if strings.Contains(body, `<desc>`) {
		t.Error("Skill description was not escaped")
	}
	if !strings.Contains(body, "&lt;script&gt;") {
		t.Error("Expected entity-escaped client name in output")
	}
}

func TestDialog_RenderDropsUnsafeLinkSchemes(t *testing.T) {
	client := &ClientInfo{
		ClientID:     "c1",
		RedirectURIs: []string{"https://ex.com/cb"},
		ClientURI:    "javascript:alert(1)",
		PolicyURI:    "https://ex.com/policy",
	}

	rec := httptest.NewRecorder()
	if err := RenderApprovalDialog(rec, testDialogParams(t, client)); err != nil {
		t.Fatalf("RenderApprovalDialog failed: %v", err)
	}

	body := rec.Body.String()
	if strings.Contains(body, "javascript:") {
		t.Error("javascript: URI leaked into the page")
	}
	if !strings.Contains(body, `href="https://ex.com/policy"`) {
		t.Error("Expected https policy link to render")
	}
}

func TestDialog_RenderFallsBackToClientID(t *testing.T) {
	client := &ClientInfo{ClientID: "c1", RedirectURIs: []string{"https://ex.com/cb"}}

	rec := httptest.NewRecorder()
	if err := RenderApprovalDialog(rec, testDialogParams(t, client)); err != nil {
		t.Fatalf("RenderApprovalDialog failed: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `<span class="client-name">c1</span>`) {
		t.Error("Expected client id shown when client name is empty")
	}
}

func TestDialog_RenderNilClient(t *testing.T) {
	rec := httptest.NewRecorder()
	err := RenderApprovalDialog(rec, DialogParams{Secret: testSecret})
	if err == nil {
		t.Fatal("Expected error for nil client")
	}
}

// postApprovalForm builds the POST a browser would send after the dialog.
func postApprovalForm(t *testing.T, state string, skills []string, cookie string) *http.Request {
	t.Helper()
	form := url.Values{}
	if state != "" {
		form.Set("state", state)
	}
	for _, s := range skills {
		form.Add("skill", s)
	}
	r := httptest.NewRequest(http.MethodPost, "https://gw.example.com/oauth/authorize", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cookie != "" {
		r.Header.Set("Cookie", cookie)
	}
	return r
}

func signedDialogState(t *testing.T, info AuthRequest) string {
	t.Helper()
	req, err := WrapReqInfo(info)
	if err != nil {
		t.Fatalf("WrapReqInfo failed: %v", err)
	}
	token, err := SignState(NewStatePayload(req, time.Now()), testSecret)
	if err != nil {
		t.Fatalf("SignState failed: %v", err)
	}
	return token
}

func TestDialog_ParseApprovalForm(t *testing.T) {
	state := signedDialogState(t, AuthRequest{ClientID: "c1", RedirectURI: "https://ex.com/cb", Scope: []string{"read"}})
	r := postApprovalForm(t, state, []string{"triage", "project-management"}, "")

	result, err := ParseApprovalForm(r, testSecret)
	if err != nil {
		t.Fatalf("ParseApprovalForm failed: %v", err)
	}

	if result.Request.ClientID != "c1" {
		t.Errorf("ClientID = %q, want c1", result.Request.ClientID)
	}
	if len(result.Skills) != 2 || result.Skills[0] != "triage" || result.Skills[1] != "project-management" {
		t.Errorf("Skills = %v, want [triage project-management]", result.Skills)
	}
	if result.SetCookie == "" {
		t.Error("Expected a Set-Cookie value recording the approval")
	}
	if !IsApproved(strings.SplitN(result.SetCookie, ";", 2)[0], "c1", testSecret) {
		t.Error("Set-Cookie does not record c1 as approved")
	}
}

func TestDialog_ParseApprovalFormNoSkills(t *testing.T) {
	state := signedDialogState(t, AuthRequest{ClientID: "c1", RedirectURI: "https://ex.com/cb"})
	r := postApprovalForm(t, state, nil, "")

	result, err := ParseApprovalForm(r, testSecret)
	if err != nil {
		t.Fatalf("ParseApprovalForm failed: %v", err)
	}
	if result.Skills == nil || len(result.Skills) != 0 {
		t.Errorf("Skills = %#v, want empty non-nil slice", result.Skills)
	}
}

func TestDialog_ParseApprovalFormErrors(t *testing.T) {
	validState := signedDialogState(t, AuthRequest{ClientID: "c1"})

	t.Run("wrong method", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "https://gw.example.com/oauth/authorize", nil)
		if _, err := ParseApprovalForm(r, testSecret); !errors.Is(err, ErrMethodNotAllowed) {
			t.Errorf("err = %v, want ErrMethodNotAllowed", err)
		}
	})

	t.Run("missing state", func(t *testing.T) {
		r := postApprovalForm(t, "", []string{"triage"}, "")
		if _, err := ParseApprovalForm(r, testSecret); !errors.Is(err, ErrMissingState) {
			t.Errorf("err = %v, want ErrMissingState", err)
		}
	})

	t.Run("duplicate state", func(t *testing.T) {
		form := url.Values{}
		form.Add("state", validState)
		form.Add("state", validState)
		r := httptest.NewRequest(http.MethodPost, "https://gw.example.com/oauth/authorize", strings.NewReader(form.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if _, err := ParseApprovalForm(r, testSecret); !errors.Is(err, ErrMissingState) {
			t.Errorf("err = %v, want ErrMissingState", err)
		}
	})

	t.Run("tampered state", func(t *testing.T) {
		tampered := []byte(validState)
		if tampered[0] == '0' {
			tampered[0] = '1'
		} else {
			tampered[0] = '0'
		}
		r := postApprovalForm(t, string(tampered), []string{"triage"}, "")
		if _, err := ParseApprovalForm(r, testSecret); !errors.Is(err, ErrStateSignature) {
			t.Errorf("err = %v, want ErrStateSignature", err)
		}
	})

	t.Run("missing client id", func(t *testing.T) {
		state := signedDialogState(t, AuthRequest{RedirectURI: "https://ex.com/cb"})
		r := postApprovalForm(t, state, nil, "")
		if _, err := ParseApprovalForm(r, testSecret); !errors.Is(err, ErrMissingClientID) {
			t.Errorf("err = %v, want ErrMissingClientID", err)
		}
	})
}

func TestDialog_ParseApprovalFormPreservesUnknownFields(t *testing.T) {
	req, err := WrapReqInfo(map[string]any{
		"clientId":  "c1",
		"extraProp": "keep-me",
	})
	if err != nil {
		t.Fatalf("WrapReqInfo failed: %v", err)
	}
	token, err := SignState(NewStatePayload(req, time.Now()), testSecret)
	if err != nil {
		t.Fatalf("SignState failed: %v", err)
	}

	r := postApprovalForm(t, token, nil, "")
	result, err := ParseApprovalForm(r, testSecret)
	if err != nil {
		t.Fatalf("ParseApprovalForm failed: %v", err)
	}
	if result.Bag["extraProp"] != "keep-me" {
		t.Errorf("Bag = %v, expected extraProp to survive", result.Bag)
	}

	raw, err := json.Marshal(result.Bag)
	if err != nil {
		t.Fatalf("Marshal bag failed: %v", err)
	}
	if !strings.Contains(string(raw), "keep-me") {
		t.Errorf("Re-marshalled bag dropped unknown field: %s", raw)
	}
}
