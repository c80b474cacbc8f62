package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"brandlift/api/internal/auth"
)

type httpFixture struct {
	t      *testing.T
	server http.Handler
}

func newHTTPFixture(t *testing.T) *httpFixture {
	t.Helper()
	svc, _ := newTestService(t)
	return &httpFixture{t: t, server: NewHTTPServer(svc, []string{"*"}, zerolog.Nop()).Handler()}
}

func (f *httpFixture) token(orgID, role string, superAdmin bool) string {
	f.t.Helper()
	token, err := auth.IssueToken([]byte("test-secret"), auth.NewClaims("user-"+orgID+"-"+role, "Tester", orgID, role, superAdmin, time.Hour))
	if err != nil {
		f.t.Fatalf("issue token: %v", err)
	}
	return token
}

func (f *httpFixture) do(method, path, token, body string, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	f.t.Helper()
	var reader *bytes.Buffer
	if body == "" {
		reader = &bytes.Buffer{}
	} else {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	f.server.ServeHTTP(rr, req)

	var payload map[string]any
	if rr.Header().Get("Content-Type") == "application/json" && rr.Body.Len() > 0 {
		_ = json.Unmarshal(rr.Body.Bytes(), &payload)
	}
	return rr, payload
}

func (f *httpFixture) expect(rr *httptest.ResponseRecorder, status int) {
	f.t.Helper()
	if rr.Code != status {
		f.t.Fatalf("expected status %d, got %d body=%s", status, rr.Code, rr.Body.String())
	}
}

func nestedID(payload map[string]any, key string) string {
	obj, _ := payload[key].(map[string]any)
	id, _ := obj["id"].(string)
	return id
}

func TestHealthIsPublic(t *testing.T) {
	f := newHTTPFixture(t)
	rr, payload := f.do(http.MethodGet, "/api/health", "", "")
	f.expect(rr, http.StatusOK)
	if payload["ok"] != true {
		t.Fatalf("expected ok=true, got %v", payload)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}

	rr, _ = f.do(http.MethodGet, "/api/ready", "", "")
	f.expect(rr, http.StatusOK)
}

func TestRequestsWithoutTokenAreUnauthorized(t *testing.T) {
	f := newHTTPFixture(t)
	rr, payload := f.do(http.MethodGet, "/api/studies", "", "")
	f.expect(rr, http.StatusUnauthorized)
	if payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED code, got %v", payload["code"])
	}

	rr, _ = f.do(http.MethodGet, "/api/studies", "not-a-token", "")
	f.expect(rr, http.StatusUnauthorized)
}

func TestLogoutRevokesToken(t *testing.T) {
	f := newHTTPFixture(t)
	token := f.token("org-a", "editor", false)

	rr, payload := f.do(http.MethodGet, "/api/session", token, "")
	f.expect(rr, http.StatusOK)
	if payload["authenticated"] != true || payload["orgId"] != "org-a" {
		t.Fatalf("unexpected session payload %v", payload)
	}

	rr, _ = f.do(http.MethodPost, "/api/session/logout", token, "")
	f.expect(rr, http.StatusOK)

	rr, _ = f.do(http.MethodGet, "/api/studies", token, "")
	f.expect(rr, http.StatusUnauthorized)
	_, payload = f.do(http.MethodGet, "/api/session", token, "")
	if payload["authenticated"] != false {
		t.Fatalf("expected revoked session to be unauthenticated, got %v", payload)
	}
}

func TestStudyStructureOverHTTP(t *testing.T) {
	f := newHTTPFixture(t)
	token := f.token("org-a", "admin", false)

	rr, payload := f.do(http.MethodPost, "/api/studies", token, `{"name":"Launch lift","funnelStage":"MID_FUNNEL"}`)
	f.expect(rr, http.StatusCreated)
	studyID := nestedID(payload, "study")

	var questionIDs []string
	for i, text := range []string{"Aware?", "Consider?", "Intent?"} {
		body := `{"text":"` + text + `","questionType":"SINGLE_CHOICE","order":` + strconv.Itoa(i) + `}`
		rr, payload = f.do(http.MethodPost, "/api/studies/"+studyID+"/questions", token, body)
		f.expect(rr, http.StatusCreated)
		questionIDs = append(questionIDs, nestedID(payload, "question"))
	}

	rr, payload = f.do(http.MethodPost, "/api/studies/"+studyID+"/questions/"+questionIDs[0]+"/options", token, `{"text":"Yes","order":0}`)
	f.expect(rr, http.StatusCreated)
	optionID := nestedID(payload, "option")

	rr, payload = f.do(http.MethodPatch, "/api/questions/"+questionIDs[0], token, `{"text":"Aware of brand?","order":5}`)
	f.expect(rr, http.StatusUnprocessableEntity)
	details, _ := payload["details"].(map[string]any)
	if details["field"] != "order" {
		t.Fatalf("expected order field rejection, got %v", payload)
	}

	rr, _ = f.do(http.MethodPatch, "/api/options/"+optionID, token, `{"order":2}`)
	f.expect(rr, http.StatusUnprocessableEntity)

	rr, payload = f.do(http.MethodGet, "/api/studies/"+studyID, token, "")
	f.expect(rr, http.StatusOK)
	st, _ := payload["study"].(map[string]any)
	version := int(st["structureVersion"].(float64))

	reorder := `[{"id":"` + questionIDs[0] + `","order":2},{"id":"` + questionIDs[2] + `","order":0}]`
	rr, _ = f.do(http.MethodPatch, "/api/studies/"+studyID+"/questions/reorder", token, reorder, "If-Match", strconv.Quote(strconv.Itoa(version+3)))
	f.expect(rr, http.StatusConflict)

	rr, payload = f.do(http.MethodPatch, "/api/studies/"+studyID+"/questions/reorder", token, reorder, "If-Match", strconv.Quote(strconv.Itoa(version)))
	f.expect(rr, http.StatusOK)
	if rr.Header().Get("ETag") != strconv.Quote(strconv.Itoa(version+1)) {
		t.Fatalf("expected ETag for version %d, got %q", version+1, rr.Header().Get("ETag"))
	}
	questions, _ := payload["questions"].([]any)
	if len(questions) != 3 {
		t.Fatalf("expected 3 questions, got %v", payload)
	}
	first, _ := questions[0].(map[string]any)
	if first["id"] != questionIDs[2] {
		t.Fatalf("expected %s first, got %v", questionIDs[2], first["id"])
	}

	rr, _ = f.do(http.MethodPatch, "/api/studies/"+studyID+"/questions/"+questionIDs[0]+"/options/reorder", token,
		`{"items":[{"id":"`+optionID+`","order":4}]}`)
	f.expect(rr, http.StatusOK)

	rr, payload = f.do(http.MethodGet, "/api/studies/"+studyID+"/events", token, "")
	f.expect(rr, http.StatusOK)
	if events, _ := payload["events"].([]any); len(events) < 6 {
		t.Fatalf("expected audit events, got %v", payload)
	}
}

func TestStudyPatchDispatchesTransitions(t *testing.T) {
	f := newHTTPFixture(t)
	token := f.token("org-a", "admin", false)

	_, payload := f.do(http.MethodPost, "/api/studies", token, `{"name":"Holiday lift"}`)
	studyID := nestedID(payload, "study")
	rr, _ := f.do(http.MethodPost, "/api/studies/"+studyID+"/questions", token, `{"text":"Seen it?","questionType":"SINGLE_CHOICE","order":0}`)
	f.expect(rr, http.StatusCreated)

	rr, payload = f.do(http.MethodPatch, "/api/studies/"+studyID, token, `{"status":"APPROVED"}`)
	f.expect(rr, http.StatusConflict)
	if payload["code"] != "INVALID_TRANSITION" {
		t.Fatalf("expected INVALID_TRANSITION, got %v", payload)
	}

	rr, _ = f.do(http.MethodPatch, "/api/studies/"+studyID, token, `{"status":"PENDING_APPROVAL","name":"Renamed"}`)
	f.expect(rr, http.StatusUnprocessableEntity)

	rr, payload = f.do(http.MethodPatch, "/api/studies/"+studyID, token, `{"status":"PENDING_APPROVAL"}`)
	f.expect(rr, http.StatusOK)
	st, _ := payload["study"].(map[string]any)
	if st["status"] != "PENDING_APPROVAL" {
		t.Fatalf("expected PENDING_APPROVAL, got %v", st["status"])
	}

	rr, _ = f.do(http.MethodPost, "/api/studies/"+studyID+"/questions", token, `{"text":"Reviewer follow-up","questionType":"SINGLE_CHOICE","order":1}`)
	f.expect(rr, http.StatusCreated)

	rr, _ = f.do(http.MethodPatch, "/api/studies/"+studyID, token, `{"status":"APPROVED"}`)
	f.expect(rr, http.StatusOK)

	rr, payload = f.do(http.MethodPost, "/api/studies/"+studyID+"/questions", token, `{"text":"Late","questionType":"SINGLE_CHOICE","order":2}`)
	f.expect(rr, http.StatusConflict)
	if payload["code"] != "STUDY_NOT_EDITABLE" {
		t.Fatalf("expected STUDY_NOT_EDITABLE, got %v", payload)
	}

	rr, payload = f.do(http.MethodGet, "/api/studies/"+studyID+"/revisions", token, "")
	f.expect(rr, http.StatusOK)
	if revisions, _ := payload["revisions"].([]any); len(revisions) != 1 {
		t.Fatalf("expected one archived revision, got %v", payload)
	}
}

func TestCrossTenantRequestsAreForbidden(t *testing.T) {
	f := newHTTPFixture(t)
	owner := f.token("org-a", "admin", false)
	intruder := f.token("org-b", "admin", false)

	_, payload := f.do(http.MethodPost, "/api/studies", owner, `{"name":"Private"}`)
	studyID := nestedID(payload, "study")

	for _, tc := range []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/api/studies/" + studyID, ""},
		{http.MethodPost, "/api/studies/" + studyID + "/questions", `{"text":"x","questionType":"SINGLE_CHOICE","order":0}`},
		{http.MethodPatch, "/api/studies/" + studyID, `{"name":"Mine now"}`},
		{http.MethodGet, "/api/studies/" + studyID + "/export?format=json", ""},
		{http.MethodGet, "/api/admin/studies/" + studyID + "/export?format=json", ""},
	} {
		rr, _ := f.do(tc.method, tc.path, intruder, tc.body)
		f.expect(rr, http.StatusForbidden)
	}

	root := f.token("", "admin", true)
	rr, _ := f.do(http.MethodGet, "/api/admin/studies/"+studyID+"/export?format=json", root, "")
	f.expect(rr, http.StatusOK)
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json export, got %q", ct)
	}
}

func TestMalformedBodiesAreRejected(t *testing.T) {
	f := newHTTPFixture(t)
	token := f.token("org-a", "editor", false)

	rr, payload := f.do(http.MethodPost, "/api/studies", token, `{"name":`)
	f.expect(rr, http.StatusBadRequest)
	if payload["code"] != "INVALID_BODY" {
		t.Fatalf("expected INVALID_BODY, got %v", payload)
	}

	_, payload = f.do(http.MethodPost, "/api/studies", token, `{"name":"Valid"}`)
	studyID := nestedID(payload, "study")

	rr, _ = f.do(http.MethodPatch, "/api/studies/"+studyID+"/questions/reorder", token, `{"items":`)
	f.expect(rr, http.StatusBadRequest)

	rr, _ = f.do(http.MethodPatch, "/api/studies/"+studyID+"/questions/reorder", token, `[]`, "If-Match", "abc")
	f.expect(rr, http.StatusUnprocessableEntity)

	rr, _ = f.do(http.MethodGet, "/api/studies/"+studyID+"/export?format=xlsx", token, "")
	f.expect(rr, http.StatusUnprocessableEntity)

	rr, _ = f.do(http.MethodGet, "/api/nowhere", token, "")
	f.expect(rr, http.StatusNotFound)
}

func TestApprovalSignOffOverHTTP(t *testing.T) {
	f := newHTTPFixture(t)
	editor := f.token("org-a", "editor", false)
	reviewer := f.token("org-a", "reviewer", false)

	_, payload := f.do(http.MethodPost, "/api/studies", editor, `{"name":"Sign me"}`)
	studyID := nestedID(payload, "study")
	rr, _ := f.do(http.MethodPost, "/api/studies/"+studyID+"/questions", editor, `{"text":"Seen it?","questionType":"SINGLE_CHOICE","order":0}`)
	f.expect(rr, http.StatusCreated)

	rr, payload = f.do(http.MethodGet, "/api/studies/"+studyID+"/approval", editor, "")
	f.expect(rr, http.StatusOK)
	approval, _ := payload["approval"].(map[string]any)
	if approval["signOff"] != SignOffNotRequested {
		t.Fatalf("expected NOT_REQUESTED, got %v", approval)
	}

	rr, _ = f.do(http.MethodPatch, "/api/studies/"+studyID, editor, `{"status":"PENDING_APPROVAL"}`)
	f.expect(rr, http.StatusOK)
	rr, _ = f.do(http.MethodPatch, "/api/studies/"+studyID, reviewer, `{"status":"APPROVED"}`)
	f.expect(rr, http.StatusOK)

	rr, payload = f.do(http.MethodPost, "/api/studies/"+studyID+"/approval/signoff", reviewer, "")
	f.expect(rr, http.StatusConflict)
	if payload["code"] != "SIGN_OFF_NOT_REQUESTED" {
		t.Fatalf("expected SIGN_OFF_NOT_REQUESTED, got %v", payload)
	}

	rr, _ = f.do(http.MethodPost, "/api/studies/"+studyID+"/approval/request-signoff", editor, `{"note":"Needed before launch"}`)
	f.expect(rr, http.StatusOK)

	rr, payload = f.do(http.MethodPost, "/api/studies/"+studyID+"/approval/signoff", reviewer, "")
	f.expect(rr, http.StatusOK)
	approval, _ = payload["approval"].(map[string]any)
	if approval["signOff"] != SignOffSigned || approval["signedOffBy"] != "user-org-a-reviewer" {
		t.Fatalf("unexpected approval %v", approval)
	}

	rr, _ = f.do(http.MethodGet, "/api/studies/"+studyID+"/approval/signoff", reviewer, "")
	f.expect(rr, http.StatusMethodNotAllowed)

	rr, _ = f.do(http.MethodGet, "/api/studies/"+studyID+"/approval", f.token("org-b", "admin", false), "")
	f.expect(rr, http.StatusForbidden)
}

func TestCommentsFilterByQuestionOverHTTP(t *testing.T) {
	f := newHTTPFixture(t)
	editor := f.token("org-a", "editor", false)

	_, payload := f.do(http.MethodPost, "/api/studies", editor, `{"name":"Commented"}`)
	studyID := nestedID(payload, "study")
	_, payload = f.do(http.MethodPost, "/api/studies/"+studyID+"/questions", editor, `{"text":"Seen it?","questionType":"SINGLE_CHOICE","order":0}`)
	questionID := nestedID(payload, "question")
	rr, _ := f.do(http.MethodPatch, "/api/studies/"+studyID, editor, `{"status":"PENDING_APPROVAL"}`)
	f.expect(rr, http.StatusOK)

	rr, _ = f.do(http.MethodPost, "/api/studies/"+studyID+"/comments", editor, `{"text":"On the question","questionId":"`+questionID+`"}`)
	f.expect(rr, http.StatusCreated)
	rr, _ = f.do(http.MethodPost, "/api/studies/"+studyID+"/comments", editor, `{"text":"General"}`)
	f.expect(rr, http.StatusCreated)

	rr, payload = f.do(http.MethodGet, "/api/studies/"+studyID+"/comments?questionId="+questionID, editor, "")
	f.expect(rr, http.StatusOK)
	if comments, _ := payload["comments"].([]any); len(comments) != 1 {
		t.Fatalf("expected one comment for the question, got %v", payload)
	}

	rr, _ = f.do(http.MethodGet, "/api/studies/"+studyID+"/comments?questionId=q_unknown", editor, "")
	f.expect(rr, http.StatusNotFound)
}
