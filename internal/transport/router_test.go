package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mosaicfin/onboard/internal/config"
	"github.com/mosaicfin/onboard/internal/definition"
	"github.com/mosaicfin/onboard/internal/gateway"
	"github.com/mosaicfin/onboard/internal/observability"
	"github.com/mosaicfin/onboard/internal/session"
	"github.com/mosaicfin/onboard/internal/wizard"
	"github.com/mosaicfin/onboard/model"
)

// --- Test fakes ---

type fakeEngine struct {
	desc      *model.WizardDescriptor
	result    *model.SubmissionResult
	events    []model.SubmissionEvent
	err       error
	gotStep   string
	gotStepID int
	gotInput  wizard.Input
}

func (f *fakeEngine) Resolve(_ context.Context, _ *model.RequestContext, _ *model.Session, urlStep string) (*model.WizardDescriptor, error) {
	f.gotStep = urlStep
	if f.err != nil {
		return nil, f.err
	}
	return f.desc, nil
}

func (f *fakeEngine) Submit(_ context.Context, _ *model.RequestContext, _ *model.Session, stepID int, in wizard.Input) (*model.SubmissionResult, error) {
	f.gotStepID = stepID
	f.gotInput = in
	// Drain file contents while the parts are still open.
	for name, part := range in.Files {
		data, _ := io.ReadAll(part.Content)
		part.Filename = part.Filename + ":" + string(data)
		in.Files[name] = part
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeEngine) History(_ context.Context, _ *model.RequestContext) ([]model.SubmissionEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

type fakeAuth struct {
	token gateway.Token
	err   error
	got   string
}

func (f *fakeAuth) Authenticate(_ context.Context, tenant string) (gateway.Token, error) {
	f.got = tenant
	if f.err != nil {
		return gateway.Token{}, f.err
	}
	return f.token, nil
}

// --- Test helpers ---

func testRouterDeps(t *testing.T) (Dependencies, *fakeEngine, *fakeAuth, session.Store) {
	t.Helper()
	t.Setenv("TEST_SESSION_SIGNING_KEY", "0123456789abcdef0123456789abcdef")

	cfg := config.Defaults()
	cfg.Session.SigningKeyEnv = "TEST_SESSION_SIGNING_KEY"
	cfg.Server.HandlerTimeout = 5 * time.Second

	registry := definition.NewRegistry([]model.WizardDefinition{
		{ID: "kyc_full", Name: "KYC Onboarding", Resource: "/kyc_requests"},
	})

	engine := &fakeEngine{
		desc:   &model.WizardDescriptor{WizardID: "kyc_full", MinStep: 1, MaxStep: 3},
		result: &model.SubmissionResult{OK: true, NextStepID: 2},
	}
	auth := &fakeAuth{token: gateway.Token{
		AccessToken: "tok-1",
		ExpiresAt:   time.Now().Add(time.Hour),
	}}
	store := session.NewMemoryStore()

	deps := Dependencies{
		Config:   cfg,
		Log:      zap.NewNop(),
		Registry: registry,
		Sessions: store,
		Engine:   engine,
		Auth:     auth,
		Ready:    observability.ReadinessChecks{DefinitionsLoaded: func() bool { return true }},
	}
	return deps, engine, auth, store
}

// startTestSession seeds a session and returns its signed cookie.
func startTestSession(t *testing.T, deps Dependencies) (*model.Session, *http.Cookie) {
	t.Helper()
	sess := testSession()
	seedSession(t, deps.Sessions, sess)
	cookie, err := IssueSessionCookie(deps.Config.Session, sess.ID, sess.ExpiresAt)
	if err != nil {
		t.Fatalf("IssueSessionCookie: %v", err)
	}
	return sess, cookie
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *model.ErrorEnvelope {
	t.Helper()
	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error
}

// --- Router tests ---

func TestNewRouter_health(t *testing.T) {
	deps, _, _, _ := testRouterDeps(t)
	r := NewRouter(deps)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ui/health", nil))

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestNewRouter_ready(t *testing.T) {
	deps, _, _, _ := testRouterDeps(t)
	r := NewRouter(deps)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ui/ready", nil))

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestNewRouter_metrics(t *testing.T) {
	deps, _, _, _ := testRouterDeps(t)
	r := NewRouter(deps)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestNewRouter_correlationIDHeader(t *testing.T) {
	deps, _, _, _ := testRouterDeps(t)
	r := NewRouter(deps)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ui/health", nil))

	if w.Header().Get("X-Correlation-Id") == "" {
		t.Error("X-Correlation-Id header should be set")
	}
}

func TestNewRouter_authenticatedRoutesRejectAnonymous(t *testing.T) {
	deps, _, _, _ := testRouterDeps(t)
	r := NewRouter(deps)

	routes := []struct{ method, path string }{
		{"GET", "/ui/wizard"},
		{"POST", "/ui/wizard/steps/1"},
		{"GET", "/ui/wizard/history"},
		{"DELETE", "/ui/session"},
	}
	for _, rt := range routes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(rt.method, rt.path, nil))
		if w.Code != 401 {
			t.Errorf("%s %s status = %d, want 401", rt.method, rt.path, w.Code)
		}
	}
}

// --- Session handler tests ---

func TestSessionCreate(t *testing.T) {
	deps, _, auth, store := testRouterDeps(t)
	r := NewRouter(deps)

	body := strings.NewReader(`{"tenant": "acme"}`)
	req := httptest.NewRequest("POST", "/ui/session", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != 201 {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	if auth.got != "acme" {
		t.Errorf("authenticated tenant = %q, want acme", auth.got)
	}

	var resp sessionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.WizardID != "kyc_full" {
		t.Errorf("wizard_id = %q, want default kyc_full", resp.WizardID)
	}
	if resp.CurrentStepID != 1 {
		t.Errorf("current_step_id = %d, want 1", resp.CurrentStepID)
	}

	sess, err := store.Get(context.Background(), resp.SessionID)
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if sess.AccessToken != "tok-1" {
		t.Errorf("access token = %q, want tok-1", sess.AccessToken)
	}
	// The stored record holds no step position until step 1 produces the
	// KYC request; only the response reports the first step.
	if sess.CurrentStepID != 0 {
		t.Errorf("stored current_step_id = %d, want 0 before step 1", sess.CurrentStepID)
	}

	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "onboard_session" {
		t.Fatalf("cookies = %+v, want one onboard_session cookie", cookies)
	}
	if !cookies[0].HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}
}

func TestSessionCreate_missingTenant(t *testing.T) {
	deps, _, _, _ := testRouterDeps(t)
	r := NewRouter(deps)

	req := httptest.NewRequest("POST", "/ui/session", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != 400 {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSessionCreate_invalidJSON(t *testing.T) {
	deps, _, _, _ := testRouterDeps(t)
	r := NewRouter(deps)

	req := httptest.NewRequest("POST", "/ui/session", strings.NewReader(`{`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != 400 {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSessionCreate_unknownWizard(t *testing.T) {
	deps, _, _, _ := testRouterDeps(t)
	r := NewRouter(deps)

	body := strings.NewReader(`{"tenant": "acme", "wizard": "kyc_nope"}`)
	req := httptest.NewRequest("POST", "/ui/session", body)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != 404 {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if code := decodeError(t, w).Code; code != model.ErrWizardNotFound {
		t.Errorf("code = %q, want WIZARD_NOT_FOUND", code)
	}
}

func TestSessionCreate_authenticationFails(t *testing.T) {
	deps, _, auth, _ := testRouterDeps(t)
	auth.err = model.NewUnauthorizedError("Invalid tenant or client credentials")
	r := NewRouter(deps)

	body := strings.NewReader(`{"tenant": "acme"}`)
	req := httptest.NewRequest("POST", "/ui/session", body)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != 401 {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestSessionCreate_backendDown(t *testing.T) {
	deps, _, auth, _ := testRouterDeps(t)
	auth.err = model.NewBackendUnavailableError()
	r := NewRouter(deps)

	body := strings.NewReader(`{"tenant": "acme"}`)
	req := httptest.NewRequest("POST", "/ui/session", body)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != 502 {
		t.Fatalf("status = %d, want 502", w.Code)
	}
}

func TestSessionEnd(t *testing.T) {
	deps, _, _, store := testRouterDeps(t)
	r := NewRouter(deps)
	sess, cookie := startTestSession(t, deps)

	req := httptest.NewRequest("DELETE", "/ui/session", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != 204 {
		t.Fatalf("status = %d, want 204: %s", w.Code, w.Body.String())
	}
	if _, err := store.Get(context.Background(), sess.ID); err != session.ErrNotFound {
		t.Errorf("session should be deleted, got err = %v", err)
	}

	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Errorf("expected an expiring cookie, got %+v", cookies)
	}
}

// --- Wizard handler tests ---

func TestWizardGet(t *testing.T) {
	deps, engine, _, _ := testRouterDeps(t)
	r := NewRouter(deps)
	_, cookie := startTestSession(t, deps)

	req := httptest.NewRequest("GET", "/ui/wizard?step=2", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if engine.gotStep != "2" {
		t.Errorf("url step = %q, want 2", engine.gotStep)
	}

	var desc model.WizardDescriptor
	if err := json.NewDecoder(w.Body).Decode(&desc); err != nil {
		t.Fatalf("decode descriptor: %v", err)
	}
	if desc.WizardID != "kyc_full" {
		t.Errorf("wizard_id = %q", desc.WizardID)
	}
}

func TestWizardGet_engineError(t *testing.T) {
	deps, engine, _, _ := testRouterDeps(t)
	engine.err = model.NewWizardNotFoundError("kyc_full")
	r := NewRouter(deps)
	_, cookie := startTestSession(t, deps)

	req := httptest.NewRequest("GET", "/ui/wizard", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != 404 {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestStepSubmit_multipart(t *testing.T) {
	deps, engine, _, _ := testRouterDeps(t)
	r := NewRouter(deps)
	_, cookie := startTestSession(t, deps)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("pan", "ABCDE1234F")
	mw.WriteField("email", "a@b.example")
	fw, _ := mw.CreateFormFile("bank_proof", "statement.pdf")
	fw.Write([]byte("%PDF-1.4 fake"))
	mw.Close()

	req := httptest.NewRequest("POST", "/ui/wizard/steps/2", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if engine.gotStepID != 2 {
		t.Errorf("step id = %d, want 2", engine.gotStepID)
	}
	if engine.gotInput.Values["pan"] != "ABCDE1234F" {
		t.Errorf("values = %v", engine.gotInput.Values)
	}
	part, ok := engine.gotInput.Files["bank_proof"]
	if !ok {
		t.Fatal("file part bank_proof missing")
	}
	// The fake appends the drained content to the filename.
	if part.Filename != "statement.pdf:%PDF-1.4 fake" {
		t.Errorf("file content not readable in handler: %q", part.Filename)
	}
	if part.Size != int64(len("%PDF-1.4 fake")) {
		t.Errorf("file size = %d", part.Size)
	}

	var res model.SubmissionResult
	json.NewDecoder(w.Body).Decode(&res)
	if !res.OK || res.NextStepID != 2 {
		t.Errorf("result = %+v", res)
	}
}

func TestStepSubmit_urlencodedForm(t *testing.T) {
	deps, engine, _, _ := testRouterDeps(t)
	r := NewRouter(deps)
	_, cookie := startTestSession(t, deps)

	body := strings.NewReader("pan=ABCDE1234F&email=a%40b.example")
	req := httptest.NewRequest("POST", "/ui/wizard/steps/1", body)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if engine.gotInput.Values["email"] != "a@b.example" {
		t.Errorf("values = %v", engine.gotInput.Values)
	}
}

func TestStepSubmit_nonNumericStep(t *testing.T) {
	deps, _, _, _ := testRouterDeps(t)
	r := NewRouter(deps)
	_, cookie := startTestSession(t, deps)

	req := httptest.NewRequest("POST", "/ui/wizard/steps/abc", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != 400 {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestStepSubmit_validationError(t *testing.T) {
	deps, engine, _, _ := testRouterDeps(t)
	engine.err = model.NewValidationError([]model.FieldError{
		{Field: "pan", Code: "REQUIRED", Message: "is required"},
	})
	r := NewRouter(deps)
	_, cookie := startTestSession(t, deps)

	req := httptest.NewRequest("POST", "/ui/wizard/steps/1", strings.NewReader("a=b"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != 422 {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	ee := decodeError(t, w)
	if ee.Code != model.ErrValidationError || len(ee.Details) != 1 {
		t.Errorf("error = %+v", ee)
	}
}

func TestStepSubmit_preconditionRedirect(t *testing.T) {
	deps, engine, _, _ := testRouterDeps(t)
	engine.err = model.NewStepPreconditionError(1, "kyc_request_id")
	r := NewRouter(deps)
	_, cookie := startTestSession(t, deps)

	req := httptest.NewRequest("POST", "/ui/wizard/steps/3", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != 409 {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	if ee := decodeError(t, w); ee.RedirectStep != 1 {
		t.Errorf("redirect_step = %d, want 1", ee.RedirectStep)
	}
}

func TestWizardHistory(t *testing.T) {
	deps, engine, _, _ := testRouterDeps(t)
	engine.events = []model.SubmissionEvent{
		{ID: "e1", SessionID: "sess-1", Tenant: "acme", StepID: 1, Event: model.EventStepSubmitted},
	}
	r := NewRouter(deps)
	_, cookie := startTestSession(t, deps)

	req := httptest.NewRequest("GET", "/ui/wizard/history", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var body struct {
		Events []model.SubmissionEvent `json:"events"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if len(body.Events) != 1 || body.Events[0].ID != "e1" {
		t.Errorf("events = %+v", body.Events)
	}
}

func TestWizardHistory_emptyIsArray(t *testing.T) {
	deps, _, _, _ := testRouterDeps(t)
	r := NewRouter(deps)
	_, cookie := startTestSession(t, deps)

	req := httptest.NewRequest("GET", "/ui/wizard/history", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), `"events":[]`) {
		t.Errorf("body = %s, want empty events array", w.Body.String())
	}
}
