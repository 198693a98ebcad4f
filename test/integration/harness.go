// Package integration provides a reusable test harness for end-to-end
// testing of the onboarding BFF. It starts a full HTTP server wired to a
// mock remote onboarding API and in-memory stores.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mosaicfin/onboard/internal/config"
	"github.com/mosaicfin/onboard/internal/definition"
	"github.com/mosaicfin/onboard/internal/gateway"
	"github.com/mosaicfin/onboard/internal/history"
	"github.com/mosaicfin/onboard/internal/observability"
	"github.com/mosaicfin/onboard/internal/session"
	"github.com/mosaicfin/onboard/internal/transport"
	"github.com/mosaicfin/onboard/internal/wizard"
)

// TestHarness encapsulates a fully wired BFF instance with a mock remote
// API for integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	client *http.Client

	Remote   *MockRemote
	Registry *definition.Registry
	Sessions *session.MemoryStore
	Trail    *history.MemoryStore

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	definitionDirs []string
	remoteTimeout  time.Duration
	handlerTimeout time.Duration
}

// WithDefinitions sets the definition directories to load. Relative paths
// are resolved from the testdata directory.
func WithDefinitions(dirs ...string) HarnessOption {
	return func(c *harnessConfig) {
		c.definitionDirs = dirs
	}
}

// WithRemoteTimeout sets the gateway client timeout.
func WithRemoteTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.remoteTimeout = d
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// NewTestHarness creates and starts a full BFF test instance. The server
// and the mock remote are cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		remoteTimeout:  5 * time.Second,
		handlerTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}
	if len(hc.definitionDirs) == 0 {
		hc.definitionDirs = []string{filepath.Join(testdataDir(), "definitions")}
	}

	t.Setenv("ONBOARD_TEST_CLIENT_ID", "test-client")
	t.Setenv("ONBOARD_TEST_CLIENT_SECRET", "test-secret")
	t.Setenv("ONBOARD_TEST_SIGNING_KEY", "0123456789abcdef0123456789abcdef")

	h := &TestHarness{t: t}
	h.Remote = NewMockRemote(t)

	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = hc.handlerTimeout
	cfg.RemoteAPI.BaseURL = h.Remote.URL()
	cfg.RemoteAPI.Timeout = hc.remoteTimeout
	cfg.RemoteAPI.ClientIDEnv = "ONBOARD_TEST_CLIENT_ID"
	cfg.RemoteAPI.ClientSecretEnv = "ONBOARD_TEST_CLIENT_SECRET"
	cfg.Session.SigningKeyEnv = "ONBOARD_TEST_SIGNING_KEY"
	cfg.Wizard.DefaultVariant = "kyc_test"
	cfg.Observability.Tracing.Enabled = false
	cfg.Observability.Metrics.Enabled = false
	h.cfg = cfg

	loader := definition.NewLoader()
	defs, err := loader.LoadAll(hc.definitionDirs)
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	if verrs := definition.NewValidator().Validate(defs); len(verrs) > 0 {
		t.Fatalf("definition validation: %v", verrs)
	}
	h.Registry = definition.NewRegistry(defs)

	h.Sessions = session.NewMemoryStore()
	h.Trail = history.NewMemoryStore()

	logger := zap.NewNop()
	remote := gateway.NewClient(cfg.RemoteAPI, logger, nil)
	engine := wizard.NewEngine(h.Registry, h.Sessions, h.Trail, remote, cfg.Wizard.PostbackURL, logger, nil)

	router := transport.NewRouter(transport.Dependencies{
		Config:   cfg,
		Log:      logger,
		Registry: h.Registry,
		Sessions: h.Sessions,
		Engine:   engine,
		Auth:     remote,
		Ready: observability.ReadinessChecks{
			DefinitionsLoaded: func() bool { return len(h.Registry.AllWizards()) > 0 },
		},
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	h.client = &http.Client{
		Timeout: 30 * time.Second,
		Jar:     jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// SessionInfo is the response body of POST /ui/session.
type SessionInfo struct {
	SessionID     string    `json:"session_id"`
	WizardID      string    `json:"wizard_id"`
	CurrentStepID int       `json:"current_step_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// StartSession creates a session for the tenant. The session cookie lands
// in the harness cookie jar, so subsequent requests are authenticated.
func (h *TestHarness) StartSession(tenant, wizardID string) SessionInfo {
	h.t.Helper()

	resp := h.PostJSON("/ui/session", map[string]string{"tenant": tenant, "wizard": wizardID})
	var info SessionInfo
	h.AssertJSON(resp, http.StatusCreated, &info)
	return info
}

// GET performs a GET request carrying the jar's session cookie.
func (h *TestHarness) GET(path string) *http.Response {
	h.t.Helper()
	return h.do(http.MethodGet, path, "", nil)
}

// DELETE performs a DELETE request.
func (h *TestHarness) DELETE(path string) *http.Response {
	h.t.Helper()
	return h.do(http.MethodDelete, path, "", nil)
}

// PostJSON performs a POST request with a JSON body.
func (h *TestHarness) PostJSON(path string, body any) *http.Response {
	h.t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		h.t.Fatalf("marshal body: %v", err)
	}
	return h.do(http.MethodPost, path, "application/json", bytes.NewReader(data))
}

// PostForm performs a POST request with a urlencoded form body.
func (h *TestHarness) PostForm(path string, values url.Values) *http.Response {
	h.t.Helper()
	return h.do(http.MethodPost, path, "application/x-www-form-urlencoded", strings.NewReader(values.Encode()))
}

// pngFile returns a minimal payload that content sniffing detects as
// image/png.
func pngFile() []byte {
	return []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x00")
}

// FileUpload is one file part for PostMultipart.
type FileUpload struct {
	Field       string
	Filename    string
	ContentType string
	Content     []byte
}

// PostMultipart performs a POST request with form values and file parts.
func (h *TestHarness) PostMultipart(path string, values map[string]string, files ...FileUpload) *http.Response {
	h.t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, v := range values {
		if err := mw.WriteField(name, v); err != nil {
			h.t.Fatalf("write field %s: %v", name, err)
		}
	}
	for _, f := range files {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", `form-data; name="`+f.Field+`"; filename="`+f.Filename+`"`)
		hdr.Set("Content-Type", f.ContentType)
		part, err := mw.CreatePart(hdr)
		if err != nil {
			h.t.Fatalf("create part %s: %v", f.Field, err)
		}
		if _, err := part.Write(f.Content); err != nil {
			h.t.Fatalf("write part %s: %v", f.Field, err)
		}
	}
	if err := mw.Close(); err != nil {
		h.t.Fatalf("close multipart: %v", err)
	}

	return h.do(http.MethodPost, path, mw.FormDataContentType(), &buf)
}

func (h *TestHarness) do(method, path, contentType string, body io.Reader) *http.Response {
	h.t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, body)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(resp *http.Response, expected int) {
	h.t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		h.t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks the status and parses the body into the target.
func (h *TestHarness) AssertJSON(resp *http.Response, expected int, target any) {
	h.t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		h.t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// AssertErrorCode checks the status and the error envelope code.
func (h *TestHarness) AssertErrorCode(resp *http.Response, status int, code string) {
	h.t.Helper()
	var body struct {
		Error struct {
			Code         string `json:"code"`
			Message      string `json:"message"`
			RedirectStep int    `json:"redirect_step"`
		} `json:"error"`
	}
	h.AssertJSON(resp, status, &body)
	if body.Error.Code != code {
		h.t.Fatalf("error code = %q, want %q (message: %s)", body.Error.Code, code, body.Error.Message)
	}
}

// ClearCookies drops the harness session cookie.
func (h *TestHarness) ClearCookies() {
	h.t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		h.t.Fatalf("cookie jar: %v", err)
	}
	h.client.Jar = jar
}

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}
