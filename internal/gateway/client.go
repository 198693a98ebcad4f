// Package gateway is the HTTP client for the remote onboarding API. It
// exposes exactly four call shapes: authenticate, create, patch, and file
// upload. Every call resolves to a discriminated Result so callers branch
// on outcome kind instead of shape-checking response bodies.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mosaicfin/onboard/internal/config"
	"github.com/mosaicfin/onboard/model"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 10 << 20

// Token is the result of a successful authentication call.
type Token struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`

	// ExpiresAt is computed from ExpiresIn at receipt time.
	ExpiresAt time.Time `json:"-"`
}

// UploadInput describes one file to send to the files endpoint.
type UploadInput struct {
	Filename    string
	ContentType string
	Content     io.Reader
	Purpose     string
}

// Observer records remote call outcomes. Implemented by the metrics layer.
type Observer interface {
	ObserveRemoteCall(operation string, status int, d time.Duration)
}

// Client talks to the remote onboarding API over one pooled http.Client.
type Client struct {
	baseURL      string
	clientID     func() string
	clientSecret func() string
	httpClient   *http.Client
	log          *zap.Logger
	observer     Observer
	now          func() time.Time
}

// NewClient creates a gateway client from the remote API configuration.
// The observer may be nil.
func NewClient(cfg config.RemoteAPIConfig, log *zap.Logger, observer Observer) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		log:      log,
		observer: observer,
		now:      time.Now,
	}
}

// Authenticate exchanges the configured client credentials for an access
// token scoped to the tenant. The call carries no bearer header.
func (c *Client) Authenticate(ctx context.Context, tenant string) (Token, error) {
	form := url.Values{}
	form.Set("client_id", c.clientID())
	form.Set("client_secret", c.clientSecret())
	form.Set("grant_type", "client_credentials")

	endpoint := fmt.Sprintf("%s/auth/%s/token", c.baseURL, url.PathEscape(tenant))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("gateway: build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe("authenticate", 0, start)
		if isTimeout(ctx, err) {
			return Token{}, model.NewBackendTimeoutError()
		}
		return Token{}, model.NewBackendUnavailableError()
	}
	defer resp.Body.Close()
	c.observe("authenticate", resp.StatusCode, start)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Token{}, fmt.Errorf("gateway: read auth response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Token{}, model.NewUnauthorizedError("Invalid tenant or client credentials")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("authentication rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("tenant", tenant),
		)
		return Token{}, model.NewBackendUnavailableError()
	}

	var tok Token
	if err := json.Unmarshal(body, &tok); err != nil {
		return Token{}, fmt.Errorf("gateway: parse auth response: %w", err)
	}
	if tok.AccessToken == "" {
		return Token{}, model.NewUnauthorizedError("Authentication response carried no token")
	}
	tok.ExpiresAt = c.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return tok, nil
}

// CreateResource POSTs a JSON body to the given path.
func (c *Client) CreateResource(ctx context.Context, rctx *model.RequestContext, path string, body map[string]any) Result {
	return c.doJSON(ctx, rctx, http.MethodPost, c.baseURL+path, body)
}

// PatchResource PATCHes a JSON body to the path template with {id}
// substituted. The id is path-escaped.
func (c *Client) PatchResource(ctx context.Context, rctx *model.RequestContext, pathTemplate, id string, body map[string]any) Result {
	path := strings.ReplaceAll(pathTemplate, "{id}", url.PathEscape(id))
	return c.doJSON(ctx, rctx, http.MethodPatch, c.baseURL+path, body)
}

// UploadFile POSTs one file to the files endpoint as multipart form data.
func (c *Client) UploadFile(ctx context.Context, rctx *model.RequestContext, file UploadInput) Result {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, file.Filename))
	if file.ContentType != "" {
		hdr.Set("Content-Type", file.ContentType)
	}
	part, err := w.CreatePart(hdr)
	if err != nil {
		return networkErrorResult(fmt.Errorf("gateway: create multipart: %w", err), false)
	}
	if _, err := io.Copy(part, file.Content); err != nil {
		return networkErrorResult(fmt.Errorf("gateway: copy file: %w", err), false)
	}
	if file.Purpose != "" {
		if err := w.WriteField("purpose", file.Purpose); err != nil {
			return networkErrorResult(fmt.Errorf("gateway: write purpose: %w", err), false)
		}
	}
	if err := w.Close(); err != nil {
		return networkErrorResult(fmt.Errorf("gateway: close multipart: %w", err), false)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", &buf)
	if err != nil {
		return networkErrorResult(fmt.Errorf("gateway: build upload request: %w", err), false)
	}
	req.Header = buildHeaders(rctx)
	req.Header.Set("Content-Type", w.FormDataContentType())

	return c.execute(ctx, req, "upload_file")
}

func (c *Client) doJSON(ctx context.Context, rctx *model.RequestContext, method, reqURL string, body map[string]any) Result {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return networkErrorResult(fmt.Errorf("gateway: marshal body: %w", err), false)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return networkErrorResult(fmt.Errorf("gateway: build request: %w", err), false)
	}
	req.Header = buildHeaders(rctx)
	req.Header.Set("Content-Type", "application/json")

	op := "create_resource"
	if method == http.MethodPatch {
		op = "patch_resource"
	}
	return c.execute(ctx, req, op)
}

func (c *Client) execute(ctx context.Context, req *http.Request, operation string) Result {
	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(operation, 0, start)
		timeout := isTimeout(ctx, err)
		c.log.Warn("remote call failed",
			zap.String("operation", operation),
			zap.Bool("timeout", timeout),
			zap.Error(err),
		)
		return networkErrorResult(err, timeout)
	}
	defer resp.Body.Close()
	c.observe(operation, resp.StatusCode, start)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return networkErrorResult(fmt.Errorf("gateway: read response: %w", err), false)
	}

	var data map[string]any
	if len(body) > 0 {
		// Non-JSON bodies are tolerated; data stays nil.
		_ = json.Unmarshal(body, &data)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return httpErrorResult(resp.StatusCode, data)
	}
	return successResult(resp.StatusCode, data)
}

func (c *Client) observe(operation string, status int, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveRemoteCall(operation, status, c.now().Sub(start))
	}
}

func buildHeaders(rctx *model.RequestContext) http.Header {
	h := make(http.Header)
	h.Set("Accept", "application/json")
	if rctx != nil {
		if rctx.AccessToken != "" {
			h.Set("Authorization", "Bearer "+sanitizeHeader(rctx.AccessToken))
		}
		h.Set("X-Tenant-Id", sanitizeHeader(rctx.Tenant))
		if rctx.CorrelationID != "" {
			h.Set("X-Correlation-Id", sanitizeHeader(rctx.CorrelationID))
		}
	}
	return h
}

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
