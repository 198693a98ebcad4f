package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// Route keys used to script and inspect mock remote behaviour.
const (
	RouteAuth   = "auth"
	RouteCreate = "create"
	RoutePatch  = "patch"
	RouteUpload = "upload"
	RouteESign  = "esign"
)

// RecordedRequest captures one call the BFF made to the mock remote API.
type RecordedRequest struct {
	Route  string
	Method string
	Path   string
	Header http.Header
	// Body holds the parsed JSON body for JSON routes. For uploads it
	// holds the multipart metadata (filename, purpose).
	Body map[string]any
}

type scriptedResponse struct {
	status int
	body   map[string]any
}

// MockRemote emulates the remote onboarding API: token issuance, resource
// create/patch, file uploads, and e-sign initiation. Responses can be
// scripted per route to exercise failure paths.
type MockRemote struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	requests []RecordedRequest
	scripted map[string][]scriptedResponse
	latency  time.Duration
	nextID   int
}

// NewMockRemote starts the mock remote API server. It is shut down when
// the test completes.
func NewMockRemote(t *testing.T) *MockRemote {
	t.Helper()
	m := &MockRemote{
		t:        t,
		scripted: make(map[string][]scriptedResponse),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.server.Close)
	return m
}

// URL returns the mock server's base URL.
func (m *MockRemote) URL() string {
	return m.server.URL
}

// Close shuts the server down immediately. Used to simulate an unreachable
// backend.
func (m *MockRemote) Close() {
	m.server.Close()
}

// FailNext scripts the next response for a route.
func (m *MockRemote) FailNext(route string, status int, body map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripted[route] = append(m.scripted[route], scriptedResponse{status: status, body: body})
}

// SetLatency delays every subsequent response. Used to trigger client
// timeouts.
func (m *MockRemote) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// Requests returns a copy of all recorded requests for a route. An empty
// route returns everything.
func (m *MockRemote) Requests(route string) []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RecordedRequest
	for _, r := range m.requests {
		if route == "" || r.Route == route {
			out = append(out, r)
		}
	}
	return out
}

func (m *MockRemote) handle(w http.ResponseWriter, r *http.Request) {
	route := classifyRoute(r)

	m.mu.Lock()
	latency := m.latency
	m.mu.Unlock()
	if latency > 0 {
		time.Sleep(latency)
	}

	rec := RecordedRequest{
		Route:  route,
		Method: r.Method,
		Path:   r.URL.Path,
		Header: r.Header.Clone(),
	}

	switch route {
	case RouteUpload:
		if err := r.ParseMultipartForm(32 << 20); err == nil {
			rec.Body = map[string]any{"purpose": r.FormValue("purpose")}
			if f := r.MultipartForm.File["file"]; len(f) > 0 {
				rec.Body["filename"] = f[0].Filename
				rec.Body["content_type"] = f[0].Header.Get("Content-Type")
			}
		}
	default:
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		rec.Body = body
	}

	m.mu.Lock()
	m.requests = append(m.requests, rec)
	var script *scriptedResponse
	if queue := m.scripted[route]; len(queue) > 0 {
		script = &queue[0]
		m.scripted[route] = queue[1:]
	}
	m.nextID++
	id := fmt.Sprintf("%s-%d", route, m.nextID)
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if script != nil {
		w.WriteHeader(script.status)
		_ = json.NewEncoder(w).Encode(script.body)
		return
	}

	switch route {
	case RouteAuth:
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "remote-token",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	case RouteCreate:
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": id})
	case RoutePatch:
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": parts[len(parts)-1]})
	case RouteUpload:
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": id})
	case RouteESign:
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":           id,
			"redirect_url": "https://esign.example/sign/" + id,
		})
	default:
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "unknown route " + r.URL.Path})
	}
}

func classifyRoute(r *http.Request) string {
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/auth/"):
		return RouteAuth
	case path == "/files":
		return RouteUpload
	case path == "/esigns":
		return RouteESign
	case r.Method == http.MethodPatch:
		return RoutePatch
	case r.Method == http.MethodPost:
		return RouteCreate
	default:
		return "unknown"
	}
}
