package routing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const allowlistYAML = `
version: 1
entrypoints:
  server:
    routes:
      - path: /healthz
        methods: [GET]
        route_class: ops
      - path: /api/v1/entities
        methods: [POST]
        route_class: public_api
      - path: /api/v1/entities/{id}/execute
        methods: [POST]
        route_class: public_api
      - path: /admin/api/plugins/approve
        methods: [POST]
        route_class: admin_api
`

func testClassifier(t *testing.T) *Classifier {
	t.Helper()
	a, err := ParseAllowlistYAML([]byte(allowlistYAML))
	if err != nil {
		t.Fatalf("parse allowlist: %v", err)
	}
	c, err := NewClassifier(a, "server")
	if err != nil {
		t.Fatalf("new classifier: %v", err)
	}
	return c
}

func TestParseAllowlistYAML_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"wrong version", "version: 2\nentrypoints: {}"},
		{"missing entrypoints", "version: 1"},
		{"not yaml", ":\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseAllowlistYAML([]byte(tt.yaml)); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}

func TestNewClassifier_RejectsBadEntrypoints(t *testing.T) {
	a, err := ParseAllowlistYAML([]byte(allowlistYAML))
	if err != nil {
		t.Fatalf("parse allowlist: %v", err)
	}
	if _, err := NewClassifier(a, "nope"); err == nil {
		t.Fatal("expected missing entrypoint to fail")
	}
}

func TestClassify(t *testing.T) {
	c := testClassifier(t)
	tests := []struct {
		path string
		want RouteClass
	}{
		{"/healthz", RouteClassOps},
		{"/readyz", RouteClassOps},
		{"/api/v1/entities", RouteClassPublicAPI},
		{"/api/v1/entities/ent-123/execute", RouteClassPublicAPI},
		{"/admin/api/plugins/approve", RouteClassAdminAPI},
		{"/admin/api/anything-else", RouteClassAdminAPI},
		{"/_dev/reset", RouteClassDevOnly},
		{"/api/v1/unlisted", RouteClassPublicAPI},
	}
	for _, tt := range tests {
		if got := c.Classify(tt.path); got != tt.want {
			t.Fatalf("Classify(%s) = %s, want %s", tt.path, got, tt.want)
		}
	}
}

func TestPathPattern(t *testing.T) {
	p, ok := parsePathPattern("/api/v1/entities/{id}/execute")
	if !ok {
		t.Fatal("pattern did not parse")
	}
	if !p.Match("/api/v1/entities/ent-9/execute") {
		t.Fatal("expected match")
	}
	if p.Match("/api/v1/entities/ent-9") || p.Match("/api/v1/entities//execute") {
		t.Fatal("unexpected match")
	}
	if _, ok := parsePathPattern("/plain/path"); ok {
		t.Fatal("plain path parsed as pattern")
	}
	if _, ok := parsePathPattern("/bad/{}"); ok {
		t.Fatal("empty param parsed")
	}
}

func TestRouter_ErrorsAndDispatch(t *testing.T) {
	r := NewRouter(testClassifier(t))
	r.Handle(RouteClassPublicAPI, http.MethodPost, "/api/v1/entities", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	tests := []struct {
		method, path string
		wantStatus   int
		wantCode     string
	}{
		{http.MethodPost, "/api/v1/entities", http.StatusCreated, ""},
		{http.MethodGet, "/api/v1/entities", http.StatusMethodNotAllowed, "method_not_allowed"},
		{http.MethodGet, "/nope", http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.wantStatus {
			t.Fatalf("%s %s: status = %d, want %d", tt.method, tt.path, rec.Code, tt.wantStatus)
		}
		if tt.wantCode == "" {
			continue
		}
		var env ErrorEnvelope
		if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		if env.Code != tt.wantCode || env.Meta.Path != tt.path {
			t.Fatalf("envelope = %+v", env)
		}
	}
}

func TestRouter_RecoversPanics(t *testing.T) {
	r := NewRouter(testClassifier(t))
	r.Handle(RouteClassPublicAPI, http.MethodGet, "/boom", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler exploded")
	}))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal_error") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestWriteError_TraceID(t *testing.T) {
	tests := []struct {
		name        string
		traceparent string
		want        string
	}{
		{"valid", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", "4bf92f3577b34da6a3ce929d0e0e4736"},
		{"absent", "", ""},
		{"malformed", "garbage", ""},
		{"all zero", "00-00000000000000000000000000000000-00f067aa0ba902b7-01", ""},
		{"non hex", "00-4bf92f3577b34da6a3ce929d0e0e47zz-00f067aa0ba902b7-01", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.traceparent != "" {
				req.Header.Set("traceparent", tt.traceparent)
			}
			rec := httptest.NewRecorder()
			WriteError(rec, req, RouteClassPublicAPI, http.StatusBadRequest, "bad_request", "nope")
			var env ErrorEnvelope
			if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if env.TraceID != tt.want {
				t.Fatalf("trace id = %q, want %q", env.TraceID, tt.want)
			}
		})
	}
}
