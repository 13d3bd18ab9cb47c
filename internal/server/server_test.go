package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ganad831/doc-helper-sub004/internal/db"
	"github.com/ganad831/doc-helper-sub004/internal/engine"
	"github.com/ganad831/doc-helper-sub004/internal/migrate"
	"github.com/ganad831/doc-helper-sub004/internal/repo"
)

const testSchemaYAML = `
project_id: invoices
entities:
  - id: invoice
    fields:
      - id: amount
        type: number
        constraints:
          - kind: required
          - kind: min_value
            min_value: 0
      - id: vat
        type: calculated
        formula: "{{amount}} * 0.2"
      - id: total
        type: calculated
        formula: "{{amount}} + {{vat}}"
`

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	handler, err := New(Config{
		Repo:     repo.Repo{DB: conn},
		Limits:   engine.DefaultLimits(),
		BasePath: "/v0",
		Auth:     auth,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func seedProject(t *testing.T, srv *testServer, projectID string) {
	t.Helper()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects", map[string]any{"id": projectID}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/schema", map[string]any{
		"doc_yaml": testSchemaYAML,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("import schema: %d %s", res.StatusCode, string(data))
	}
}

func TestChangePropagatesAndPersists(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowAnonymous: true})
	seedProject(t, srv, "invoices")
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/invoices/entities/invoice/changes", map[string]any{
		"field_id": "amount",
		"value":    100,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("apply change: %d %s", res.StatusCode, string(data))
	}
	var out ApplyChangeResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Persisted {
		t.Fatal("change not persisted")
	}
	if got := out.Snapshot["vat"]; got != 20.0 {
		t.Fatalf("vat = %v", got)
	}
	if got := out.Snapshot["total"]; got != 120.0 {
		t.Fatalf("total = %v", got)
	}

	// The recomputed values must survive a round trip through storage.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/invoices/entities/invoice/values", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list values: %d %s", res.StatusCode, string(data))
	}
	var values []ValueResponse
	if err := json.Unmarshal(data, &values); err != nil {
		t.Fatalf("unmarshal values: %v", err)
	}
	if len(values) != 3 {
		t.Fatalf("stored %d values, want 3: %+v", len(values), values)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/invoices/events?limit=10", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list events: %d %s", res.StatusCode, string(data))
	}
	var evts []EventResponse
	if err := json.Unmarshal(data, &evts); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(evts) == 0 {
		t.Fatal("no events logged")
	}
}

func TestDryRunDoesNotPersist(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowAnonymous: true})
	seedProject(t, srv, "invoices")
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/invoices/entities/invoice/changes", map[string]any{
		"field_id": "amount",
		"value":    50,
		"dry_run":  true,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("apply change: %d %s", res.StatusCode, string(data))
	}
	var out ApplyChangeResponse
	_ = json.Unmarshal(data, &out)
	if out.Persisted {
		t.Fatal("dry run persisted")
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/invoices/entities/invoice/values", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list values: %d %s", res.StatusCode, string(data))
	}
	var values []ValueResponse
	_ = json.Unmarshal(data, &values)
	if len(values) != 0 {
		t.Fatalf("dry run stored values: %+v", values)
	}
}

func TestValidateEndpoint(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowAnonymous: true})
	seedProject(t, srv, "invoices")
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/invoices/entities/invoice/validate", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validate: %d %s", res.StatusCode, string(data))
	}
	var out struct {
		Success  bool `json:"success"`
		Blocking bool `json:"blocking"`
		Errors   []struct {
			FieldID string `json:"field_id"`
			Code    string `json:"code"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Success {
		t.Fatal("validation pass should succeed even with violations")
	}
	if !out.Blocking || len(out.Errors) == 0 {
		t.Fatalf("expected required-field violation, got %+v", out)
	}
	if out.Errors[0].FieldID != "amount" || out.Errors[0].Code != "REQUIRED_FIELD_EMPTY" {
		t.Fatalf("unexpected violation %+v", out.Errors[0])
	}
}

func TestSchemaImportRejectsBrokenSchema(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowAnonymous: true})
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects", map[string]any{"id": "p"}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %d %s", res.StatusCode, string(data))
	}
	broken := `
project_id: p
entities:
  - id: doc
    fields:
      - id: a
        type: calculated
        formula: "{{b}} +"
`
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/p/schema", map[string]any{
		"doc_yaml": broken,
	}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}

	// Force bypasses the check and stores the document as-is.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/p/schema", map[string]any{
		"doc_yaml": broken,
		"force":    true,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("forced import: %d %s", res.StatusCode, string(data))
	}
}

func TestChainDepthExceededMapsTo422(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowAnonymous: true})
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects", map[string]any{"id": "p"}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %d %s", res.StatusCode, string(data))
	}
	// Two rules toggling each other's source never settle.
	doc := `
project_id: p
entities:
  - id: doc
    fields:
      - id: a
        type: boolean
      - id: b
        type: boolean
rules:
  - id: flip-b
    conditions: [{field: a, op: equals, value: true}]
    target: b
    effect: set_value
    value: true
  - id: flip-a
    conditions: [{field: b, op: equals, value: true}]
    target: a
    effect: set_value
    value: false
  - id: unflip-b
    conditions: [{field: a, op: equals, value: false}]
    target: b
    effect: set_value
    value: false
  - id: unflip-a
    conditions: [{field: b, op: equals, value: false}]
    target: a
    effect: set_value
    value: true
`
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/p/schema", map[string]any{
		"doc_yaml": doc,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("import schema: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/p/entities/doc/changes", map[string]any{
		"field_id": "a",
		"value":    true,
	}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "chain_depth_exceeded" {
		t.Fatalf("code = %q body %s", envelope.Error.Code, string(data))
	}
	if envelope.Error.Details["origin"] != "a" {
		t.Fatalf("details = %+v", envelope.Error.Details)
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: "sekrit"})
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}

	// Health stays open.
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", res.StatusCode)
	}

	token := signToken(t, "sekrit", "alice")
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("authed list: %d %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects", nil, map[string]string{
		"Authorization": "Bearer not.a.token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", res.StatusCode)
	}
}

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}
