package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"tisp.org/internal/auth"
	"tisp.org/internal/notify"
	"tisp.org/internal/trust"
	"tisp.org/internal/trust/memstore"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	store := memstore.New()
	if err := store.Seed(context.Background(), trust.DefaultLevels()...); err != nil {
		t.Fatalf("seed levels: %v", err)
	}
	broker := notify.NewBroker(16)
	svc, err := trust.NewService(store, trust.WithNotifier(broker))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	groups, err := trust.NewGroupService(store, trust.WithNotifier(broker))
	if err != nil {
		t.Fatalf("new group service: %v", err)
	}
	issuer, err := auth.NewIssuer("test-secret")
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	api := New(Options{
		Trust:     svc,
		Groups:    groups,
		Issuer:    issuer,
		Broker:    broker,
		Version:   "test",
		DevTokens: true,
	})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, token string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, token)
}

func (c *apiClient) get(path string, params url.Values, token string) *http.Response {
	c.t.Helper()
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, nil, token)
}

func (c *apiClient) obtainToken(user, org, role string) string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", map[string]any{
		"user":         user,
		"organization": org,
		"role":         role,
	}, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode token response: %v", err)
	}
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return payload.Token
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("unexpected status: got %d want %d", resp.StatusCode, want)
	}
}

func TestRelationshipLifecycleFlow(t *testing.T) {
	api := newTestAPI(t)
	acme := api.obtainToken("alice", "acme", trust.RoleOrgAdmin)
	beta := api.obtainToken("bob", "beta", trust.RoleOrgAdmin)

	resp := api.post("/v1/relationships", map[string]any{
		"target_organization": "beta",
		"trust_level":         "high",
	}, acme)
	expectStatus(t, resp, http.StatusCreated)
	rel := decode[map[string]any](t, resp)
	id := rel["id"].(string)
	if rel["status"] != "pending" {
		t.Fatalf("expected pending relationship, got %v", rel["status"])
	}
	if rel["source_organization"] != "acme" {
		t.Fatalf("source should default to caller org, got %v", rel["source_organization"])
	}

	resp = api.post("/v1/relationships/"+id+"/approve", nil, acme)
	expectStatus(t, resp, http.StatusOK)
	if body := decode[map[string]any](t, resp); body["activated"] != false {
		t.Fatalf("single approval must not activate: %v", body["activated"])
	}

	// Not effective yet: no trust is resolved.
	resp = api.get("/v1/trust/check", url.Values{"source": {"acme"}, "target": {"beta"}}, acme)
	expectStatus(t, resp, http.StatusOK)
	if body := decode[map[string]any](t, resp); body["found"] != false {
		t.Fatalf("pending relationship must not resolve: %v", body)
	}

	resp = api.post("/v1/relationships/"+id+"/approve", nil, beta)
	expectStatus(t, resp, http.StatusOK)
	body := decode[map[string]any](t, resp)
	if body["activated"] != true {
		t.Fatalf("second approval should activate: %v", body)
	}

	resp = api.get("/v1/trust/check", url.Values{"source": {"acme"}, "target": {"beta"}}, acme)
	expectStatus(t, resp, http.StatusOK)
	check := decode[map[string]any](t, resp)
	if check["found"] != true {
		t.Fatalf("expected trust after activation: %v", check)
	}
	link := check["link"].(map[string]any)
	if link["kind"] != "direct" || link["relationship_id"] != id {
		t.Fatalf("unexpected link: %v", link)
	}

	// beta reads acme's intelligence: trust flows from acme to beta.
	resp = api.get("/v1/trust/access", url.Values{"owner": {"acme"}, "access_level": {"contribute"}}, beta)
	expectStatus(t, resp, http.StatusOK)
	if decision := decode[map[string]any](t, resp); decision["allowed"] != true {
		t.Fatalf("contribute access should be allowed: %v", decision)
	}
	resp = api.get("/v1/trust/access", url.Values{"owner": {"acme"}, "access_level": {"full"}}, beta)
	expectStatus(t, resp, http.StatusOK)
	if decision := decode[map[string]any](t, resp); decision["allowed"] != false {
		t.Fatalf("full access should be denied: %v", decision)
	}

	resp = api.get("/v1/trust/sharing", url.Values{"min_level": {"medium"}}, acme)
	expectStatus(t, resp, http.StatusOK)
	partners := decode[map[string]any](t, resp)["partners"].([]any)
	if len(partners) != 1 || partners[0].(map[string]any)["organization"] != "beta" {
		t.Fatalf("unexpected partners: %v", partners)
	}

	req := map[string]any{"trust_level": "medium", "reason": "scope reduced"}
	resp = api.do(http.MethodPut, "/v1/relationships/"+id+"/trust-level", req, acme)
	expectStatus(t, resp, http.StatusOK)
	body = decode[map[string]any](t, resp)
	if body["changed"] != true {
		t.Fatalf("expected level change: %v", body)
	}

	resp = api.post("/v1/relationships/"+id+"/revoke", map[string]any{"reason": "contract ended"}, beta)
	expectStatus(t, resp, http.StatusOK)
	body = decode[map[string]any](t, resp)
	if body["revoked"] != true {
		t.Fatalf("expected revoke: %v", body)
	}
	if status := body["relationship"].(map[string]any)["status"]; status != "revoked" {
		t.Fatalf("unexpected status after revoke: %v", status)
	}

	resp = api.post("/v1/relationships/"+id+"/reactivate", nil, acme)
	expectStatus(t, resp, http.StatusBadRequest)
	if kind := decode[map[string]any](t, resp)["kind"]; kind != string(trust.KindInvalidState) {
		t.Fatalf("unexpected error kind: %v", kind)
	}
}

func TestRelationshipErrors(t *testing.T) {
	api := newTestAPI(t)
	acme := api.obtainToken("alice", "acme", trust.RoleOrgAdmin)
	viewer := api.obtainToken("vic", "acme", trust.RoleViewer)
	gamma := api.obtainToken("gina", "gamma", trust.RoleOrgAdmin)

	tests := []struct {
		name  string
		token string
		body  map[string]any
		want  int
		kind  trust.Kind
	}{
		{"self trust", acme, map[string]any{"target_organization": "acme", "trust_level": "high"}, http.StatusBadRequest, trust.KindSameOrganization},
		{"unknown level", acme, map[string]any{"target_organization": "beta", "trust_level": "ultra"}, http.StatusBadRequest, trust.KindInvalidTrustLevel},
		{"viewer cannot create", viewer, map[string]any{"target_organization": "beta", "trust_level": "high"}, http.StatusForbidden, trust.KindInsufficientPermission},
		{"foreign source", gamma, map[string]any{"source_organization": "acme", "target_organization": "beta", "trust_level": "high"}, http.StatusForbidden, trust.KindInsufficientPermission},
	}
	for _, tt := range tests {
		resp := api.post("/v1/relationships", tt.body, tt.token)
		if resp.StatusCode != tt.want {
			t.Fatalf("%s: unexpected status: got %d want %d", tt.name, resp.StatusCode, tt.want)
		}
		if kind := decode[map[string]any](t, resp)["kind"]; kind != string(tt.kind) {
			t.Fatalf("%s: unexpected kind: %v", tt.name, kind)
		}
	}

	resp := api.post("/v1/relationships", map[string]any{"target_organization": "beta", "trust_level": "high"}, acme)
	expectStatus(t, resp, http.StatusCreated)
	id := decode[map[string]any](t, resp)["id"].(string)

	resp = api.post("/v1/relationships/"+id+"/approve", nil, gamma)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.get("/v1/relationships/"+id, nil, gamma)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = api.get("/v1/relationships/missing", nil, acme)
	expectStatus(t, resp, http.StatusNotFound)
	if kind := decode[map[string]any](t, resp)["kind"]; kind != string(trust.KindRelationshipNotFound) {
		t.Fatalf("unexpected kind: %v", kind)
	}

	resp = api.post("/v1/relationships", map[string]any{"target_organization": "beta", "bogus": true}, acme)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestAuthRequired(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/relationships", nil, "")
	expectStatus(t, resp, http.StatusUnauthorized)
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatalf("missing WWW-Authenticate header")
	}
	resp.Body.Close()

	resp = api.get("/v1/relationships", nil, "not-a-token")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = api.get("/healthz", nil, "")
	expectStatus(t, resp, http.StatusOK)
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatalf("missing request id header")
	}
	resp.Body.Close()
}

func TestGroupFlowGrantsCommunityTrust(t *testing.T) {
	api := newTestAPI(t)
	acme := api.obtainToken("alice", "acme", trust.RoleOrgAdmin)
	beta := api.obtainToken("bob", "beta", trust.RoleOrgAdmin)
	gamma := api.obtainToken("gina", "gamma", trust.RoleOrgAdmin)

	resp := api.post("/v1/groups", map[string]any{
		"name":                "Energy ISAC",
		"group_type":          "sector",
		"default_trust_level": "medium",
	}, acme)
	expectStatus(t, resp, http.StatusCreated)
	group := decode[map[string]any](t, resp)
	groupID := group["id"].(string)

	resp = api.post("/v1/groups", map[string]any{"name": "energy isac"}, beta)
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = api.post("/v1/groups/"+groupID+"/join", nil, beta)
	expectStatus(t, resp, http.StatusCreated)
	if m := decode[map[string]any](t, resp); m["membership_type"] != "member" {
		t.Fatalf("unexpected membership: %v", m)
	}

	resp = api.post("/v1/groups/"+groupID+"/join", nil, beta)
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = api.get("/v1/trust/check", url.Values{"target": {"beta"}}, acme)
	expectStatus(t, resp, http.StatusOK)
	check := decode[map[string]any](t, resp)
	if check["found"] != true {
		t.Fatalf("expected community trust: %v", check)
	}
	if link := check["link"].(map[string]any); link["kind"] != "community" || link["group_id"] != groupID {
		t.Fatalf("unexpected link: %v", link)
	}

	resp = api.get("/v1/groups/"+groupID+"/members", nil, gamma)
	expectStatus(t, resp, http.StatusOK)
	if members := decode[map[string]any](t, resp)["members"].([]any); len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}

	resp = api.post("/v1/groups/"+groupID+"/promote", map[string]any{"organization": "beta"}, gamma)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.post("/v1/groups/"+groupID+"/leave", nil, beta)
	expectStatus(t, resp, http.StatusOK)
	if body := decode[map[string]any](t, resp); body["left"] != true {
		t.Fatalf("expected leave: %v", body)
	}

	resp = api.get("/v1/trust/check", url.Values{"target": {"beta"}}, acme)
	expectStatus(t, resp, http.StatusOK)
	if body := decode[map[string]any](t, resp); body["found"] != false {
		t.Fatalf("trust should end with membership: %v", body)
	}
}

func TestLevelsRequirePlatformAdmin(t *testing.T) {
	api := newTestAPI(t)
	acme := api.obtainToken("alice", "acme", trust.RoleOrgAdmin)
	root := api.obtainToken("root", "", trust.RolePlatformAdmin)

	resp := api.get("/v1/levels", nil, acme)
	expectStatus(t, resp, http.StatusOK)
	levels := decode[map[string]any](t, resp)["levels"].([]any)
	if len(levels) != 5 {
		t.Fatalf("expected 5 seeded levels, got %d", len(levels))
	}
	if first := levels[0].(map[string]any); first["level"] != "public" {
		t.Fatalf("levels should be ordered ascending: %v", first)
	}

	body := map[string]any{"name": "Elevated", "level": "elevated", "numerical_value": 60, "default_access_level": "subscribe"}
	resp = api.post("/v1/levels", body, acme)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.post("/v1/levels", body, root)
	expectStatus(t, resp, http.StatusCreated)
	id := decode[map[string]any](t, resp)["id"].(string)

	resp = api.post("/v1/levels/"+id+"/deactivate", nil, root)
	expectStatus(t, resp, http.StatusOK)
	if lvl := decode[map[string]any](t, resp); lvl["is_active"] != false {
		t.Fatalf("expected inactive level: %v", lvl)
	}
}

func TestAuditTrailScopedToCaller(t *testing.T) {
	api := newTestAPI(t)
	acme := api.obtainToken("alice", "acme", trust.RoleOrgAdmin)
	gamma := api.obtainToken("gina", "gamma", trust.RoleOrgAdmin)

	resp := api.post("/v1/relationships", map[string]any{"target_organization": "beta", "trust_level": "low"}, acme)
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = api.get("/v1/audit", nil, acme)
	expectStatus(t, resp, http.StatusOK)
	entries := decode[map[string]any](t, resp)["entries"].([]any)
	if len(entries) == 0 {
		t.Fatalf("expected audit entries for acme")
	}
	if first := entries[0].(map[string]any); first["action"] != string(trust.ActionRelationshipCreated) {
		t.Fatalf("unexpected action: %v", first["action"])
	}

	// A foreign organization filter is replaced by the caller's own.
	resp = api.get("/v1/audit", url.Values{"organization": {"acme"}}, gamma)
	expectStatus(t, resp, http.StatusOK)
	if entries := decode[map[string]any](t, resp)["entries"].([]any); len(entries) != 0 {
		t.Fatalf("gamma must not see acme entries: %v", entries)
	}

	resp = api.get("/v1/audit", url.Values{"limit": {"0"}}, acme)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestStreamDeliversOwnEvents(t *testing.T) {
	api := newTestAPI(t)
	acme := api.obtainToken("alice", "acme", trust.RoleOrgAdmin)
	beta := api.obtainToken("bob", "beta", trust.RoleOrgAdmin)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.baseURL+"/v1/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+beta)
	resp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type: %s", ct)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil || !strings.HasPrefix(line, ": stream started") {
		t.Fatalf("missing stream preamble: %q %v", line, err)
	}

	created := api.post("/v1/relationships", map[string]any{"target_organization": "beta", "trust_level": "low"}, acme)
	expectStatus(t, created, http.StatusCreated)
	created.Body.Close()

	for {
		line, err = reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	var evt notify.Event
	if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.Type != trust.EventRelationshipCreated {
		t.Fatalf("unexpected event type: %s", evt.Type)
	}
	if evt.Payload["target_organization"] != "beta" {
		t.Fatalf("unexpected payload: %v", evt.Payload)
	}
}

func TestDevTokensDisabled(t *testing.T) {
	issuer, err := auth.NewIssuer("test-secret")
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	store := memstore.New()
	svc, err := trust.NewService(store)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	groups, err := trust.NewGroupService(store)
	if err != nil {
		t.Fatalf("new group service: %v", err)
	}
	api := New(Options{Trust: svc, Groups: groups, Issuer: issuer})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/token", strings.NewReader(`{"user":"x"}`))
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("token endpoint should be hidden, got %d", rec.Code)
	}
}

func TestReadyProbeFailure(t *testing.T) {
	store := memstore.New()
	svc, _ := trust.NewService(store)
	groups, _ := trust.NewGroupService(store)
	api := New(Options{
		Trust:  svc,
		Groups: groups,
		Ready: ReadyFunc(func(context.Context) error {
			return context.DeadlineExceeded
		}),
	})

	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestTrustQueriesHiddenFromOutsiders(t *testing.T) {
	api := newTestAPI(t)
	acme := api.obtainToken("alice", "acme", trust.RoleOrgAdmin)
	beta := api.obtainToken("bob", "beta", trust.RoleOrgAdmin)
	eve := api.obtainToken("eve", "eve", trust.RoleViewer)
	root := api.obtainToken("root", "", trust.RolePlatformAdmin)

	resp := api.post("/v1/relationships", map[string]any{
		"target_organization": "beta",
		"trust_level":         "high",
	}, acme)
	expectStatus(t, resp, http.StatusCreated)
	id := decode[map[string]any](t, resp)["id"].(string)
	for _, token := range []string{acme, beta} {
		resp = api.post("/v1/relationships/"+id+"/approve", nil, token)
		expectStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}

	pair := url.Values{"source": {"acme"}, "target": {"beta"}}
	access := url.Values{"requester": {"beta"}, "owner": {"acme"}}

	resp = api.get("/v1/relationships/"+id, nil, eve)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = api.get("/v1/trust/check", pair, eve)
	expectStatus(t, resp, http.StatusForbidden)
	if body := decode[map[string]any](t, resp); body["link"] != nil || body["found"] != nil {
		t.Fatalf("forbidden response leaked trust data: %v", body)
	}
	resp = api.get("/v1/trust/access", access, eve)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	// The target side and platform administrators may still ask.
	resp = api.get("/v1/trust/check", pair, beta)
	expectStatus(t, resp, http.StatusOK)
	if body := decode[map[string]any](t, resp); body["found"] != true {
		t.Fatalf("target should see its own trust: %v", body)
	}
	resp = api.get("/v1/trust/access", access, root)
	expectStatus(t, resp, http.StatusOK)
	if body := decode[map[string]any](t, resp); body["allowed"] != true {
		t.Fatalf("platform admin should see the decision: %v", body)
	}
}
