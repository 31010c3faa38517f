package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"SwarmQuarry/internal/auth"
	"SwarmQuarry/internal/swarm"
)

type testClient struct {
	t       *testing.T
	handler http.Handler
}

func newTestServer(t *testing.T, cfg auth.Config) *testClient {
	t.Helper()
	svc := swarm.NewService(swarm.NewRegistry())
	server := NewServer(":0", svc, auth.NewGate(cfg))
	return &testClient{t: t, handler: server.Handler()}
}

// get 以指定客户端地址发起请求并解码响应。
func (c *testClient) get(path, remote string) map[string]any {
	c.t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remote + ":40000"
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		c.t.Fatalf("%s: unexpected status %d", path, rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		c.t.Fatalf("%s: decode response %q: %v", path, rec.Body.String(), err)
	}
	return body
}

const owner = "10.0.0.5"

func TestSwarmLifecycleOverHTTP(t *testing.T) {
	c := newTestServer(t, auth.Config{Token: "pw", IPLock: true})

	created := c.get("/swarm/pit/create/?token=pw&width=5&length=5", owner)
	if created["success"] != "swarm created" || created["shafts"] != float64(5) {
		t.Fatalf("unexpected create response: %v", created)
	}

	claim := c.get("/swarm/pit/claimshaft/?token=pw&id=1", owner)
	shaft, ok := claim["success"].(map[string]any)
	if !ok || shaft["x"] != float64(0) || shaft["z"] != float64(0) || claim["remaining"] != float64(4) {
		t.Fatalf("unexpected claim response: %v", claim)
	}

	done := c.get("/swarm/pit/finishedshaft/?token=pw&x=0&z=0", owner)
	if done["success"] != true {
		t.Fatalf("unexpected finished response: %v", done)
	}
	again := c.get("/swarm/pit/finishedshaft/?token=pw&x=0&z=0", owner)
	if again["error"] != "shaft not found" || again["code"] != string(swarm.CodeShaftNotFound) {
		t.Fatalf("repeat completion should be not found: %v", again)
	}

	list := c.get("/swarm/", "203.0.113.9")
	ids, _ := list["success"].([]any)
	if len(ids) != 1 || ids[0] != "pit" {
		t.Fatalf("unexpected list: %v", list)
	}

	stats := c.get("/swarm/pit/stats/", "203.0.113.9")
	if s, _ := stats["success"].(map[string]any); s["done"] != float64(1) || s["pending"] != float64(4) {
		t.Fatalf("unexpected stats: %v", stats)
	}
}

func TestSwarmInfoHidesOwner(t *testing.T) {
	c := newTestServer(t, auth.Config{})
	c.get("/swarm/pit/create/?width=3&length=3", owner)

	info := c.get("/swarm/pit/", "198.51.100.1")
	payload, _ := json.Marshal(info)
	if strings.Contains(string(payload), owner) || strings.Contains(string(payload), `"ip"`) {
		t.Fatalf("swarm info leaked the owner address: %s", payload)
	}
	body, _ := info["success"].(map[string]any)
	if _, ok := body["pit"]; !ok {
		t.Fatalf("info should be keyed by swarm id: %v", info)
	}

	missing := c.get("/swarm/ghost/", owner)
	errBody, _ := missing["error"].(map[string]any)
	if errBody["message"] != "Invalid swarm" {
		t.Fatalf("unexpected missing swarm response: %v", missing)
	}
}

func TestCreateValidation(t *testing.T) {
	c := newTestServer(t, auth.Config{Token: "pw"})

	if got := c.get("/swarm/pit/create/?width=5&length=5", owner); got["error"] != "invalid token" {
		t.Fatalf("missing token should be rejected: %v", got)
	}
	if got := c.get("/swarm/pit/create/?token=pw&width=5", owner); got["error"] != "missing parameters" {
		t.Fatalf("missing length should be rejected: %v", got)
	}
	if got := c.get("/swarm/pit/create/?token=pw&width=-1&length=5", owner); got["error"] != "missing parameters" {
		t.Fatalf("negative width should be rejected: %v", got)
	}
	c.get("/swarm/pit/create/?token=pw&width=5&length=5", owner)
	if got := c.get("/swarm/pit/create/?token=pw&width=5&length=5", owner); got["error"] != "swarm exists" {
		t.Fatalf("duplicate create should be rejected: %v", got)
	}
}

func TestMutationsRequireOwnerAndToken(t *testing.T) {
	c := newTestServer(t, auth.Config{Token: "pw", IPLock: true})
	c.get("/swarm/pit/create/?token=pw&width=5&length=5", owner)

	if got := c.get("/swarm/pit/claimshaft/?token=wrong&id=1", owner); got["error"] != "invalid token" {
		t.Fatalf("bad token should be rejected: %v", got)
	}
	if got := c.get("/swarm/pit/claimshaft/?token=pw&id=1", "10.0.0.99"); got["error"] != "ip mismatch" {
		t.Fatalf("foreign address should be rejected: %v", got)
	}
	if got := c.get("/swarm/ghost/claimshaft/?token=pw&id=1", owner); got["error"] != "swarm does not exist" {
		t.Fatalf("unknown swarm should be reported: %v", got)
	}
	if got := c.get("/swarm/pit/claimshaft/?token=pw", owner); got["error"] != "missing parameters" {
		t.Fatalf("missing worker id should be rejected: %v", got)
	}
	if got := c.get("/swarm/pit/dance/?token=pw", owner); got["error"] != "unrecognized command" {
		t.Fatalf("unknown command should be rejected: %v", got)
	}
}

func TestForwardedForIsHonoured(t *testing.T) {
	svc := swarm.NewService(swarm.NewRegistry())
	handler := NewServer(":0", svc, auth.NewGate(auth.Config{IPLock: true, TrustForwardedFor: true})).Handler()

	send := func(path, forwarded string) map[string]any {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "127.0.0.1:5000"
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		var body map[string]any
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
		return body
	}

	send("/swarm/pit/create/?width=5&length=5", "203.0.113.7")
	if got := send("/swarm/pit/claimshaft/?id=1", "203.0.113.8"); got["error"] != "ip mismatch" {
		t.Fatalf("proxy client address should be compared: %v", got)
	}
	if got := send("/swarm/pit/claimshaft/?id=1", "203.0.113.7"); got["success"] == nil {
		t.Fatalf("owner behind proxy should be accepted: %v", got)
	}
}

func TestClaimExhaustion(t *testing.T) {
	c := newTestServer(t, auth.Config{})
	c.get("/swarm/tiny/create/?width=1&length=1", owner)
	c.get("/swarm/tiny/claimshaft/?id=1", owner)

	got := c.get("/swarm/tiny/claimshaft/?id=2", owner)
	if got["error"] != "no remaining shafts" || got["remaining"] != float64(0) {
		t.Fatalf("unexpected exhaustion response: %v", got)
	}
}

func TestTravelAdmissionOverHTTP(t *testing.T) {
	c := newTestServer(t, auth.Config{})
	c.get("/swarm/pit/create/?width=5&length=5", owner)

	first := c.get("/swarm/pit/travel/?id=1&startX=0&startY=60&startZ=0&destX=5&destY=60&destZ=5", owner)
	if first["success"] != true {
		t.Fatalf("first reservation should be admitted: %v", first)
	}
	crossing := c.get("/swarm/pit/travel/?id=2&fromX=5&fromZ=0&destX=0&destZ=5", owner)
	if crossing["error"] != "travel path intersects with queued path" || crossing["code"] != "CONFLICT" {
		t.Fatalf("crossing path should be rejected: %v", crossing)
	}
	if got := c.get("/swarm/pit/travel/?id=2&startX=1&destX=2&destZ=2", owner); got["error"] != "missing parameters" {
		t.Fatalf("incomplete start should be rejected: %v", got)
	}

	if got := c.get("/swarm/pit/traveldone/?id=1", owner); got["success"] != true || got["error"] != nil {
		t.Fatalf("release should succeed: %v", got)
	}
	noop := c.get("/swarm/pit/traveldone/?id=1", owner)
	if noop["success"] != true || noop["error"] != "travel id not exist" {
		t.Fatalf("second release should be a flagged no-op: %v", noop)
	}
	if got := c.get("/swarm/pit/travel/?id=2&fromX=5&fromZ=0&destX=0&destZ=5", owner); got["success"] != true {
		t.Fatalf("path should be free after release: %v", got)
	}
}

func TestHealthAndRequestID(t *testing.T) {
	c := newTestServer(t, auth.Config{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)

	if rec.Header().Get(RequestIDHeader) != "abc-123" {
		t.Fatalf("request id should be echoed, got %q", rec.Header().Get(RequestIDHeader))
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s, _ := body["success"].(map[string]any); s["status"] != "ok" {
		t.Fatalf("unexpected health response: %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	c := newTestServer(t, auth.Config{})
	c.get("/swarm/", owner)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "quarry_http_requests_total") {
		t.Fatalf("metrics endpoint missing http counters: %d", rec.Code)
	}
}

func TestOutOfRangeCoordinatesRejected(t *testing.T) {
	c := newTestServer(t, auth.Config{})
	c.get("/swarm/pit/create/?width=5&length=5", owner)

	if got := c.get("/swarm/pit/travel/?id=1&startX=0&startZ=0&destX=3037000500&destZ=0", owner); got["error"] != "missing parameters" {
		t.Fatalf("oversized destX should be rejected: %v", got)
	}
	if got := c.get("/swarm/pit/travel/?id=1&startX=-99999999999999999999&startZ=0&destX=1&destZ=0", owner); got["error"] != "missing parameters" {
		t.Fatalf("overflowing startX should be rejected: %v", got)
	}
	if got := c.get("/swarm/pit/create/?width=9999999999&length=5", owner); got["error"] != "missing parameters" {
		t.Fatalf("oversized width should be rejected: %v", got)
	}
	if got := c.get("/swarm/pit/travel/?id=1&startX=0&startZ=0&destX=1073741824&destZ=0", owner); got["success"] != true {
		t.Fatalf("coordinate at the bound should be admitted: %v", got)
	}
}
