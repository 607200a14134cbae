package restapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/devmesh/meshnode"
	"github.com/devmesh/meshnode/internal/config"
)

type testLogger struct{}

func (testLogger) Debug(string, ...any) {}
func (testLogger) Info(string, ...any)  {}
func (testLogger) Warn(string, ...any)  {}
func (testLogger) Error(string, ...any) {}

type testDevice struct {
	values map[string]any
}

func newTestDevice() *testDevice {
	return &testDevice{values: make(map[string]any)}
}

func (d *testDevice) Get(ctx context.Context, property string) (any, error) {
	return d.values[property], nil
}
func (d *testDevice) Set(ctx context.Context, property string, value any) (any, error) {
	d.values[property] = value
	return value, nil
}
func (d *testDevice) Invoke(ctx context.Context, method string, params []any) (any, error) {
	return len(params), nil
}
func (d *testDevice) Subscribe(ctx context.Context, event string) (any, error) {
	return "ok", nil
}
func (d *testDevice) Describe(ctx context.Context, property string) (any, error) {
	return map[string]string{"ident": property}, nil
}
func (d *testDevice) Config(ctx context.Context, property string, value any) (any, error) {
	return value, nil
}

func testServer(t *testing.T) (*Server, *meshnode.Node) {
	t.Helper()
	node := meshnode.NewNode(meshnode.NodeConfig{DefaultDomain: "home", ClaimUnowned: true})
	if _, err := node.Register(context.Background(), "lamp1", newTestDevice()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	srv := New(node, config.RESTConfig{Host: "127.0.0.1", Port: 0, Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5}}, testLogger{}, nil)
	return srv, node
}

func decodeJSON(t *testing.T, body *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(body.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal body %q: %v", body.Body.String(), err)
	}
}

func TestHandleGet_ReturnsValue(t *testing.T) {
	srv, node := testServer(t)
	router := srv.buildRouter()

	proxy, err := node.Connect(context.Background(), "lamp1")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	proxy.Set(context.Background(), "brightness", 7)
	node.Disconnect(context.Background(), proxy)

	req := httptest.NewRequest(http.MethodGet, "/dapi/lamp1/brightness", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp map[string]any
	decodeJSON(t, w, &resp)
	if resp["result"].(float64) != 7 {
		t.Errorf("result = %v, want 7", resp["result"])
	}
}

func TestHandleGet_UnknownDeviceReturnsNotFound(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/dapi/ghost/brightness", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHandleGet_SchemaUsesDescribe(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/dapi/lamp1/.schema", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp map[string]any
	decodeJSON(t, w, &resp)
	result, ok := resp["result"].(map[string]any)
	if !ok || result["ident"] != ".schema" {
		t.Errorf("result = %v, want describe of .schema", resp["result"])
	}
}

func TestHandlePut_SetsValue(t *testing.T) {
	srv, node := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPut, "/dapi/lamp1/brightness", strings.NewReader(`{"value": 9}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	proxy, err := node.Connect(context.Background(), "lamp1")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer node.Disconnect(context.Background(), proxy)
	got, err := proxy.Get(context.Background(), "brightness")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.(float64) != 9 {
		t.Errorf("brightness = %v, want 9", got)
	}
}

func TestHandlePut_ConfigUsesConfigVerb(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPut, "/dapi/lamp1/.config", strings.NewReader(`{"value": {"poll_interval": 30}}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
}

func TestHandlePut_InvalidJSONReturnsBadRequest(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPut, "/dapi/lamp1/brightness", strings.NewReader("not json"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandlePost_InvokesMethod(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/dapi/lamp1/blink", strings.NewReader(`{"params": [1, 2, 3]}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp map[string]any
	decodeJSON(t, w, &resp)
	if resp["result"].(float64) != 3 {
		t.Errorf("result = %v, want 3 (len(params))", resp["result"])
	}
}

func TestHandlePost_MetricsRequiresKey(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/dapi/lamp1/metrics", strings.NewReader(`{"value": 5}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d; body: %s", w.Code, http.StatusBadRequest, w.Body.String())
	}
}

func TestHandlePost_MetricsAccepted(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/dapi/lamp1/metrics", strings.NewReader(`{"key": "temperature", "value": 21.5}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusAccepted, w.Body.String())
	}
}

func TestHandlePost_EventsFallsBackToWrappedValue(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/dapi/lamp1/events", strings.NewReader(`{"key": "motion", "value": true}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusAccepted, w.Body.String())
	}
}

func TestHandlePost_EventsRequiresKey(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/dapi/lamp1/events", strings.NewReader(`{"value": true}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}
