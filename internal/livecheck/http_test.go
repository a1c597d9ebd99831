package livecheck

import (
	"net/http"
	"strings"
	"testing"
)

func TestLiveIndex(t *testing.T) {
	client := newLiveClient(t)
	resp, body := client.get(t, "/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET / status = %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("GET / content-type = %q", resp.Header.Get("Content-Type"))
	}
	html := string(body)
	for _, needle := range []string{"<title>PPE Monitor</title>", "/stream", "/api/status/stream", "/api/reconnect"} {
		if !strings.Contains(html, needle) {
			t.Fatalf("GET / missing %q", needle)
		}
	}

	resp, _ = client.get(t, "/assets/app.js")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET unknown path status = %d, want 404", resp.StatusCode)
	}
}

func TestLiveStatus(t *testing.T) {
	client := newLiveClient(t)
	resp, body := client.get(t, "/api/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/status status = %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		t.Fatalf("GET /api/status content-type = %q", resp.Header.Get("Content-Type"))
	}
	assertStatusPayload(t, decodeJSONMap(t, body))
}

func TestLiveReconnectRejectsGet(t *testing.T) {
	client := newLiveClient(t)
	resp, _ := client.get(t, "/api/reconnect")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET /api/reconnect status = %d, want 405", resp.StatusCode)
	}
}

func TestLiveReconnect(t *testing.T) {
	client := newLiveClient(t)
	resp, body := client.do(t, http.MethodPost, "/api/reconnect")
	switch resp.StatusCode {
	case http.StatusOK, http.StatusBadGateway:
		payload := decodeJSONMap(t, body)
		if state := requireString(t, payload["status"], "status"); !connectionStates[state] {
			t.Fatalf("unknown connection state %q", state)
		}
	case http.StatusConflict:
		requireString(t, decodeJSONMap(t, body)["error"], "error")
	default:
		t.Fatalf("POST /api/reconnect status = %d body=%s", resp.StatusCode, body)
	}
}

func TestLiveMetrics(t *testing.T) {
	client := newLiveClient(t)
	resp, body := client.get(t, "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /metrics status = %d", resp.StatusCode)
	}
	for _, name := range []string{"ppe_messages_received_total", "ppe_connection_state", "ppe_render_fps"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("metrics missing %s", name)
		}
	}
}
