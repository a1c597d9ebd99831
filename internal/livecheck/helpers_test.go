package livecheck

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

const defaultRequestTimeout = 2 * time.Second

type liveClient struct {
	baseURL string
	client  *http.Client
}

func newLiveClient(t *testing.T) *liveClient {
	t.Helper()
	baseURL := strings.TrimRight(os.Getenv("MONITOR_BASE_URL"), "/")
	if baseURL == "" {
		t.Skip("MONITOR_BASE_URL not set")
	}
	client := &http.Client{Timeout: defaultRequestTimeout}

	if !isReachable(client, baseURL+"/api/status") {
		t.Skipf("monitor not reachable at %s", baseURL)
	}

	return &liveClient{
		baseURL: baseURL,
		client:  client,
	}
}

func isReachable(client *http.Client, url string) bool {
	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 500
}

func (c *liveClient) do(t *testing.T, method, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

func (c *liveClient) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	return c.do(t, http.MethodGet, path)
}

// readSSEEvent returns the first complete event on url.
func readSSEEvent(url, accept string, timeout time.Duration) (string, http.Header, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 256)
	for {
		n, readErr := resp.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			// Skip keepalive comments.
			for {
				idx := bytes.Index(buf, []byte("\n\n"))
				if idx < 0 {
					break
				}
				event := string(buf[:idx])
				buf = buf[idx+2:]
				if strings.HasPrefix(event, "data:") {
					return event, resp.Header, nil
				}
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return "", nil, fmt.Errorf("sse stream closed before event")
			}
			return "", nil, fmt.Errorf("read sse: %w", readErr)
		}
	}
}

func sseData(t *testing.T, event string) string {
	t.Helper()
	for _, line := range strings.Split(event, "\n") {
		if strings.HasPrefix(line, "data:") {
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				t.Fatalf("empty sse data line")
			}
			return payload
		}
	}
	t.Fatalf("no data line in sse event: %q", event)
	return ""
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireBool(t *testing.T, value any, field string) bool {
	t.Helper()
	b, ok := value.(bool)
	if !ok {
		t.Fatalf("expected %s to be bool, got %T", field, value)
	}
	return b
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

var connectionStates = map[string]bool{
	"connecting":   true,
	"connected":    true,
	"disconnected": true,
	"reconnecting": true,
}

func assertStatusPayload(t *testing.T, payload map[string]any) {
	t.Helper()
	conn := requireMap(t, payload["connection"], "connection")
	if state := requireString(t, conn["state"], "connection.state"); !connectionStates[state] {
		t.Fatalf("unknown connection state %q", state)
	}
	requireNumber(t, conn["retries"], "connection.retries")
	requireString(t, conn["url"], "connection.url")

	hs := requireMap(t, payload["health"], "health")
	requireString(t, hs["status"], "health.status")

	requireNumber(t, payload["frameWidth"], "frameWidth")
	requireNumber(t, payload["frameHeight"], "frameHeight")
	requireNumber(t, payload["fps"], "fps")
	requireBool(t, payload["processing"], "processing")
	requireNumber(t, payload["totalDetections"], "totalDetections")
	requireNumber(t, payload["activeCount"], "activeCount")
	requireNumber(t, payload["timestamp"], "timestamp")

	ppe := requireMap(t, payload["ppe"], "ppe")
	for _, part := range []string{"hardhat", "helmet", "head", "gloves", "hand", "vest", "safety_vest", "person"} {
		entry := requireMap(t, ppe[part], "ppe."+part)
		requireBool(t, entry["present"], "ppe."+part+".present")
		requireNumber(t, entry["confidence"], "ppe."+part+".confidence")
	}
	requireSlice(t, payload["missing"], "missing")

	for i, raw := range requireSlice(t, payload["violations"], "violations") {
		v := requireMap(t, raw, fmt.Sprintf("violations[%d]", i))
		entity := requireMap(t, v["entity"], fmt.Sprintf("violations[%d].entity", i))
		requireString(t, entity["personId"], "violations.entity.personId")
		requireSlice(t, entity["missing"], "violations.entity.missing")
	}
}

func assertDetectionPayload(t *testing.T, payload map[string]any) {
	t.Helper()
	requireString(t, payload["eventType"], "eventType")
	requireNumber(t, payload["frameWidth"], "frameWidth")
	requireNumber(t, payload["frameHeight"], "frameHeight")
	for i, raw := range requireSlice(t, payload["annotations"], "annotations") {
		a := requireMap(t, raw, fmt.Sprintf("annotations[%d]", i))
		requireString(t, a["type"], "annotations.type")
		requireNumber(t, a["confidence"], "annotations.confidence")
		requireString(t, a["color"], "annotations.color")
		requireBool(t, a["violation"], "annotations.violation")
		box := requireMap(t, a["boundingBox"], "annotations.boundingBox")
		for _, k := range []string{"x", "y", "width", "height"} {
			requireNumber(t, box[k], "annotations.boundingBox."+k)
		}
	}
}
