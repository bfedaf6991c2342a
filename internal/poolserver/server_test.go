package poolserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloverlabs/sessionpool/internal/remote"
)

func postJSON(t *testing.T, srv *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func createSession(t *testing.T, srv *httptest.Server, text string) remote.SessionEnvelope {
	t.Helper()
	body := map[string]any{"session": map[string]any{
		"initialMessages": []map[string]any{{"role": "user", "text": text}},
	}}
	resp := postJSON(t, srv, "/sessions", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create returned status %d", resp.StatusCode)
	}
	return decodeBody[remote.SessionEnvelope](t, resp)
}

func TestListPagination(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(New(nil).Router())
	t.Cleanup(srv.Close)

	for i := 0; i < 5; i++ {
		createSession(t, srv, fmt.Sprintf("session %d", i))
	}

	resp, err := http.Get(srv.URL + "/sessions?limit=2")
	if err != nil {
		t.Fatalf("GET /sessions failed: %v", err)
	}
	page := decodeBody[remote.SessionPage](t, resp)
	if len(page.Sessions) != 2 || !page.HasMore || page.NextCursor == "" {
		t.Fatalf("unexpected first page: %+v", page)
	}

	seen := map[string]bool{}
	for _, s := range page.Sessions {
		seen[s.ID] = true
	}

	cursor := page.NextCursor
	total := len(page.Sessions)
	for cursor != "" {
		resp, err := http.Get(srv.URL + "/sessions?limit=2&cursor=" + cursor)
		if err != nil {
			t.Fatalf("paged GET failed: %v", err)
		}
		page = decodeBody[remote.SessionPage](t, resp)
		for _, s := range page.Sessions {
			if seen[s.ID] {
				t.Fatalf("session %s returned on two pages", s.ID)
			}
			seen[s.ID] = true
		}
		total += len(page.Sessions)
		cursor = page.NextCursor
	}

	if total != 5 {
		t.Fatalf("pagination returned %d sessions, want 5", total)
	}
}

func TestAppendUnknownSessionReturns404(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(New(nil).Router())
	t.Cleanup(srv.Close)

	resp := postJSON(t, srv, "/sessions/nope/messages", map[string]any{"messages": []any{}})
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHealthHeartbeat(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(New(nil).Router())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
