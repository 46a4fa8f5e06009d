package sigha

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientSessionFlow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/sessions":
			_ = json.NewEncoder(w).Encode(SessionInfo{SessionID: "s1", T: "4", Depth: 0})
		case "/api/v1/sessions/update":
			var req map[string]string
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode update: %v", err)
			}
			if req["agent_id"] != "planner" {
				t.Errorf("agent_id = %s", req["agent_id"])
			}
			_ = json.NewEncoder(w).Encode(SessionInfo{SessionID: "s1", T: "9", Depth: 1, Path: []string{"planner"}})
		case "/api/v1/verify/path":
			_ = json.NewEncoder(w).Encode(VerifyResult{OK: true, Reason: "ok"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx := context.Background()

	info, err := client.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if info.SessionID != "s1" {
		t.Fatalf("session id = %s", info.SessionID)
	}

	updated, err := client.Update(ctx, "s1", "planner", "")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Depth != 1 || updated.T != "9" {
		t.Fatalf("unexpected update response: %+v", updated)
	}

	verdict, err := client.VerifyPath(ctx, "9", []string{"planner"})
	if err != nil {
		t.Fatalf("VerifyPath: %v", err)
	}
	if !verdict.OK {
		t.Fatalf("unexpected verdict: %+v", verdict)
	}
}

func TestClientDecodesAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"SESSION_NOT_FOUND","message":"session not found"}}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = client.GetSession(context.Background(), "ghost")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "SESSION_NOT_FOUND" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}
