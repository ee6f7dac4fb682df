package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSend_PostsExpectedPayload(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewPusher(srv.URL, "tok", time.Second)
	ok := p.Send(context.Background(), "user-1", "New message", "Hello there", map[string]any{
		"conversation_id": "c-1",
	})
	if !ok {
		t.Fatalf("Send returned false")
	}

	if gotPath != "/notifications/user-1/send" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("auth = %q", gotAuth)
	}

	data, _ := gotBody["data"].(map[string]any)
	if data == nil {
		t.Fatalf("payload missing data envelope: %#v", gotBody)
	}
	if data["title"] != "New message" || data["body"] != "Hello there" || data["conversation_id"] != "c-1" {
		t.Fatalf("payload = %#v", data)
	}
}

func TestSend_FalseOnUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewPusher(srv.URL, "tok", time.Second)
	if p.Send(context.Background(), "user-1", "t", "b", nil) {
		t.Fatalf("expected false on 502")
	}
}

func TestSend_FalseOnTransportError(t *testing.T) {
	p := NewPusher("http://127.0.0.1:1", "tok", 200*time.Millisecond)
	if p.Send(context.Background(), "user-1", "t", "b", nil) {
		t.Fatalf("expected false on connection failure")
	}
}

func TestSend_UnconfiguredDropsSilently(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
	}))
	defer srv.Close()

	p := NewPusher(srv.URL, "", time.Second)
	if p.IsConfigured() {
		t.Fatalf("empty token should not be configured")
	}
	if p.Send(context.Background(), "user-1", "t", "b", nil) {
		t.Fatalf("unconfigured Send should return false")
	}
	if called {
		t.Fatalf("unconfigured Send should not hit the network")
	}
}

func TestSend_EscapesUserID(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewPusher(srv.URL, "tok", time.Second)
	p.Send(context.Background(), "user/../admin", "t", "b", nil)
	if gotPath != "/notifications/user%2F..%2Fadmin/send" {
		t.Fatalf("path = %q", gotPath)
	}
}
