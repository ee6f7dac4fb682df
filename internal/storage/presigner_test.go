package storage

import (
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"
)

func testResolver(t *testing.T) *Resolver {
	t.Helper()
	r := NewResolver("https://media.example.com", "secret", time.Hour)
	r.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return r
}

func TestPresignURL_SignsBareKeys(t *testing.T) {
	r := testResolver(t)

	signed := r.PresignURL("user-1/abc.jpg")
	u, err := url.Parse(signed)
	if err != nil {
		t.Fatalf("parse signed URL: %v", err)
	}
	if u.Host != "media.example.com" || u.Path != "/user-1/abc.jpg" {
		t.Fatalf("unexpected URL %q", signed)
	}

	expires, err := strconv.ParseInt(u.Query().Get("expires"), 10, 64)
	if err != nil {
		t.Fatalf("expires not numeric: %v", err)
	}
	if expires != 1_700_000_000+3600 {
		t.Fatalf("expires = %d", expires)
	}
	if u.Query().Get("sig") != r.sign("user-1/abc.jpg", expires) {
		t.Fatalf("signature does not match the key/expiry pair")
	}
}

func TestPresignURL_PassThrough(t *testing.T) {
	r := testResolver(t)
	for _, v := range []string{"", "https://other.cdn/x.jpg", "http://legacy/y.png"} {
		if got := r.PresignURL(v); got != v {
			t.Fatalf("PresignURL(%q) = %q, want pass-through", v, got)
		}
	}
}

func TestPresignURL_EscapesSegments(t *testing.T) {
	r := testResolver(t)
	signed := r.PresignURL("user 1/a b.jpg")
	if !strings.Contains(signed, "/user%201/a%20b.jpg?") {
		t.Fatalf("segments not escaped: %q", signed)
	}
}

func TestPresignBatch_PreservesOrder(t *testing.T) {
	r := testResolver(t)
	out := r.PresignBatch([]string{"u/a.jpg", "https://other/x.jpg", "u/b.png"})
	if len(out) != 3 {
		t.Fatalf("len = %d", len(out))
	}
	if !strings.HasPrefix(out[0], "https://media.example.com/u/a.jpg?") {
		t.Fatalf("out[0] = %q", out[0])
	}
	if out[1] != "https://other/x.jpg" {
		t.Fatalf("out[1] = %q", out[1])
	}
	if r.PresignBatch(nil) != nil {
		t.Fatalf("empty batch should be nil")
	}
}

func TestExtractKey(t *testing.T) {
	r := testResolver(t)

	cases := []struct{ in, want string }{
		{"user-1/abc.jpg", "user-1/abc.jpg"},
		{"https://media.example.com/user-1/abc.jpg?expires=1&sig=x", "user-1/abc.jpg"},
		{"https://media.example.com/user%201/a%20b.jpg", "user 1/a b.jpg"},
		{"https://elsewhere.com/user-1/abc.jpg", "https://elsewhere.com/user-1/abc.jpg"},
	}
	for _, tc := range cases {
		if got := r.ExtractKey(tc.in); got != tc.want {
			t.Fatalf("ExtractKey(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestExtractKey_RoundTripsPresign(t *testing.T) {
	r := testResolver(t)
	key := "user-1/clip.ogg"
	if got := r.ExtractKey(r.PresignURL(key)); got != key {
		t.Fatalf("round trip = %q, want %q", got, key)
	}
}

func TestExtractKeyBatch(t *testing.T) {
	r := testResolver(t)
	out := r.ExtractKeyBatch([]string{
		r.PresignURL("u/a.jpg"),
		"u/b.png",
		"https://elsewhere.com/c.gif",
	})
	want := []string{"u/a.jpg", "u/b.png", "https://elsewhere.com/c.gif"}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out[%d] = %q, want %q", i, out[i], want[i])
		}
	}
	if r.ExtractKeyBatch(nil) != nil {
		t.Fatalf("empty batch should be nil")
	}
}
