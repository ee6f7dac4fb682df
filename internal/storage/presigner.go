// Package storage resolves stored media keys into time-limited public URLs.
//
// Media files live under a CDN-fronted base URL; access control is an HMAC
// signature over the object key and an expiry timestamp, checked at the edge.
// Database rows keep the bare key ("{userID}/{uuid}.jpg") so rotation of the
// base URL or the signing secret never invalidates stored messages.
package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Resolver signs and resolves media keys. The zero value is not usable;
// construct with NewResolver.
type Resolver struct {
	baseURL string
	secret  []byte
	ttl     time.Duration

	now func() time.Time
}

// NewResolver builds a Resolver. baseURL is the public media origin without a
// trailing slash; ttl bounds how long resolved URLs stay valid.
func NewResolver(baseURL, secret string, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Resolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  []byte(secret),
		ttl:     ttl,
		now:     time.Now,
	}
}

// PresignURL resolves a stored key into a signed public URL. Values that are
// already absolute URLs pass through untouched so legacy rows keep working.
func (r *Resolver) PresignURL(key string) string {
	if key == "" || isAbsolute(key) {
		return key
	}
	expires := r.now().Add(r.ttl).Unix()
	sig := r.sign(key, expires)
	return fmt.Sprintf("%s/%s?expires=%d&sig=%s", r.baseURL, escapeKey(key), expires, sig)
}

// PresignBatch resolves a set of keys, preserving input order in the result.
func (r *Resolver) PresignBatch(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = r.PresignURL(k)
	}
	return out
}

// ExtractKey strips the public base from a resolved URL, returning the bare
// storage key. Bare keys and foreign URLs come back unchanged.
func (r *Resolver) ExtractKey(urlOrKey string) string {
	if !isAbsolute(urlOrKey) {
		return urlOrKey
	}
	if r.baseURL == "" || !strings.HasPrefix(urlOrKey, r.baseURL) {
		return urlOrKey
	}
	rest := strings.TrimLeft(strings.TrimPrefix(urlOrKey, r.baseURL), "/")
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		rest = rest[:i]
	}
	if unescaped, err := url.PathUnescape(rest); err == nil {
		return unescaped
	}
	return rest
}

// ExtractKeyBatch normalizes a set of references, preserving input order.
func (r *Resolver) ExtractKeyBatch(refs []string) []string {
	if len(refs) == 0 {
		return nil
	}
	out := make([]string, len(refs))
	for i, ref := range refs {
		out[i] = r.ExtractKey(ref)
	}
	return out
}

func (r *Resolver) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, r.secret)
	mac.Write([]byte(key))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

func isAbsolute(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// escapeKey percent-encodes each path segment while keeping the slashes that
// separate them.
func escapeKey(key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
