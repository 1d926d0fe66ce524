// Package collector implements the client-side collection contract:
// visitor identity, throttled scroll sampling with visibility-aware
// timing, and the full-recording buffer. Each tracker is an explicit
// per-session state object; there is no package-level mutable state.
package collector

import (
	"fmt"
	"math/rand"
	"strconv"
	"time"
)

// browserIDKey is the fixed client-storage namespace for the visitor id.
const browserIDKey = "magneto_browser_id"

// IdentityStorage abstracts the client's persistent key/value storage
// (localStorage in a browser, a file in an embedded webview).
type IdentityStorage interface {
	Get(key string) (string, bool)
	Set(key, value string)
}

// VisitorIdentity is a pseudo-anonymous, browser-scoped id, optionally
// linked to an external user id. Immutable once minted.
type VisitorIdentity struct {
	BrowserID string
	UserID    string
}

// Identify returns the stored visitor id or mints and persists a new one.
func Identify(storage IdentityStorage, clock func() time.Time) VisitorIdentity {
	if id, ok := storage.Get(browserIDKey); ok && id != "" {
		return VisitorIdentity{BrowserID: id}
	}
	id := mintID("browser", clock)
	storage.Set(browserIDKey, id)
	return VisitorIdentity{BrowserID: id}
}

// WithUser links an external user id to the identity.
func (v VisitorIdentity) WithUser(userID string) VisitorIdentity {
	v.UserID = userID
	return v
}

// mintID builds `<prefix>_<unixms>_<9 char base36 suffix>`, matching the
// id scheme readers already have persisted.
func mintID(prefix string, clock func() time.Time) string {
	suffix := strconv.FormatUint(rand.Uint64(), 36)
	for len(suffix) < 9 {
		suffix = "0" + suffix
	}
	return fmt.Sprintf("%s_%d_%s", prefix, clock().UnixMilli(), suffix[:9])
}

// MemoryStorage is an in-memory IdentityStorage for tests and headless
// embedders.
type MemoryStorage map[string]string

func (m MemoryStorage) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

func (m MemoryStorage) Set(key, value string) { m[key] = value }
