// Package session caches one upstream tool-execution session per user.
//
// Invariants:
// - A user has at most one cached session; a later store replaces an earlier one.
// - ExpiresAt is fixed at creation (CreatedAt + TTL) and checked lazily on every read.
// - A UserSession returned to callers is never mutated; rotation replaces it.
// - No lock is held while the upstream provisioner is called.
//
// Two callers that miss the cache at the same moment may both provision; the
// later store wins. Enable single-flight to coalesce them instead.
//
// Usage:
//
//	store := session.NewMemoryStore(provisioner)
//	sess, err := store.GetOrCreate(ctx, "user-1")
//	_ = store.Invalidate(ctx, "user-1")
package session
