// ABOUTME: Package documentation for conversation storage
// ABOUTME: Describes bounded history, pair eviction, and TTL expiry

// Package conversation stores bounded multi-turn chat history.
//
// A Store keeps at most 2*maxTurns turns per conversation. When an append
// overflows the bound, the oldest user+assistant pair is evicted, so the
// retained history is always the most recent context and never starts with
// an orphaned assistant turn. Conversations idle longer than the TTL are
// reaped in the background.
//
// Two backends implement the same interface: MemoryStore (the default,
// per-entry locking with a reaper goroutine) and RedisStore (turns in a
// Redis list, expiry delegated to server-side TTLs). Conversation ids are
// UUIDs; they are the only handle a caller holds, so they must stay
// unguessable.
package conversation
