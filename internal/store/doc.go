// ABOUTME: Package doc for store.
// ABOUTME: Explains the usage ledger and what a row means.
//
// Package store persists the usage ledger: one row per completed request,
// successful or not, recording which provider and model served it, how long
// it took, and how much text and audio came back.
//
// The ledger is advisory. Writes happen after the response is already on
// its way to the caller, on a context detached from the request so a client
// hanging up never loses the row. A failed insert is logged and dropped;
// it never fails the request it describes.
//
// The SQLite implementation keeps the whole ledger in a single WAL-mode
// database file. NopStore stands in when the ledger is disabled.
package store
