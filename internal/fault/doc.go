// Package fault defines the gateway's error taxonomy: a closed set of
// machine-readable kinds, each carrying a message, an actionable suggestion,
// and an HTTP status mapping used by the API layer.
package fault
