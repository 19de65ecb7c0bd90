// ABOUTME: Store interface and data types for the usage ledger
// ABOUTME: Defines the Usage row recorded once per completed gateway request

package store

import (
	"context"
	"time"
)

// StatusOK marks a request that produced a response. Failed requests
// carry the error kind that ended them instead.
const StatusOK = "ok"

// Usage is one ledger row describing a completed request, successful or not.
type Usage struct {
	RequestID      string
	Provider       string
	Model          string
	ConversationID string // empty when the request carried no conversation
	Status         string // StatusOK or the error kind that ended the request
	LatencyMS      int64
	TextChars      int64 // length of the answer text, runes
	AudioBytes     int64 // size of the stored audio payload, 0 when speech was off
	CreatedAt      time.Time
}

// UsageFilter narrows a stats query. Nil fields match everything.
type UsageFilter struct {
	Provider *string
	Since    *time.Time
	Until    *time.Time
}

// UsageStats is an aggregate over matching ledger rows.
type UsageStats struct {
	RequestCount    int64
	CompletedCount  int64
	FailedCount     int64
	TotalTextChars  int64
	TotalAudioBytes int64
	TotalLatencyMS  int64
}

// Store defines the interface for usage ledger persistence
type Store interface {
	SaveUsage(ctx context.Context, usage *Usage) error

	// ListUsage returns the most recent rows, newest first.
	ListUsage(ctx context.Context, limit int) ([]*Usage, error)

	GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error)

	// Close releases any resources held by the store
	Close() error
}

// NopStore discards everything. Used when the ledger is disabled.
type NopStore struct{}

func (NopStore) SaveUsage(context.Context, *Usage) error { return nil }

func (NopStore) ListUsage(context.Context, int) ([]*Usage, error) { return []*Usage{}, nil }

func (NopStore) GetUsageStats(context.Context, UsageFilter) (*UsageStats, error) {
	return &UsageStats{}, nil
}

func (NopStore) Close() error { return nil }

var _ Store = NopStore{}
