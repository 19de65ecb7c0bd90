// ABOUTME: Conversation store contract and turn model
// ABOUTME: Backends keep bounded multi-turn history with TTL expiry

package conversation

import (
	"context"
	"time"
)

// Turn roles. The store accepts only these two; system instructions ride
// on the request, not in history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one utterance in a conversation, immutable once appended.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store keeps bounded conversation history. Implementations enforce
// len(turns) <= 2*maxTurns by evicting the oldest pair first, and expire
// whole conversations once idle past the TTL.
type Store interface {
	// Create registers a new empty conversation and returns its id.
	Create(ctx context.Context) (string, error)

	// Append adds one turn and bumps the activity clock. Unknown ids fail
	// with conversation_not_found.
	Append(ctx context.Context, id, role, content string) error

	// History returns the retained turns in order. Unknown ids yield an
	// empty slice, not an error.
	History(ctx context.Context, id string) ([]Turn, error)

	// SweepExpired removes conversations idle past the TTL and reports how
	// many were dropped. Runs off the request path.
	SweepExpired(ctx context.Context, now time.Time) int

	Close() error
}

// trimExcess reports how many turns to drop from the front so that length
// stays within max, widening to a whole pair so history never starts with
// an orphaned assistant turn.
func trimExcess(length, max int) int {
	if max <= 0 || length <= max {
		return 0
	}
	excess := length - max
	if excess%2 == 1 {
		excess++
	}
	return excess
}
