package interfaces

import (
	"context"

	"campusrelay/pkg/types"
)

// Directory resolves participants against the campus user tables.
// FUNCTIONAL DISCOVERY: lookups happen per message, never cached, so a
// counselor reassigned to another campus takes effect on the next message.
type Directory interface {
	// ResolveParticipant finds a user by id, counselors first, then students.
	// Returns ErrNotFound when neither table has the id.
	ResolveParticipant(ctx context.Context, userID string) (types.Participant, error)

	// LookupRecipient finds a user of the given role inside one campus.
	// Returns ErrNotFound when no such user exists there.
	LookupRecipient(ctx context.Context, role types.Role, userID, campusID string) (types.Participant, error)
}

// MessageStore records durable message references for privileged senders.
type MessageStore interface {
	StoreMessage(ctx context.Context, msg *types.PersistedMessage) error

	// ListConversation returns at most limit records, oldest first.
	ListConversation(ctx context.Context, conversationID string, limit int) ([]*types.PersistedMessage, error)
}
