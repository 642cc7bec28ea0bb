// Package persistence records durable references to messages sent by paid
// participants.
package persistence

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"campusrelay/pkg/interfaces"
	"campusrelay/pkg/types"
)

// ErrPersistence wraps every failure to record or read back a message.
var ErrPersistence = errors.New("persistence failed")

const bodyRefPrefix = "blake2b-256:"

// ConversationID is the symmetric identifier for the pair a, b.
func ConversationID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "conv_" + a + "_" + b
}

// BodyRef derives a content address for a message body.
func BodyRef(body string) string {
	sum := blake2b.Sum256([]byte(body))
	return bodyRefPrefix + hex.EncodeToString(sum[:])
}

// Bridge adapts a MessageStore to the relay.
type Bridge struct {
	store interfaces.MessageStore
	now   func() time.Time
	newID func() string
}

// NewBridge creates a bridge over store.
func NewBridge(store interfaces.MessageStore) *Bridge {
	return &Bridge{store: store, now: time.Now, newID: uuid.NewString}
}

// Record stores a reference for one message from sender to recipient under
// messageID. An empty messageID gets a fresh one. Ids are unique per sender.
func (b *Bridge) Record(ctx context.Context, messageID, sender, recipient, bodyRef string) (types.PersistedMessage, error) {
	if messageID == "" {
		messageID = b.newID()
	}
	msg := types.PersistedMessage{
		MessageID:      messageID,
		ConversationID: ConversationID(sender, recipient),
		SenderID:       sender,
		RecipientID:    recipient,
		BodyRef:        bodyRef,
		Timestamp:      b.now().UTC().Format(time.RFC3339Nano),
	}
	if err := b.store.StoreMessage(ctx, &msg); err != nil {
		return types.PersistedMessage{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return msg, nil
}

// History lists up to limit references exchanged between a and b, oldest first.
func (b *Bridge) History(ctx context.Context, a, c string, limit int) ([]*types.PersistedMessage, error) {
	msgs, err := b.store.ListConversation(ctx, ConversationID(a, c), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return msgs, nil
}
