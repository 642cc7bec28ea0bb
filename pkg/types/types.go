package types

// Role identifies which side of a counselling conversation a participant is on.
// Wire values match the role claim carried in access tokens.
type Role string

const (
	RoleStudent   Role = "Student"
	RoleCounselor Role = "Counselor"
	RoleAdmin     Role = "Admin"
)

// DeliveryStatus is the outcome reported to a sender in a receipt.
type DeliveryStatus string

const (
	StatusDelivered DeliveryStatus = "delivered"
	StatusPending   DeliveryStatus = "pending"
)

// DefaultMessageType is applied when an inbound payload omits "type".
const DefaultMessageType = "text"

// ReceiptType tags delivery receipts on the wire.
const ReceiptType = "delivery_receipt"

// Identity is an authenticated participant as established by the handshake.
type Identity struct {
	UserID string
	Role   Role
	// Paid marks privileged senders whose messages are also persisted.
	Paid bool
}

// Participant is the directory view of an identity, resolved fresh per message.
type Participant struct {
	UserID   string
	Name     string
	CampusID string
	Role     Role
}

// DisplayName falls back to the user id when the directory has no name.
func (p Participant) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.UserID
}

// InboundMessage is one payload read from a relay connection.
type InboundMessage struct {
	RecipientUserID string `json:"recipient_user_id"`
	Message         string `json:"message" validate:"max=65536"`
	MessageID       string `json:"message_id,omitempty" validate:"omitempty,max=128"`
	Timestamp       string `json:"timestamp,omitempty" validate:"omitempty,max=64"`
	Type            string `json:"type,omitempty" validate:"omitempty,max=64"`
}

// Envelope is the routed unit delivered to a recipient. Values are treated as
// immutable; safety annotations produce a copy.
type Envelope struct {
	MessageID       string `json:"message_id"`
	SenderUserID    string `json:"sender_user_id"`
	SenderName      string `json:"sender_name,omitempty"`
	RecipientUserID string `json:"recipient_user_id"`
	CampusID        string `json:"campus_id"`
	Timestamp       string `json:"timestamp"`
	Message         string `json:"message"`
	Type            string `json:"type"`
	SenderRole      Role   `json:"sender_role"`
	Flagged         bool   `json:"flagged,omitempty"`
	MisconductType  string `json:"misconduct_type,omitempty"`
	Emergency       bool   `json:"emergency,omitempty"`
}

// WithMisconduct returns a copy of e flagged with the given misconduct kind.
func (e Envelope) WithMisconduct(kind string) Envelope {
	e.Flagged = true
	e.MisconductType = kind
	return e
}

// WithEmergency returns a copy of e marked as an emergency.
func (e Envelope) WithEmergency() Envelope {
	e.Emergency = true
	return e
}

// Receipt acknowledges one envelope back to its sender.
type Receipt struct {
	Type      string         `json:"type"`
	MessageID string         `json:"message_id"`
	Status    DeliveryStatus `json:"status"`
	Timestamp string         `json:"timestamp"`
	Error     string         `json:"error,omitempty"`
}

// Rejection is returned to a sender when a payload cannot be routed.
type Rejection struct {
	Error     string `json:"error"`
	MessageID string `json:"message_id"`
}

// PersistedMessage is the durable reference recorded for privileged senders.
type PersistedMessage struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	RecipientID    string `json:"recipient_id"`
	BodyRef        string `json:"body_ref"`
	Timestamp      string `json:"timestamp"`
}

// School is a campus tenant.
type School struct {
	ID       string `json:"school_id"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
}

// Counselor is a directory row for a counselor account.
type Counselor struct {
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	CampusID string `json:"campus_id"`
}

// Student is a directory row for a student account.
type Student struct {
	UserID   string `json:"user_id"`
	CampusID string `json:"campus_id"`
	Paid     bool   `json:"is_paid"`
}
