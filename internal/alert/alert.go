// Package alert escalates safety classifications out of band.
package alert

import (
	"context"
	"log/slog"
)

// Actions reported back to API callers.
const (
	ActionConsoleLog        = "Console Log Alert"
	ActionAdminNotification = "Admin Notification"
)

// Alert describes one classified message.
type Alert struct {
	SenderID    string
	RecipientID string
	CampusID    string
	MessageID   string
	Kind        string
	Phrase      string
}

// Alerter receives emergency and misconduct escalations. Implementations
// must return promptly; they run on the sender's routing path.
type Alerter interface {
	Emergency(ctx context.Context, a Alert) []string
	Misconduct(ctx context.Context, a Alert) []string
}

// Contacts are the people an emergency escalation is addressed to.
type Contacts struct {
	Phone string
	Email string
}

// LogAlerter records escalations as error-level structured log entries.
type LogAlerter struct {
	logger   *slog.Logger
	contacts Contacts
}

// NewLogAlerter creates an alerter writing to logger.
func NewLogAlerter(logger *slog.Logger, contacts Contacts) *LogAlerter {
	return &LogAlerter{logger: logger.With("component", "alert"), contacts: contacts}
}

// Emergency logs a student danger signal addressed to the emergency contacts.
func (l *LogAlerter) Emergency(ctx context.Context, a Alert) []string {
	l.logger.ErrorContext(ctx, "emergency alert",
		"sender_id", a.SenderID,
		"recipient_id", a.RecipientID,
		"campus_id", a.CampusID,
		"message_id", a.MessageID,
		"phrase", a.Phrase,
		"contact_phone", l.contacts.Phone,
		"contact_email", l.contacts.Email,
	)
	return []string{ActionConsoleLog}
}

// Misconduct logs a flagged counselor message for administrators.
func (l *LogAlerter) Misconduct(ctx context.Context, a Alert) []string {
	l.logger.ErrorContext(ctx, "counselor misconduct detected",
		"counselor_id", a.SenderID,
		"student_id", a.RecipientID,
		"campus_id", a.CampusID,
		"message_id", a.MessageID,
		"misconduct_type", a.Kind,
		"phrase", a.Phrase,
	)
	return []string{ActionConsoleLog, ActionAdminNotification}
}
