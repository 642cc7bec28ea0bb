// Package router runs each inbound relay payload through validation,
// authorization, safety screening, delivery and receipt.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"campusrelay/internal/alert"
	"campusrelay/internal/persistence"
	"campusrelay/internal/safety"
	"campusrelay/pkg/interfaces"
	"campusrelay/pkg/types"
)

// State is a step of the per-message state machine.
type State int

const (
	StateReceived State = iota
	StateParsed
	StateSenderResolved
	StateRecipientAuthorized
	StateClassified
	StateDelivered
	StatePending
	StateReceiptSent
	StateRejected
)

var stateNames = [...]string{
	"received", "parsed", "sender_resolved", "recipient_authorized",
	"classified", "delivered", "pending", "receipt_sent", "rejected",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Outcome is the terminal result of routing one payload.
type Outcome struct {
	State     State
	MessageID string
	Status    types.DeliveryStatus
	Verdict   safety.Verdict
	// Err is the rejection cause, or ErrRecipientUnreachable for a pending
	// delivery.
	Err error
	// PersistErr is set when a paid sender's message could not be recorded.
	PersistErr error
	// Acknowledged reports whether the receipt or rejection reached the sender.
	Acknowledged bool
}

// Sender delivers encoded frames to live connections by identity.
type Sender interface {
	Send(identity string, frame []byte) bool
}

// Classifier screens message text by sender role.
type Classifier interface {
	Classify(role types.Role, text string) safety.Verdict
}

// Recorder persists message references for paid senders.
type Recorder interface {
	Record(ctx context.Context, messageID, sender, recipient, bodyRef string) (types.PersistedMessage, error)
}

// Metrics receives routing observations.
type Metrics interface {
	ObserveRouted(status string, elapsed time.Duration)
	ObserveRejected(reason string, elapsed time.Duration)
	IncrementSafetyFlag(kind string)
	IncrementPersistenceFailures()
}

// Deps are the collaborators a Router needs. Recorder and Metrics are optional.
type Deps struct {
	Sender     Sender
	Directory  interfaces.Directory
	Classifier Classifier
	Alerter    alert.Alerter
	Recorder   Recorder
	Metrics    Metrics
	Logger     *slog.Logger
	// PersistTimeout bounds a paid sender's persistence step.
	PersistTimeout time.Duration
}

// Router holds no per-message state; Route is safe for concurrent use by
// many connection workers.
type Router struct {
	sender         Sender
	directory      interfaces.Directory
	classifier     Classifier
	alerter        alert.Alerter
	recorder       Recorder
	metrics        Metrics
	logger         *slog.Logger
	persistTimeout time.Duration
	now            func() time.Time
	newID          func() string
}

// New creates a router from deps.
func New(deps Deps) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := deps.PersistTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Router{
		sender:         deps.Sender,
		directory:      deps.Directory,
		classifier:     deps.Classifier,
		alerter:        deps.Alerter,
		recorder:       deps.Recorder,
		metrics:        deps.Metrics,
		logger:         logger.With("component", "router"),
		persistTimeout: timeout,
		now:            time.Now,
		newID:          uuid.NewString,
	}
}

// Route runs one raw payload from sender to a terminal state. Rejections
// are written back to the sender; they are not returned as Go errors.
func (r *Router) Route(ctx context.Context, sender types.Identity, raw []byte) Outcome {
	start := r.now()

	// Parsed
	in, err := r.parse(raw)
	if err != nil {
		return r.reject(sender, in.MessageID, start, reasonMalformed, textInvalidFormat, err)
	}

	// SenderResolved
	from, err := r.directory.ResolveParticipant(ctx, sender.UserID)
	if err != nil {
		if !errors.Is(err, interfaces.ErrNotFound) {
			r.logger.ErrorContext(ctx, "sender lookup failed", "user_id", sender.UserID, "error", err)
		}
		return r.reject(sender, in.MessageID, start, reasonUnknown, textUnknownSender, fmt.Errorf("%w: %w", ErrUnknownSender, err))
	}

	// RecipientAuthorized
	to, err := r.authorize(ctx, from, in.RecipientUserID)
	if err != nil {
		return r.reject(sender, in.MessageID, start, reasonInvalidTarget, textInvalidTarget, err)
	}

	// Classified
	env := types.Envelope{
		MessageID:       in.MessageID,
		SenderUserID:    from.UserID,
		SenderName:      from.DisplayName(),
		RecipientUserID: to.UserID,
		CampusID:        from.CampusID,
		Timestamp:       in.Timestamp,
		Message:         in.Message,
		Type:            in.Type,
		SenderRole:      from.Role,
	}
	verdict := r.classifier.Classify(from.Role, in.Message)
	env = r.annotate(ctx, env, verdict)

	// Delivered | Pending
	out := Outcome{MessageID: env.MessageID, Verdict: verdict}
	frame, err := json.Marshal(env)
	if err == nil && r.sender.Send(to.UserID, frame) {
		out.State, out.Status = StateDelivered, types.StatusDelivered
	} else {
		out.State, out.Status = StatePending, types.StatusPending
		out.Err = ErrRecipientUnreachable
		r.logger.InfoContext(ctx, "recipient not connected", "user_id", from.UserID, "recipient_id", to.UserID, "message_id", env.MessageID)
	}

	if sender.Paid {
		out.PersistErr = r.persist(ctx, env)
	}

	// ReceiptSent
	receipt := types.Receipt{
		Type:      types.ReceiptType,
		MessageID: env.MessageID,
		Status:    out.Status,
		Timestamp: r.stamp(),
	}
	var problems []string
	if out.Status == types.StatusPending {
		problems = append(problems, textNotConnected)
	}
	if out.PersistErr != nil {
		problems = append(problems, textNotPersisted)
	}
	receipt.Error = strings.Join(problems, "; ")

	out.Acknowledged = r.reply(sender.UserID, receipt)
	out.State = StateReceiptSent
	if r.metrics != nil {
		r.metrics.ObserveRouted(string(out.Status), r.now().Sub(start))
	}
	r.logger.DebugContext(ctx, "message routed",
		"user_id", from.UserID, "recipient_id", to.UserID, "message_id", env.MessageID, "status", out.Status)
	return out
}

// parse decodes and validates the payload, filling defaults. The returned
// message always carries a message id, even on error.
func (r *Router) parse(raw []byte) (types.InboundMessage, error) {
	var in types.InboundMessage
	decodeErr := json.Unmarshal(raw, &in)
	if decodeErr != nil {
		in = types.InboundMessage{}
	}
	if in.MessageID == "" {
		in.MessageID = r.newID()
	}
	if decodeErr != nil {
		return in, fmt.Errorf("%w: %w", ErrMalformedPayload, decodeErr)
	}
	if err := in.Validate(); err != nil {
		return in, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if in.Timestamp == "" {
		in.Timestamp = r.stamp()
	}
	if in.Type == "" {
		in.Type = types.DefaultMessageType
	}
	return in, nil
}

// authorize enforces the campus pairing rule: counselors reach students and
// students reach counselors, both within the sender's campus.
func (r *Router) authorize(ctx context.Context, from types.Participant, recipientID string) (types.Participant, error) {
	var want types.Role
	switch from.Role {
	case types.RoleCounselor:
		want = types.RoleStudent
	case types.RoleStudent:
		want = types.RoleCounselor
	default:
		return types.Participant{}, fmt.Errorf("%w: sender role %q", ErrUnauthorizedRecipient, from.Role)
	}
	if recipientID == "" {
		return types.Participant{}, fmt.Errorf("%w: empty recipient", ErrUnauthorizedRecipient)
	}
	if !types.IsValidUserID(recipientID) {
		return types.Participant{}, fmt.Errorf("%w: %w", ErrUnauthorizedRecipient, types.ErrInvalidUserID)
	}

	to, err := r.directory.LookupRecipient(ctx, want, recipientID, from.CampusID)
	if err != nil {
		if !errors.Is(err, interfaces.ErrNotFound) {
			r.logger.ErrorContext(ctx, "recipient lookup failed", "recipient_id", recipientID, "error", err)
		}
		return types.Participant{}, fmt.Errorf("%w: %w", ErrUnauthorizedRecipient, err)
	}
	return to, nil
}

// annotate applies the verdict to a copy of env and escalates it.
func (r *Router) annotate(ctx context.Context, env types.Envelope, v safety.Verdict) types.Envelope {
	a := alert.Alert{
		SenderID:    env.SenderUserID,
		RecipientID: env.RecipientUserID,
		CampusID:    env.CampusID,
		MessageID:   env.MessageID,
		Kind:        v.MisconductType,
		Phrase:      v.Phrase,
	}
	switch {
	case v.Emergency:
		env = env.WithEmergency()
		r.alerter.Emergency(ctx, a)
		r.countFlag("emergency")
	case v.Flagged():
		env = env.WithMisconduct(v.MisconductType)
		r.alerter.Misconduct(ctx, a)
		r.countFlag(v.MisconductType)
	}
	return env
}

func (r *Router) persist(ctx context.Context, env types.Envelope) error {
	if r.recorder == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.persistTimeout)
	defer cancel()

	if _, err := r.recorder.Record(ctx, env.MessageID, env.SenderUserID, env.RecipientUserID, persistence.BodyRef(env.Message)); err != nil {
		r.logger.ErrorContext(ctx, "persist message failed", "user_id", env.SenderUserID, "message_id", env.MessageID, "error", err)
		if r.metrics != nil {
			r.metrics.IncrementPersistenceFailures()
		}
		return err
	}
	return nil
}

func (r *Router) reject(sender types.Identity, messageID string, start time.Time, reason, text string, cause error) Outcome {
	r.logger.Warn("message rejected", "user_id", sender.UserID, "message_id", messageID, "reason", reason, "error", cause)
	acked := r.reply(sender.UserID, types.Rejection{Error: text, MessageID: messageID})
	if r.metrics != nil {
		r.metrics.ObserveRejected(reason, r.now().Sub(start))
	}
	return Outcome{State: StateRejected, MessageID: messageID, Err: cause, Acknowledged: acked}
}

func (r *Router) reply(userID string, v any) bool {
	frame, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return r.sender.Send(userID, frame)
}

func (r *Router) countFlag(kind string) {
	if r.metrics != nil {
		r.metrics.IncrementSafetyFlag(kind)
	}
}

func (r *Router) stamp() string {
	return r.now().UTC().Format(time.RFC3339Nano)
}
