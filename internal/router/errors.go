package router

import "errors"

// Rejection reasons. Each maps to the error text returned to the sender.
var (
	ErrMalformedPayload      = errors.New("malformed payload")
	ErrUnknownSender         = errors.New("sender not recognized")
	ErrUnauthorizedRecipient = errors.New("recipient not authorized for sender")

	// ErrRecipientUnreachable marks a pending delivery. It is never returned
	// to the sender as a rejection.
	ErrRecipientUnreachable = errors.New("recipient not connected")
)

// Wire texts for rejections and receipts.
const (
	textInvalidFormat   = "Invalid message format"
	textUnknownSender   = "User not recognized"
	textInvalidTarget   = "Invalid recipient"
	textNotConnected    = "Recipient not currently connected"
	textNotPersisted    = "Message could not be saved"
	reasonMalformed     = "malformed"
	reasonUnknown       = "unknown_sender"
	reasonInvalidTarget = "invalid_recipient"
)
