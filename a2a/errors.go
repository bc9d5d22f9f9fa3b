package a2a

import "errors"

// Envelope construction and validation errors.
var (
	// ErrInvalidMessage indicates the envelope is structurally invalid.
	ErrInvalidMessage = errors.New("a2a: invalid message")

	// ErrInvalidMessageType indicates an unknown message type.
	ErrInvalidMessageType = errors.New("a2a: invalid message type")

	// ErrEmptySender indicates the sender field is missing.
	ErrEmptySender = errors.New("a2a: empty sender")

	// ErrEmptyRecipients indicates a direct message with no recipients.
	ErrEmptyRecipients = errors.New("a2a: empty recipients for non-broadcast message")

	// ErrNoParts indicates the envelope carries no parts.
	ErrNoParts = errors.New("a2a: message has no parts")

	// ErrMissingCorrelation indicates a RESPONSE without a correlation id.
	ErrMissingCorrelation = errors.New("a2a: response missing correlation id")

	// ErrExpired indicates the envelope is past its expiry. Distinct from
	// validation: an expired message was well-formed when constructed.
	ErrExpired = errors.New("a2a: message expired")
)

// Part and content handler errors.
var (
	// ErrUnsupportedContentType indicates no handler is registered for the
	// part's content type.
	ErrUnsupportedContentType = errors.New("a2a: unsupported content type")

	// ErrInvalidPayload indicates the part payload failed its content-type
	// validator.
	ErrInvalidPayload = errors.New("a2a: invalid part payload")

	// ErrHandlerExists indicates a handler is already registered for the
	// content type.
	ErrHandlerExists = errors.New("a2a: content handler already registered")
)

// Card and auth errors.
var (
	// ErrInvalidCard indicates an agent card that cannot be registered.
	ErrInvalidCard = errors.New("a2a: invalid agent card")

	// ErrAuthFailed indicates registration token verification failed.
	ErrAuthFailed = errors.New("a2a: authentication failed")
)
