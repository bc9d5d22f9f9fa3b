package a2a

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType discriminates the four envelope kinds.
type MessageType string

const (
	// MessageTypeRequest expects a correlated RESPONSE.
	MessageTypeRequest MessageType = "REQUEST"

	// MessageTypeResponse answers a prior REQUEST via CorrelationID.
	MessageTypeResponse MessageType = "RESPONSE"

	// MessageTypeNotification is one-way and never correlated.
	MessageTypeNotification MessageType = "NOTIFICATION"

	// MessageTypeHeartbeat signals liveness to the router.
	MessageTypeHeartbeat MessageType = "HEARTBEAT"
)

// Valid reports whether t is one of the defined message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeRequest, MessageTypeResponse, MessageTypeNotification, MessageTypeHeartbeat:
		return true
	}
	return false
}

// Priority orders delivery preference. Higher values are more urgent.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Valid reports whether p is within the defined range.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Message is the envelope exchanged between agents. Recipients preserve
// insertion order; Parts preserve construction order. A nil ExpiresAt means
// the message never expires.
type Message struct {
	ID            string
	CorrelationID string
	Sender        string
	Recipients    []string
	Type          MessageType
	Priority      Priority
	CreatedAt     time.Time
	ExpiresAt     *time.Time
	Parts         []Part
}

type messageOptions struct {
	priority      Priority
	ttl           time.Duration
	correlationID string
	registry      *Registry
}

// MessageOption customizes envelope construction.
type MessageOption func(*messageOptions)

// WithPriority sets the delivery priority. Default is PriorityNormal.
func WithPriority(p Priority) MessageOption {
	return func(o *messageOptions) { o.priority = p }
}

// WithTTL sets an expiry relative to creation time. Zero means no expiry.
func WithTTL(ttl time.Duration) MessageOption {
	return func(o *messageOptions) { o.ttl = ttl }
}

// WithCorrelationID links the message to a prior REQUEST. Required for
// MessageTypeResponse.
func WithCorrelationID(id string) MessageOption {
	return func(o *messageOptions) { o.correlationID = id }
}

// WithRegistry validates parts against a custom registry instead of the
// package default.
func WithRegistry(reg *Registry) MessageOption {
	return func(o *messageOptions) { o.registry = reg }
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the shared registry holding the built-in content
// handlers. Handlers registered here apply to every caller that does not
// supply its own registry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// NewMessage constructs a validated direct message. Every part is checked
// against its content handler, so a message that constructs successfully
// will also serialize successfully.
func NewMessage(sender string, recipients []string, msgType MessageType, parts []Part, opts ...MessageOption) (*Message, error) {
	o := messageOptions{priority: PriorityNormal}
	for _, opt := range opts {
		opt(&o)
	}
	if len(recipients) == 0 {
		return nil, ErrEmptyRecipients
	}
	return build(sender, recipients, msgType, parts, o)
}

// NewBroadcast constructs a validated message without recipients, for
// delivery through the router's broadcast path. Recipient resolution
// happens at send time from the registered agent set.
func NewBroadcast(sender string, msgType MessageType, parts []Part, opts ...MessageOption) (*Message, error) {
	o := messageOptions{priority: PriorityNormal}
	for _, opt := range opts {
		opt(&o)
	}
	return build(sender, nil, msgType, parts, o)
}

func build(sender string, recipients []string, msgType MessageType, parts []Part, o messageOptions) (*Message, error) {
	if sender == "" {
		return nil, ErrEmptySender
	}
	if !msgType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMessageType, string(msgType))
	}
	if !o.priority.Valid() {
		return nil, fmt.Errorf("%w: priority out of range: %d", ErrInvalidMessage, int(o.priority))
	}
	if msgType == MessageTypeResponse && o.correlationID == "" {
		return nil, ErrMissingCorrelation
	}
	if len(parts) == 0 {
		return nil, ErrNoParts
	}
	if o.ttl < 0 {
		return nil, fmt.Errorf("%w: negative ttl", ErrInvalidMessage)
	}

	reg := o.registry
	if reg == nil {
		reg = defaultRegistry
	}
	for i, p := range parts {
		if err := p.Validate(reg); err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
	}

	now := time.Now().UTC()
	m := &Message{
		ID:            uuid.New().String(),
		CorrelationID: o.correlationID,
		Sender:        sender,
		Recipients:    append([]string(nil), recipients...),
		Type:          msgType,
		Priority:      o.priority,
		CreatedAt:     now,
		Parts:         append([]Part(nil), parts...),
	}
	if o.ttl > 0 {
		exp := now.Add(o.ttl)
		m.ExpiresAt = &exp
	}
	return m, nil
}

// NewHeartbeat constructs a liveness message addressed to a single
// recipient, typically the router's monitor identity.
func NewHeartbeat(sender, recipient string) (*Message, error) {
	return NewMessage(sender, []string{recipient}, MessageTypeHeartbeat,
		[]Part{DataPart(map[string]any{"status": "alive"})})
}

// Reply constructs a RESPONSE to m, addressed back to its sender and
// correlated by m's id.
func (m *Message) Reply(from string, parts []Part, opts ...MessageOption) (*Message, error) {
	opts = append(opts, WithCorrelationID(m.ID))
	return NewMessage(from, []string{m.Sender}, MessageTypeResponse, parts, opts...)
}

// IsExpired reports whether the message is past its expiry at the given
// instant. Messages without an expiry never expire.
func (m *Message) IsExpired(now time.Time) bool {
	return m.ExpiresAt != nil && now.After(*m.ExpiresAt)
}

// Validate re-checks the structural envelope invariants. Construction
// already enforces these; Validate exists for messages decoded off the
// wire or assembled by hand.
func (m *Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidMessage)
	}
	if m.Sender == "" {
		return ErrEmptySender
	}
	if !m.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMessageType, string(m.Type))
	}
	if !m.Priority.Valid() {
		return fmt.Errorf("%w: priority out of range: %d", ErrInvalidMessage, int(m.Priority))
	}
	if m.Type == MessageTypeResponse && m.CorrelationID == "" {
		return ErrMissingCorrelation
	}
	if len(m.Parts) == 0 {
		return ErrNoParts
	}
	if m.CreatedAt.IsZero() {
		return fmt.Errorf("%w: missing createdAt", ErrInvalidMessage)
	}
	if m.ExpiresAt != nil && !m.ExpiresAt.After(m.CreatedAt) {
		return fmt.Errorf("%w: expiresAt not after createdAt", ErrInvalidMessage)
	}
	return nil
}

// ValidateForRoute checks the invariants the router enforces before
// attempting delivery of a direct message. Broadcast bypasses the
// recipient requirement.
func (m *Message) ValidateForRoute() error {
	if err := m.Validate(); err != nil {
		return err
	}
	if len(m.Recipients) == 0 {
		return ErrEmptyRecipients
	}
	return nil
}
