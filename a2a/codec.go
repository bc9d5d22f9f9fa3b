package a2a

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire layout: a header object carrying the envelope fields and an ordered
// parts array of {contentType, payload} pairs. Part payloads are encoded by
// their content handlers, so the codec itself never interprets them.
type wireMessage struct {
	Header wireHeader `json:"header"`
	Parts  []wirePart `json:"parts"`
}

type wireHeader struct {
	ID            string     `json:"id"`
	CorrelationID string     `json:"correlationId,omitempty"`
	Sender        string     `json:"sender"`
	Recipients    []string   `json:"recipients,omitempty"`
	Type          string     `json:"type"`
	Priority      int        `json:"priority"`
	CreatedAt     time.Time  `json:"createdAt"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

type wirePart struct {
	ContentType string          `json:"contentType"`
	Payload     json.RawMessage `json:"payload"`
}

// Codec translates messages to and from the JSON wire format using a
// content handler registry. A Codec is safe for concurrent use.
type Codec struct {
	reg *Registry
}

// NewCodec builds a codec over the given registry. A nil registry selects
// the package default.
func NewCodec(reg *Registry) *Codec {
	if reg == nil {
		reg = defaultRegistry
	}
	return &Codec{reg: reg}
}

var defaultCodec = NewCodec(nil)

// Marshal encodes a message with the default codec.
func Marshal(m *Message) ([]byte, error) {
	return defaultCodec.Marshal(m)
}

// Unmarshal decodes a message with the default codec.
func Unmarshal(data []byte) (*Message, error) {
	return defaultCodec.Unmarshal(data)
}

// Marshal validates the envelope and encodes it. Encoding a message whose
// parts were validated at construction time cannot fail on payload
// serialization, only on unregistered content types.
func (c *Codec) Marshal(m *Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	wm := wireMessage{
		Header: wireHeader{
			ID:            m.ID,
			CorrelationID: m.CorrelationID,
			Sender:        m.Sender,
			Recipients:    m.Recipients,
			Type:          string(m.Type),
			Priority:      int(m.Priority),
			CreatedAt:     m.CreatedAt,
			ExpiresAt:     m.ExpiresAt,
		},
		Parts: make([]wirePart, 0, len(m.Parts)),
	}
	for i, p := range m.Parts {
		h, ok := c.reg.Handler(p.ContentType)
		if !ok {
			return nil, fmt.Errorf("part %d: %w: %s", i, ErrUnsupportedContentType, p.ContentType)
		}
		payload, err := h.Marshal(p.Payload)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
		wm.Parts = append(wm.Parts, wirePart{ContentType: p.ContentType, Payload: payload})
	}
	return json.Marshal(wm)
}

// Unmarshal decodes wire bytes into a validated message. Timestamps are
// normalized to UTC. Expired messages decode successfully; expiry is a
// routing decision, not a codec error.
func (c *Codec) Unmarshal(data []byte) (*Message, error) {
	var wm wireMessage
	if err := json.Unmarshal(data, &wm); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	m := &Message{
		ID:            wm.Header.ID,
		CorrelationID: wm.Header.CorrelationID,
		Sender:        wm.Header.Sender,
		Recipients:    wm.Header.Recipients,
		Type:          MessageType(wm.Header.Type),
		Priority:      Priority(wm.Header.Priority),
		CreatedAt:     wm.Header.CreatedAt.UTC(),
		Parts:         make([]Part, 0, len(wm.Parts)),
	}
	if wm.Header.ExpiresAt != nil {
		exp := wm.Header.ExpiresAt.UTC()
		m.ExpiresAt = &exp
	}
	for i, wp := range wm.Parts {
		h, ok := c.reg.Handler(wp.ContentType)
		if !ok {
			return nil, fmt.Errorf("part %d: %w: %s", i, ErrUnsupportedContentType, wp.ContentType)
		}
		payload, err := h.Unmarshal(wp.Payload)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
		m.Parts = append(m.Parts, Part{ContentType: wp.ContentType, Payload: payload})
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Clone deep-copies a message through the wire format, preserving the id.
// Useful when a delivery path must hand independent copies to multiple
// consumers.
func (c *Codec) Clone(m *Message) (*Message, error) {
	data, err := c.Marshal(m)
	if err != nil {
		return nil, err
	}
	return c.Unmarshal(data)
}
