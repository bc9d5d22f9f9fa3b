package a2a

import (
	"fmt"
	"slices"
)

// Capability tags the kinds of work an agent advertises. The pipeline
// stages dispatch on these tags, so the set below is what the coordinator
// knows how to sequence; integrators may register agents with additional
// tags for their own routing.
type Capability string

const (
	CapabilityValidateData Capability = "validate-data"
	CapabilityAnalyzeRisk  Capability = "analyze-risk"
	CapabilityRecommend    Capability = "generate-recommendation"
	CapabilityAggregate    Capability = "aggregate-results"
)

func (c Capability) String() string { return string(c) }

// Security schemes accepted at registration.
const (
	SecuritySchemeNone   = "none"
	SecuritySchemeBearer = "bearer"
)

// SecurityScheme declares how an agent authenticates to the router. With
// the bearer scheme the token is presented at registration and verified
// against the router's token authority.
type SecurityScheme struct {
	Scheme string `json:"scheme"`
	Token  string `json:"token,omitempty"`
}

// AgentCard is the registration document an agent presents to the router:
// identity, advertised capabilities, reachability and security scheme.
type AgentCard struct {
	AgentID      string         `json:"agentId"`
	Capabilities []Capability   `json:"capabilities"`
	Endpoint     string         `json:"endpoint,omitempty"`
	Security     SecurityScheme `json:"securityScheme"`
}

// NewAgentCard builds a card with the none security scheme.
func NewAgentCard(agentID string, capabilities ...Capability) *AgentCard {
	return &AgentCard{
		AgentID:      agentID,
		Capabilities: capabilities,
		Security:     SecurityScheme{Scheme: SecuritySchemeNone},
	}
}

// WithEndpoint records where the agent can be reached. Returns the card
// for chaining.
func (c *AgentCard) WithEndpoint(endpoint string) *AgentCard {
	c.Endpoint = endpoint
	return c
}

// WithBearerToken switches the card to bearer auth carrying the given
// token. Returns the card for chaining.
func (c *AgentCard) WithBearerToken(token string) *AgentCard {
	c.Security = SecurityScheme{Scheme: SecuritySchemeBearer, Token: token}
	return c
}

// HasCapability reports whether the card advertises the tag.
func (c *AgentCard) HasCapability(tag Capability) bool {
	return slices.Contains(c.Capabilities, tag)
}

// Validate checks the card is registrable. Empty capability sets are
// allowed; such agents are reachable directly but never match a broadcast
// filter.
func (c *AgentCard) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil card", ErrInvalidCard)
	}
	if c.AgentID == "" {
		return fmt.Errorf("%w: missing agent id", ErrInvalidCard)
	}
	for i, cap := range c.Capabilities {
		if cap == "" {
			return fmt.Errorf("%w: empty capability at index %d", ErrInvalidCard, i)
		}
	}
	switch c.Security.Scheme {
	case SecuritySchemeNone, "":
	case SecuritySchemeBearer:
		if c.Security.Token == "" {
			return fmt.Errorf("%w: bearer scheme without token", ErrInvalidCard)
		}
	default:
		return fmt.Errorf("%w: unknown security scheme %q", ErrInvalidCard, c.Security.Scheme)
	}
	return nil
}

// Clone returns an independent copy of the card.
func (c *AgentCard) Clone() *AgentCard {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Capabilities = append([]Capability(nil), c.Capabilities...)
	return &cp
}
