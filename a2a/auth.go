package a2a

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenAuthority mints and verifies the bearer tokens agents present at
// registration. Tokens are HS256-signed with the agent id as subject, so a
// token minted for one agent cannot register another.
type TokenAuthority struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenAuthority builds an authority over a shared secret. ttl bounds
// the lifetime of minted tokens; zero disables the expiry claim.
func NewTokenAuthority(secret, issuer string, ttl time.Duration) (*TokenAuthority, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: empty secret", ErrAuthFailed)
	}
	return &TokenAuthority{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// Mint issues a registration token for the agent.
func (a *TokenAuthority) Mint(agentID string) (string, error) {
	if agentID == "" {
		return "", fmt.Errorf("%w: empty agent id", ErrAuthFailed)
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": agentID,
		"iat": now.Unix(),
	}
	if a.issuer != "" {
		claims["iss"] = a.issuer
	}
	if a.ttl > 0 {
		claims["exp"] = now.Add(a.ttl).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	return signed, nil
}

// Verify checks that the token is valid, unexpired and minted for the
// given agent.
func (a *TokenAuthority) Verify(tokenString, agentID string) error {
	if tokenString == "" {
		return fmt.Errorf("%w: empty token", ErrAuthFailed)
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return fmt.Errorf("%w: invalid claims", ErrAuthFailed)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return fmt.Errorf("%w: missing subject", ErrAuthFailed)
	}
	if sub != agentID {
		return fmt.Errorf("%w: token subject %q does not match agent %q", ErrAuthFailed, sub, agentID)
	}
	return nil
}

// VerifyCard applies the card's declared scheme: none passes, bearer is
// checked against the authority. A nil authority rejects bearer cards.
func (a *TokenAuthority) VerifyCard(card *AgentCard) error {
	if card.Security.Scheme != SecuritySchemeBearer {
		return nil
	}
	if a == nil {
		return fmt.Errorf("%w: bearer token presented but authority not configured", ErrAuthFailed)
	}
	return a.Verify(card.Security.Token, card.AgentID)
}
