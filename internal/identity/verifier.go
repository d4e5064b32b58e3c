package identity

import (
	"context"
	"fmt"

	"google.golang.org/api/idtoken"

	"github.com/ashureev/testcraft/internal/domain"
)

// Claims is a verified identity.
type Claims struct {
	Subject       string
	Email         string
	Name          string
	Picture       string
	EmailVerified bool
}

// Profile returns the profile fields carried by the claims.
func (c Claims) Profile() domain.Profile {
	return domain.Profile{Email: c.Email, Name: c.Name, PictureURL: c.Picture}
}

// Verifier checks an opaque credential and returns the identity it proves.
type Verifier interface {
	Verify(ctx context.Context, credential string) (Claims, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, credential string) (Claims, error)

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, credential string) (Claims, error) {
	return f(ctx, credential)
}

// GoogleVerifier validates Google ID tokens for a single OAuth client.
type GoogleVerifier struct {
	audience string
	validate func(ctx context.Context, token, audience string) (*idtoken.Payload, error)
}

// NewGoogleVerifier creates a verifier for tokens issued to clientID.
func NewGoogleVerifier(clientID string) *GoogleVerifier {
	return &GoogleVerifier{audience: clientID, validate: idtoken.Validate}
}

// Verify validates the ID token signature, expiry and audience.
func (g *GoogleVerifier) Verify(ctx context.Context, credential string) (Claims, error) {
	if credential == "" {
		return Claims{}, fmt.Errorf("%w: empty token", ErrInvalidCredential)
	}
	payload, err := g.validate(ctx, credential, g.audience)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	return claimsFromPayload(payload)
}

func claimsFromPayload(p *idtoken.Payload) (Claims, error) {
	if p == nil || p.Subject == "" {
		return Claims{}, fmt.Errorf("%w: token has no subject", ErrInvalidCredential)
	}
	c := Claims{Subject: p.Subject}
	c.Email, _ = p.Claims["email"].(string)
	c.Name, _ = p.Claims["name"].(string)
	c.Picture, _ = p.Claims["picture"].(string)
	switch v := p.Claims["email_verified"].(type) {
	case bool:
		c.EmailVerified = v
	case string:
		c.EmailVerified = v == "true"
	}
	return c, nil
}
