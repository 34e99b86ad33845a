package authkit

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"google.golang.org/api/idtoken"
)

// OIDCTokenValidator validates ID tokens from any issuer that publishes OIDC discovery metadata.
type OIDCTokenValidator struct {
	provider *oidc.Provider
}

// NewOIDCTokenValidator fetches the issuer's discovery document and signing keys location.
func NewOIDCTokenValidator(ctx context.Context, issuerURL string) (*OIDCTokenValidator, error) {
	if strings.TrimSpace(issuerURL) == "" {
		return nil, fmt.Errorf("oidc_validator.new: %w: issuer", ErrMissingInput)
	}
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc_validator.new: %w", err)
	}
	return &OIDCTokenValidator{provider: provider}, nil
}

// Validate verifies signature, issuer, audience, and expiry, and reports the payload in idtoken form.
func (validator *OIDCTokenValidator) Validate(ctx context.Context, token string, audience string) (*idtoken.Payload, error) {
	verifier := validator.provider.Verifier(&oidc.Config{ClientID: audience})
	parsed, err := verifier.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	claims := make(map[string]interface{})
	if claimsErr := parsed.Claims(&claims); claimsErr != nil {
		return nil, claimsErr
	}
	return &idtoken.Payload{
		Issuer:   parsed.Issuer,
		Audience: audience,
		Expires:  parsed.Expiry.Unix(),
		IssuedAt: parsed.IssuedAt.Unix(),
		Subject:  parsed.Subject,
		Claims:   claims,
	}, nil
}
