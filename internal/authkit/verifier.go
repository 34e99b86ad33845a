package authkit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/idtoken"
)

// GoogleIssuers lists the issuer values Google places in ID tokens.
var GoogleIssuers = []string{"https://accounts.google.com", "accounts.google.com"}

// TokenValidator checks an ID token signature and audience.
type TokenValidator interface {
	Validate(ctx context.Context, token string, audience string) (*idtoken.Payload, error)
}

// NewGoogleTokenValidator builds a validator backed by Google's published signing keys.
func NewGoogleTokenValidator(ctx context.Context) (TokenValidator, error) {
	return idtoken.NewValidator(ctx)
}

// IdentityVerifier validates identity tokens and extracts canonical claims.
type IdentityVerifier struct {
	validator TokenValidator
	issuers   map[string]struct{}
	logger    *zap.Logger
	now       func() time.Time
}

// NewIdentityVerifier constructs a verifier accepting tokens from the given issuers.
func NewIdentityVerifier(validator TokenValidator, allowedIssuers []string, logger *zap.Logger) (*IdentityVerifier, error) {
	if validator == nil {
		return nil, fmt.Errorf("verifier.new: %w: validator", ErrMissingInput)
	}
	if len(allowedIssuers) == 0 {
		allowedIssuers = GoogleIssuers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	issuers := make(map[string]struct{}, len(allowedIssuers))
	for _, issuer := range allowedIssuers {
		issuers[strings.TrimSpace(issuer)] = struct{}{}
	}
	return &IdentityVerifier{
		validator: validator,
		issuers:   issuers,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Verify validates the token for the audience. Failures never carry validator detail.
func (verifier *IdentityVerifier) Verify(ctx context.Context, identityToken string, audience string) (IdentityClaims, error) {
	if strings.TrimSpace(identityToken) == "" {
		return IdentityClaims{}, fmt.Errorf("verifier.verify: %w", ErrMissingInput)
	}
	payload, validateErr := verifier.validator.Validate(ctx, identityToken, audience)
	if validateErr != nil || payload == nil {
		verifier.logger.Debug("identity token rejected",
			zap.String("code", "verifier.validate"),
			zap.Error(validateErr))
		return IdentityClaims{}, fmt.Errorf("verifier.verify: %w", ErrTokenInvalid)
	}

	issuer := payload.Issuer
	if issuer == "" {
		issuer, _ = payload.Claims["iss"].(string)
	}
	if _, ok := verifier.issuers[issuer]; !ok {
		verifier.logger.Debug("identity token issuer mismatch",
			zap.String("code", "verifier.issuer"),
			zap.String("issuer", issuer))
		return IdentityClaims{}, fmt.Errorf("verifier.verify: %w", ErrTokenInvalid)
	}
	if payload.Audience != "" && payload.Audience != audience {
		verifier.logger.Debug("identity token audience mismatch",
			zap.String("code", "verifier.audience"))
		return IdentityClaims{}, fmt.Errorf("verifier.verify: %w", ErrTokenInvalid)
	}
	if payload.Expires == 0 {
		return IdentityClaims{}, fmt.Errorf("verifier.verify: %w", ErrTokenInvalid)
	}
	expiry := time.Unix(payload.Expires, 0).UTC()
	if !verifier.now().Before(expiry) {
		verifier.logger.Debug("identity token expired",
			zap.String("code", "verifier.expired"),
			zap.Time("expiry", expiry))
		return IdentityClaims{}, fmt.Errorf("verifier.verify: %w", ErrTokenInvalid)
	}

	subject := payload.Subject
	if subject == "" {
		subject, _ = payload.Claims["sub"].(string)
	}
	if strings.TrimSpace(subject) == "" {
		return IdentityClaims{}, fmt.Errorf("verifier.verify: %w", ErrTokenInvalid)
	}

	email, _ := payload.Claims["email"].(string)
	name, _ := payload.Claims["name"].(string)
	picture, _ := payload.Claims["picture"].(string)
	return IdentityClaims{
		Subject:    subject,
		Email:      email,
		Name:       name,
		PictureURL: picture,
		Expiry:     expiry,
	}, nil
}
