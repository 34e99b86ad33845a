package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

var errMissingClientConfig = errors.New("exchanger.missing_client_config")

// ExchangerConfig carries the OAuth client registration used for code and refresh exchanges.
type ExchangerConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Endpoint defaults to Google's OAuth endpoint when TokenURL is empty.
	Endpoint oauth2.Endpoint
	Scopes   []string
}

// CredentialExchanger turns authorization codes and refresh tokens into credential bundles.
type CredentialExchanger struct {
	oauthConfig *oauth2.Config
}

// NewCredentialExchanger validates the client registration and builds an exchanger.
func NewCredentialExchanger(configuration ExchangerConfig) (*CredentialExchanger, error) {
	if strings.TrimSpace(configuration.ClientID) == "" || strings.TrimSpace(configuration.ClientSecret) == "" {
		return nil, fmt.Errorf("exchanger.new: %w", errMissingClientConfig)
	}
	endpoint := configuration.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	scopes := configuration.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}
	return &CredentialExchanger{
		oauthConfig: &oauth2.Config{
			ClientID:     configuration.ClientID,
			ClientSecret: configuration.ClientSecret,
			RedirectURL:  configuration.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
	}, nil
}

// AuthCodeURL builds the consent URL; offline access is requested so a refresh token is issued.
func (exchanger *CredentialExchanger) AuthCodeURL(state string) string {
	return exchanger.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeCode redeems a one-time authorization code.
func (exchanger *CredentialExchanger) ExchangeCode(ctx context.Context, code string) (CredentialBundle, error) {
	if strings.TrimSpace(code) == "" {
		return CredentialBundle{}, fmt.Errorf("exchanger.exchange_code: %w", ErrMissingInput)
	}
	token, err := exchanger.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return CredentialBundle{}, classifyProviderError("exchanger.exchange_code", err)
	}
	return bundleFromToken("exchanger.exchange_code", token, "")
}

// Refresh renews the credential bundle using a previously issued refresh token.
func (exchanger *CredentialExchanger) Refresh(ctx context.Context, refreshToken string) (CredentialBundle, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return CredentialBundle{}, fmt.Errorf("exchanger.refresh: %w", ErrMissingInput)
	}
	source := exchanger.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return CredentialBundle{}, classifyProviderError("exchanger.refresh", err)
	}
	return bundleFromToken("exchanger.refresh", token, refreshToken)
}

func bundleFromToken(operation string, token *oauth2.Token, previousRefreshToken string) (CredentialBundle, error) {
	if token == nil {
		return CredentialBundle{}, fmt.Errorf("%s: %w", operation, ErrIncompleteBundle)
	}
	identityToken, _ := token.Extra("id_token").(string)
	if strings.TrimSpace(identityToken) == "" {
		return CredentialBundle{}, fmt.Errorf("%s: %w: no id_token", operation, ErrIncompleteBundle)
	}
	refreshToken := token.RefreshToken
	if refreshToken == "" {
		refreshToken = previousRefreshToken
	}
	return CredentialBundle{
		IdentityToken: identityToken,
		AccessToken:   token.AccessToken,
		RefreshToken:  refreshToken,
		Expiry:        token.Expiry,
	}, nil
}

// oauth2 reports a successful token response without an access_token as a plain error.
const missingAccessTokenMessage = "server response missing access_token"

// classifyProviderError maps oauth2 failures onto the gateway error taxonomy.
func classifyProviderError(operation string, err error) error {
	if strings.Contains(err.Error(), missingAccessTokenMessage) {
		return fmt.Errorf("%s: %w: no access_token", operation, ErrIncompleteBundle)
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 500 {
			return fmt.Errorf("%s: %w: status %d", operation, ErrProviderUnavailable, retrieveErr.Response.StatusCode)
		}
		if retrieveErr.ErrorCode != "" {
			return fmt.Errorf("%s: %w: %s", operation, ErrExchangeRejected, retrieveErr.ErrorCode)
		}
		return fmt.Errorf("%s: %w", operation, ErrExchangeRejected)
	}
	return fmt.Errorf("%s: %w: %v", operation, ErrProviderUnavailable, err)
}
