package authkit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	// DefaultFitnessAuthURL is Strava's authorization endpoint.
	DefaultFitnessAuthURL = "https://www.strava.com/oauth/authorize"
	// DefaultFitnessTokenURL is Strava's token endpoint.
	DefaultFitnessTokenURL = "https://www.strava.com/oauth/token"
)

// Strava expects comma-separated scopes in a single value.
var defaultFitnessScopes = []string{"read,activity:read_all"}

// FitnessConfig describes the fitness provider client registration.
type FitnessConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
}

// FitnessExchanger redeems fitness-provider authorization codes into link credentials.
type FitnessExchanger struct {
	oauthConfig *oauth2.Config
	now         func() time.Time
}

// NewFitnessExchanger builds an exchanger for the fitness provider.
func NewFitnessExchanger(configuration FitnessConfig) (*FitnessExchanger, error) {
	if strings.TrimSpace(configuration.ClientID) == "" || strings.TrimSpace(configuration.ClientSecret) == "" {
		return nil, fmt.Errorf("fitness_exchanger.new: %w", errMissingClientConfig)
	}
	authURL := configuration.AuthURL
	if authURL == "" {
		authURL = DefaultFitnessAuthURL
	}
	tokenURL := configuration.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultFitnessTokenURL
	}
	return &FitnessExchanger{
		oauthConfig: &oauth2.Config{
			ClientID:     configuration.ClientID,
			ClientSecret: configuration.ClientSecret,
			RedirectURL:  configuration.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: defaultFitnessScopes,
		},
		now: time.Now,
	}, nil
}

// AuthCodeURL builds the fitness consent URL carrying the local user reference as state.
func (exchanger *FitnessExchanger) AuthCodeURL(localUserRef string) string {
	return exchanger.oauthConfig.AuthCodeURL(localUserRef, oauth2.SetAuthURLParam("approval_prompt", "auto"))
}

// ExchangeCode posts the code to the token endpoint and extracts the linked account.
func (exchanger *FitnessExchanger) ExchangeCode(ctx context.Context, code string) (SecondaryLink, error) {
	if strings.TrimSpace(code) == "" {
		return SecondaryLink{}, fmt.Errorf("fitness_exchanger.exchange_code: %w", ErrMissingInput)
	}
	token, err := exchanger.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return SecondaryLink{}, classifyProviderError("fitness_exchanger.exchange_code", err)
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return SecondaryLink{}, fmt.Errorf("fitness_exchanger.exchange_code: %w: no access_token", ErrIncompleteBundle)
	}
	externalAccountID := extractAthleteID(token)
	if externalAccountID == "" {
		return SecondaryLink{}, fmt.Errorf("fitness_exchanger.exchange_code: %w: no athlete", ErrIncompleteBundle)
	}
	return SecondaryLink{
		AccessToken:       token.AccessToken,
		RefreshToken:      token.RefreshToken,
		ExternalAccountID: externalAccountID,
		LinkedAt:          exchanger.now().UTC(),
	}, nil
}

// extractAthleteID reads the athlete id Strava embeds next to the tokens.
func extractAthleteID(token *oauth2.Token) string {
	athlete, ok := token.Extra("athlete").(map[string]interface{})
	if !ok {
		return ""
	}
	switch value := athlete["id"].(type) {
	case float64:
		return strconv.FormatInt(int64(value), 10)
	case string:
		return value
	default:
		return ""
	}
}
