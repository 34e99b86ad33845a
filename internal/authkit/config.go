package authkit

import "time"

// ServerConfig configures providers, stores, and request handling.
type ServerConfig struct {
	GoogleClientID         string
	GoogleClientSecret     string
	GoogleRedirectURL      string
	IdentityIssuer         string
	FitnessClientID        string
	FitnessClientSecret    string
	FitnessRedirectURL     string
	FitnessAuthURL         string
	FitnessTokenURL        string
	FitnessSuccessRedirect string
	RequestTimeout         time.Duration
}

// FitnessEnabled reports whether the fitness linking flow is configured.
func (configuration ServerConfig) FitnessEnabled() bool {
	return configuration.FitnessClientID != "" && configuration.FitnessClientSecret != "" && configuration.FitnessRedirectURL != ""
}
