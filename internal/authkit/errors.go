package authkit

import "errors"

var (
	// ErrMissingInput indicates the caller omitted a required value.
	ErrMissingInput = errors.New("auth.missing_input")
	// ErrExchangeRejected indicates the provider refused the code or refresh token.
	ErrExchangeRejected = errors.New("auth.exchange_rejected")
	// ErrIncompleteBundle indicates the provider answered without the credential we need downstream.
	ErrIncompleteBundle = errors.New("auth.incomplete_bundle")
	// ErrProviderUnavailable indicates the provider could not be reached.
	ErrProviderUnavailable = errors.New("auth.provider_unavailable")
	// ErrTokenInvalid indicates the identity token is invalid or expired.
	ErrTokenInvalid = errors.New("auth.token_invalid")
	// ErrStoreUnavailable indicates the profile store could not serve the request.
	ErrStoreUnavailable = errors.New("profile_store.unavailable")
	// ErrProfileNotFound indicates no profile exists for the requested user id.
	ErrProfileNotFound = errors.New("profile_store.not_found")
)
